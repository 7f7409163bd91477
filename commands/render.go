package commands

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"library-circulation/library"
	"library-circulation/output"
)

const dateLayout = "2006-01-02 15:04"

func printBooks(books []*library.Book) error {
	if jsonOutput {
		return output.JSON(books)
	}
	if len(books) == 0 {
		output.Muted("No books in library.")
		return nil
	}
	rows := make([][]string, 0, len(books))
	for _, b := range books {
		rows = append(rows, []string{
			b.Key,
			output.Truncate(b.Title, 30),
			output.Truncate(b.Author, 25),
			output.Truncate(b.Genre, 12),
			fmt.Sprintf("%d/%d", b.Available, b.Total),
		})
	}
	output.Table([]string{"Key", "Title", "Author", "Genre", "Available"}, rows)
	return nil
}

func printBook(b *library.Book) error {
	if jsonOutput {
		return output.JSON(b)
	}
	output.Section(b.Title)
	output.Table([]string{"Field", "Value"}, [][]string{
		{"Key", b.Key},
		{"Author", b.Author},
		{"Genre", b.Genre},
		{"Copies", strconv.Itoa(b.Total)},
		{"Available", strconv.Itoa(b.Available)},
		{"Cover", b.CoverURL},
	})
	return nil
}

func printMembers(members []*library.Member) error {
	if jsonOutput {
		return output.JSON(members)
	}
	if len(members) == 0 {
		output.Muted("No members registered.")
		return nil
	}
	rows := make([][]string, 0, len(members))
	for _, m := range members {
		rows = append(rows, []string{m.Key, output.Truncate(m.Name, 30), strconv.Itoa(m.CheckedOut.Len())})
	}
	output.Table([]string{"Key", "Name", "Loans"}, rows)
	return nil
}

func printAccounts(accounts []*library.Account) error {
	if jsonOutput {
		return output.JSON(accounts)
	}
	if len(accounts) == 0 {
		output.Muted("No accounts.")
		return nil
	}
	rows := make([][]string, 0, len(accounts))
	for _, a := range accounts {
		rows = append(rows, []string{a.Username, string(a.Role), dash(a.MemberKey)})
	}
	output.Table([]string{"Username", "Role", "Member"}, rows)
	return nil
}

func printLog(lines []*library.LogLine) error {
	if jsonOutput {
		return output.JSON(lines)
	}
	if len(lines) == 0 {
		output.Muted("No transactions recorded.")
		return nil
	}
	rows := make([][]string, 0, len(lines))
	for _, l := range lines {
		rows = append(rows, []string{
			strconv.FormatInt(l.ID, 10),
			l.OccurredAt.Local().Format(dateLayout),
			string(l.Kind),
			output.Truncate(orKey(l.MemberName, l.MemberKey), 25),
			output.Truncate(orKey(l.BookTitle, l.BookKey), 30),
		})
	}
	output.Table([]string{"ID", "When", "Kind", "Member", "Book"}, rows)
	return nil
}

func printDashboard(d *library.Dashboard) error {
	if jsonOutput {
		return output.JSON(d)
	}
	output.Section("Library overview")
	output.Table([]string{"Titles", "Copies", "Available", "Members"}, [][]string{{
		strconv.Itoa(d.Titles),
		strconv.Itoa(d.TotalCopies),
		strconv.Itoa(d.AvailableCopies),
		strconv.Itoa(d.Members),
	}})
	output.Section("Recent transactions")
	return printLog(d.Recent)
}

func printMemberView(v *library.MemberView) error {
	if jsonOutput {
		return output.JSON(v)
	}
	output.Section(fmt.Sprintf("%s (%s)", v.Member.Name, v.Member.Key))
	if len(v.Loans) == 0 {
		output.Muted("No books checked out.")
	} else {
		rows := make([][]string, 0, len(v.Loans))
		for _, b := range v.Loans {
			rows = append(rows, []string{b.Key, output.Truncate(b.Title, 30), output.Truncate(b.Author, 25)})
		}
		output.Table([]string{"Key", "Title", "Author"}, rows)
	}
	output.Section("History")
	return printLog(v.History)
}

func printTransaction(t *library.Transaction, member, book string) error {
	if jsonOutput {
		return output.JSON(t)
	}
	verb := "checked out to"
	if t.Kind == library.KindReturn {
		verb = "returned by"
	}
	output.Success("Book '%s' %s %s at %s (log #%d)", book, verb, member, t.OccurredAt.Local().Format(time.Kitchen), t.ID)
	return nil
}

func dash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func orKey(name, key string) string {
	if name == "" {
		return key
	}
	return name
}
