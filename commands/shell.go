package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"library-circulation/library"
	"library-circulation/output"
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Sign in once and run commands interactively",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd, true, func(ctx context.Context, s *session) error {
			return runShell(ctx, s, newPrompter(os.Stdin))
		})
	},
}

func init() {
	rootCmd.AddCommand(shellCmd)
}

// prompter reads answers line by line. Secrets are masked on a terminal.
type prompter struct {
	sc  *bufio.Scanner
	fd  int
	tty bool
}

func newPrompter(in io.Reader) *prompter {
	p := &prompter{sc: bufio.NewScanner(in), fd: -1}
	if f, ok := in.(*os.File); ok {
		p.fd = int(f.Fd())
		p.tty = term.IsTerminal(p.fd)
	}
	return p
}

// line prints prompt and returns the next trimmed line; ok is false at EOF.
func (p *prompter) line(prompt string) (string, bool) {
	fmt.Fprint(output.Writer, prompt)
	if !p.sc.Scan() {
		return "", false
	}
	return strings.TrimSpace(p.sc.Text()), true
}

func (p *prompter) secret(prompt string) (string, bool) {
	if !p.tty {
		return p.line(prompt)
	}
	fmt.Fprint(output.Writer, prompt)
	b, err := term.ReadPassword(p.fd)
	fmt.Fprintln(output.Writer)
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(b)), true
}

type shellHandler struct {
	help      string
	adminOnly bool
	fn        func(ctx context.Context, in *prompter, s *session)
}

var shellCommands = map[string]shellHandler{
	"list books":      {"list the catalog", false, handleListBooks},
	"search book":     {"search by key, title, author or genre", false, handleSearchBooks},
	"checkout":        {"check out a book", false, handleCheckout},
	"return":          {"return a book", false, handleReturn},
	"my account":      {"show loans and history", false, handleMyAccount},
	"reset password":  {"change a password", false, handleResetPassword},
	"add book":        {"add a title", true, handleAddBook},
	"update quantity": {"change the number of copies", true, handleUpdateQuantity},
	"remove book":     {"remove a title", true, handleRemoveBook},
	"add member":      {"register a member", true, handleAddMember},
	"remove member":   {"remove a member", true, handleRemoveMember},
	"list members":    {"list members", true, handleListMembers},
	"show member":     {"show a member's loans and history", true, handleShowMember},
	"create account":  {"create a login", true, handleCreateAccount},
	"remove account":  {"remove a login", true, handleRemoveAccount},
	"list accounts":   {"list logins", true, handleListAccounts},
	"history":         {"show recent transactions", true, handleHistory},
	"dashboard":       {"collection totals and recent activity", true, handleDashboard},
	"export":          {"write the loan report to a CSV file", true, handleExport},
}

var shellOrder = []string{
	"list books", "search book", "checkout", "return", "my account", "reset password",
	"add book", "update quantity", "remove book",
	"add member", "remove member", "list members", "show member",
	"create account", "remove account", "list accounts",
	"history", "dashboard", "export",
}

func printShellHelp(who library.Principal) {
	fmt.Fprintln(output.Writer, "Available commands:")
	for _, name := range shellOrder {
		h := shellCommands[name]
		if h.adminOnly && !who.IsAdmin() {
			continue
		}
		fmt.Fprintf(output.Writer, "  %-16s %s\n", name, h.help)
	}
	fmt.Fprintf(output.Writer, "  %-16s %s\n", "help", "show this list")
	fmt.Fprintf(output.Writer, "  %-16s %s\n", "exit", "leave the shell")
}

// runShell signs in and then reads commands until exit or EOF. No store
// transaction is open while it waits for input.
func runShell(ctx context.Context, s *session, in *prompter) error {
	fmt.Fprintln(output.Writer, "Welcome to the Library Circulation shell!")

	for attempt := 0; ; attempt++ {
		name := username
		if name == "" || attempt > 0 {
			var ok bool
			if name, ok = in.line("Username: "); !ok {
				return nil
			}
		}
		secret, ok := in.secret("Password: ")
		if !ok {
			return nil
		}
		who, err := s.lib.Login(ctx, name, secret)
		if err == nil {
			s.who = who
			break
		}
		if !errors.Is(err, library.ErrInvalidCredentials) || attempt == 2 {
			return err
		}
		output.Error("Authentication failed: %v", err)
	}
	output.Success("Signed in as %s (%s)", s.who.Username, s.who.Role)
	printShellHelp(s.who)

	for {
		cmd, ok := in.line("\n> ")
		if !ok {
			return nil
		}
		switch cmd {
		case "":
			continue
		case "exit", "quit":
			fmt.Fprintln(output.Writer, "Goodbye!")
			return nil
		case "help":
			printShellHelp(s.who)
			continue
		}
		h, found := shellCommands[cmd]
		if !found || (h.adminOnly && !s.who.IsAdmin()) {
			fmt.Fprintln(output.Writer, "Unknown command. Type 'help' to list the available commands.")
			continue
		}
		h.fn(ctx, in, s)
	}
}

// memberKey asks for a member key unless the principal is bound to one.
func memberKey(in *prompter, who library.Principal) (string, bool) {
	if !who.IsAdmin() {
		return who.MemberKey, true
	}
	return in.line("Member key: ")
}

func handleListBooks(ctx context.Context, _ *prompter, s *session) {
	books, err := s.lib.ListBooks(ctx, s.who)
	if err != nil {
		output.Error("Error: %v", err)
		return
	}
	printBooks(books) //nolint:errcheck
}

func handleSearchBooks(ctx context.Context, in *prompter, s *session) {
	query, ok := in.line("Query: ")
	if !ok {
		return
	}
	books, err := s.lib.SearchBooks(ctx, s.who, query)
	if err != nil {
		output.Error("Error: %v", err)
		return
	}
	if len(books) == 0 {
		output.Muted("No books found matching '%s'.", query)
		return
	}
	output.Info("Found %d book(s) matching '%s':", len(books), query)
	printBooks(books) //nolint:errcheck
}

func handleCheckout(ctx context.Context, in *prompter, s *session) {
	book, ok := in.line("Book key: ")
	if !ok {
		return
	}
	member, ok := memberKey(in, s.who)
	if !ok {
		return
	}
	t, err := s.lib.Checkout(ctx, s.who, member, book)
	if err != nil {
		output.Error("Error checking out book: %v", err)
		return
	}
	describe(ctx, s, t) //nolint:errcheck
}

func handleReturn(ctx context.Context, in *prompter, s *session) {
	book, ok := in.line("Book key: ")
	if !ok {
		return
	}
	member, ok := memberKey(in, s.who)
	if !ok {
		return
	}
	t, err := s.lib.Return(ctx, s.who, member, book)
	if err != nil {
		output.Error("Error returning book: %v", err)
		return
	}
	describe(ctx, s, t) //nolint:errcheck
}

func handleMyAccount(ctx context.Context, in *prompter, s *session) {
	key := s.who.MemberKey
	if key == "" {
		output.Muted("Account %s is not linked to a member.", s.who.Username)
		return
	}
	showMember(ctx, s, key)
}

func handleShowMember(ctx context.Context, in *prompter, s *session) {
	key, ok := in.line("Member key: ")
	if !ok {
		return
	}
	showMember(ctx, s, key)
}

func showMember(ctx context.Context, s *session, key string) {
	v, err := s.lib.MemberView(ctx, s.who, key)
	if err != nil {
		output.Error("Error: %v", err)
		return
	}
	printMemberView(v) //nolint:errcheck
}

func handleResetPassword(ctx context.Context, in *prompter, s *session) {
	target := s.who.Username
	if s.who.IsAdmin() {
		name, ok := in.line(fmt.Sprintf("Username (empty for %s): ", target))
		if !ok {
			return
		}
		if name != "" {
			target = name
		}
	}
	secret, ok := in.secret(fmt.Sprintf("Enter new password for %s: ", target))
	if !ok {
		return
	}
	if secret == "" {
		output.Error("Error: Password cannot be empty")
		return
	}
	if err := s.lib.ChangePassword(ctx, s.who, target, secret); err != nil {
		output.Error("Error resetting password: %v", err)
		return
	}
	output.Success("Password successfully reset for %s", target)
}

func handleAddBook(ctx context.Context, in *prompter, s *session) {
	var nb library.NewBook
	fields := []struct {
		prompt string
		dst    *string
	}{
		{"Key (ISBN): ", &nb.Key},
		{"Title: ", &nb.Title},
		{"Author: ", &nb.Author},
		{"Genre: ", &nb.Genre},
		{"Cover URL (optional): ", &nb.CoverURL},
	}
	for _, f := range fields {
		v, ok := in.line(f.prompt)
		if !ok {
			return
		}
		*f.dst = v
	}
	total, ok := readInt(in, "Copies: ")
	if !ok {
		return
	}
	nb.Total = total

	b, err := s.lib.AddBook(ctx, s.who, nb)
	if err != nil {
		output.Error("Error adding book: %v", err)
		return
	}
	output.Success("Added '%s' (%s) with %d copies", b.Title, b.Key, b.Total)
}

func handleUpdateQuantity(ctx context.Context, in *prompter, s *session) {
	key, ok := in.line("Book key: ")
	if !ok {
		return
	}
	total, ok := readInt(in, "New total copies: ")
	if !ok {
		return
	}
	b, err := s.lib.UpdateQuantity(ctx, s.who, key, total)
	if err != nil {
		output.Error("Error updating quantity: %v", err)
		return
	}
	output.Success("'%s' now has %d copies, %d available", b.Title, b.Total, b.Available)
}

func handleRemoveBook(ctx context.Context, in *prompter, s *session) {
	key, ok := in.line("Book key: ")
	if !ok {
		return
	}
	retired, err := s.lib.RemoveBook(ctx, s.who, key)
	if err != nil {
		output.Error("Error removing book: %v", err)
		return
	}
	if retired {
		output.Success("Retired %s; its history is kept", key)
		return
	}
	output.Success("Removed %s", key)
}

func handleAddMember(ctx context.Context, in *prompter, s *session) {
	name, ok := in.line("Name: ")
	if !ok {
		return
	}
	m, err := s.lib.RegisterMember(ctx, s.who, name)
	if err != nil {
		output.Error("Error: %v", err)
		return
	}
	output.Success("Added member '%s' with key %s", m.Name, m.Key)
}

func handleRemoveMember(ctx context.Context, in *prompter, s *session) {
	key, ok := in.line("Member key: ")
	if !ok {
		return
	}
	retired, err := s.lib.RemoveMember(ctx, s.who, key)
	if err != nil {
		output.Error("Error removing member: %v", err)
		return
	}
	if retired {
		output.Success("Retired member %s; their history is kept", key)
		return
	}
	output.Success("Removed member %s", key)
}

func handleListMembers(ctx context.Context, _ *prompter, s *session) {
	members, err := s.lib.ListMembers(ctx, s.who)
	if err != nil {
		output.Error("Error: %v", err)
		return
	}
	printMembers(members) //nolint:errcheck
}

func handleCreateAccount(ctx context.Context, in *prompter, s *session) {
	name, ok := in.line("Username: ")
	if !ok {
		return
	}
	role, ok := in.line("Role (admin/member): ")
	if !ok {
		return
	}
	na := library.NewAccount{Username: name, Role: library.Role(role)}
	if na.Role == library.RoleMember {
		unlinked, err := s.lib.UnlinkedMembers(ctx, s.who)
		if err != nil {
			output.Error("Error: %v", err)
			return
		}
		if len(unlinked) == 0 {
			output.Warning("Every member already has an account. Add a member first.")
			return
		}
		printMembers(unlinked) //nolint:errcheck
		if na.MemberKey, ok = in.line("Member key: "); !ok {
			return
		}
	}
	if na.Secret, ok = in.secret(fmt.Sprintf("Enter password for %s: ", name)); !ok {
		return
	}
	a, err := s.lib.CreateAccount(ctx, s.who, na)
	if err != nil {
		output.Error("Error creating account: %v", err)
		return
	}
	output.Success("Created %s account '%s'", a.Role, a.Username)
}

func handleRemoveAccount(ctx context.Context, in *prompter, s *session) {
	name, ok := in.line("Username: ")
	if !ok {
		return
	}
	if err := s.lib.RemoveAccount(ctx, s.who, name); err != nil {
		output.Error("Error removing account: %v", err)
		return
	}
	output.Success("Removed account '%s'", name)
}

func handleListAccounts(ctx context.Context, _ *prompter, s *session) {
	accounts, err := s.lib.ListAccounts(ctx, s.who)
	if err != nil {
		output.Error("Error: %v", err)
		return
	}
	printAccounts(accounts) //nolint:errcheck
}

func handleHistory(ctx context.Context, in *prompter, s *session) {
	var f library.TransactionFilter
	var ok bool
	if f.MemberKey, ok = in.line("Member key (optional): "); !ok {
		return
	}
	if f.BookKey, ok = in.line("Book key (optional): "); !ok {
		return
	}
	entries, err := s.lib.History(ctx, s.who, f)
	if err != nil {
		output.Error("Error: %v", err)
		return
	}
	lines, err := logLines(ctx, s, entries)
	if err != nil {
		output.Error("Error: %v", err)
		return
	}
	printLog(lines) //nolint:errcheck
}

func handleDashboard(ctx context.Context, _ *prompter, s *session) {
	d, err := s.lib.Dashboard(ctx, s.who)
	if err != nil {
		output.Error("Error: %v", err)
		return
	}
	printDashboard(d) //nolint:errcheck
}

func handleExport(ctx context.Context, in *prompter, s *session) {
	path, ok := in.line("File (logs.csv): ")
	if !ok {
		return
	}
	if path == "" {
		path = "logs.csv"
	}
	f, err := os.Create(path)
	if err != nil {
		output.Error("Error: %v", err)
		return
	}
	n, err := exportLog(ctx, s, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		output.Error("Error exporting: %v", err)
		return
	}
	output.Success("Wrote %d loans to %s", n, path)
}

func readInt(in *prompter, prompt string) (int, bool) {
	v, ok := in.line(prompt)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		output.Error("Invalid number: %s", v)
		return 0, false
	}
	return n, true
}
