package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"library-circulation/library"
)

var loanMember string

// memberFor picks the member a circulation command acts on.
func memberFor(who library.Principal, flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if who.MemberKey == "" {
		return "", errors.New("--member is required for accounts without a member")
	}
	return who.MemberKey, nil
}

func circulate(kind library.Kind) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return run(cmd, false, func(ctx context.Context, s *session) error {
			member, err := memberFor(s.who, loanMember)
			if err != nil {
				return err
			}
			t, err := circulateOnce(ctx, s, kind, member, args[0])
			if err != nil {
				return err
			}
			return describe(ctx, s, t)
		})
	}
}

func circulateOnce(ctx context.Context, s *session, kind library.Kind, member, book string) (*library.Transaction, error) {
	if kind == library.KindReturn {
		return s.lib.Return(ctx, s.who, member, book)
	}
	return s.lib.Checkout(ctx, s.who, member, book)
}

// describe prints t with the member name and book title when they can be
// looked up.
func describe(ctx context.Context, s *session, t *library.Transaction) error {
	name, title := t.MemberKey, t.BookKey
	if m, err := s.lib.GetMember(ctx, s.who, t.MemberKey); err == nil {
		name = m.Name
	}
	if b, err := s.lib.GetBook(ctx, s.who, t.BookKey); err == nil {
		title = b.Title
	}
	return printTransaction(t, name, title)
}

var checkoutCmd = &cobra.Command{
	Use:   "checkout BOOK",
	Short: "Check out one copy of a book",
	Args:  exactArgs(1, "BOOK"),
	RunE:  circulate(library.KindCheckout),
}

var returnCmd = &cobra.Command{
	Use:   "return BOOK",
	Short: "Return a checked out book",
	Args:  exactArgs(1, "BOOK"),
	RunE:  circulate(library.KindReturn),
}

var historyFilter library.TransactionFilter

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the circulation log",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd, false, func(ctx context.Context, s *session) error {
			entries, err := s.lib.History(ctx, s.who, historyFilter)
			if err != nil {
				return err
			}
			lines, err := logLines(ctx, s, entries)
			if err != nil {
				return err
			}
			return printLog(lines)
		})
	},
}

// logLines joins entries with names. Admins see every name; members get
// their own name and the titles they can look up.
func logLines(ctx context.Context, s *session, entries []*library.Transaction) ([]*library.LogLine, error) {
	names, titles := map[string]string{}, map[string]string{}
	if s.who.IsAdmin() {
		var err error
		if names, titles, err = s.lib.Names(ctx, s.who); err != nil {
			return nil, err
		}
	} else {
		m, err := s.lib.GetMember(ctx, s.who, s.who.MemberKey)
		if err != nil {
			return nil, fmt.Errorf("load own member record: %w", err)
		}
		names[m.Key] = m.Name
		for _, t := range entries {
			if _, ok := titles[t.BookKey]; ok {
				continue
			}
			if b, err := s.lib.GetBook(ctx, s.who, t.BookKey); err == nil {
				titles[b.Key] = b.Title
			}
		}
	}

	lines := make([]*library.LogLine, 0, len(entries))
	for _, t := range entries {
		lines = append(lines, &library.LogLine{Transaction: *t, MemberName: names[t.MemberKey], BookTitle: titles[t.BookKey]})
	}
	return lines, nil
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Show collection totals and recent activity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd, false, func(ctx context.Context, s *session) error {
			if !s.who.IsAdmin() {
				v, err := s.lib.MemberView(ctx, s.who, s.who.MemberKey)
				if err != nil {
					return err
				}
				return printMemberView(v)
			}
			d, err := s.lib.Dashboard(ctx, s.who)
			if err != nil {
				return err
			}
			return printDashboard(d)
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{checkoutCmd, returnCmd} {
		c.Flags().StringVarP(&loanMember, "member", "m", "", "Member key (default: the signed-in member)")
	}
	historyCmd.Flags().StringVarP(&historyFilter.MemberKey, "member", "m", "", "Only this member")
	historyCmd.Flags().StringVarP(&historyFilter.BookKey, "book", "b", "", "Only this book")
	historyCmd.Flags().IntVarP(&historyFilter.Limit, "limit", "n", 0, "Only the most recent N entries")

	rootCmd.AddCommand(checkoutCmd, returnCmd, historyCmd, dashboardCmd)
}
