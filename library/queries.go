package library

import (
	"context"
	"fmt"
	"strings"
)

// DashboardRecentLimit is the number of log entries shown on the dashboard.
const DashboardRecentLimit = 10

// GetBook returns an active book.
func (e *Engine) GetBook(ctx context.Context, p Principal, key string) (*Book, error) {
	if err := Authorize(p, OpViewCatalog, ""); err != nil {
		return nil, err
	}
	var b *Book
	err := e.store.View(ctx, func(tx Tx) error {
		var err error
		b, err = e.activeBook(ctx, tx, key)
		return err
	})
	return b, err
}

// ListBooks returns every active book ordered by key.
func (e *Engine) ListBooks(ctx context.Context, p Principal) ([]*Book, error) {
	return e.SearchBooks(ctx, p, "")
}

// SearchBooks returns active books whose key, title, author or genre contains
// query, ignoring case. An empty query matches everything.
func (e *Engine) SearchBooks(ctx context.Context, p Principal, query string) ([]*Book, error) {
	if err := Authorize(p, OpViewCatalog, ""); err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(query))
	var out []*Book
	err := e.store.View(ctx, func(tx Tx) error {
		books, err := tx.ListBooks(ctx)
		if err != nil {
			return err
		}
		for _, b := range books {
			if b.Retired {
				continue
			}
			if q == "" || matchesBook(b, q) {
				out = append(out, b)
			}
		}
		return nil
	})
	return out, err
}

func matchesBook(b *Book, q string) bool {
	for _, field := range []string{b.Key, b.Title, b.Author, b.Genre} {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}

// GetMember returns an active member. Members may only look up themselves.
func (e *Engine) GetMember(ctx context.Context, p Principal, key string) (*Member, error) {
	if err := Authorize(p, OpViewMember, key); err != nil {
		return nil, err
	}
	var m *Member
	err := e.store.View(ctx, func(tx Tx) error {
		var err error
		m, err = e.activeMember(ctx, tx, key)
		return err
	})
	return m, err
}

// ListMembers returns every active member ordered by key.
func (e *Engine) ListMembers(ctx context.Context, p Principal) ([]*Member, error) {
	if err := Authorize(p, OpViewAdmin, ""); err != nil {
		return nil, err
	}
	var out []*Member
	err := e.store.View(ctx, func(tx Tx) error {
		members, err := tx.ListMembers(ctx)
		if err != nil {
			return err
		}
		for _, m := range members {
			if !m.Retired {
				out = append(out, m)
			}
		}
		return nil
	})
	return out, err
}

// History returns log entries in the order they were recorded. A member
// principal always sees only their own entries.
func (e *Engine) History(ctx context.Context, p Principal, f TransactionFilter) ([]*Transaction, error) {
	if !p.IsAdmin() {
		if f.MemberKey == "" {
			f.MemberKey = p.MemberKey
		}
		if err := Authorize(p, OpViewMember, f.MemberKey); err != nil {
			return nil, err
		}
	} else if err := Authorize(p, OpViewAdmin, ""); err != nil {
		return nil, err
	}
	if f.Limit < 0 {
		return nil, fmt.Errorf("limit %d: %w", f.Limit, ErrInvalidInput)
	}
	var out []*Transaction
	err := e.store.View(ctx, func(tx Tx) error {
		var err error
		out, err = tx.ListTransactions(ctx, f)
		return err
	})
	return out, err
}

// LogLine is a log entry joined with the names it refers to. Names are
// empty when the record has since been removed.
type LogLine struct {
	Transaction
	MemberName string `json:"member_name,omitempty"`
	BookTitle  string `json:"book_title,omitempty"`
}

// Dashboard summarises the collection for administrators.
type Dashboard struct {
	Titles          int        `json:"titles"`
	TotalCopies     int        `json:"total_copies"`
	AvailableCopies int        `json:"available_copies"`
	Members         int        `json:"members"`
	Recent          []*LogLine `json:"recent"`
}

// Dashboard returns collection totals and the most recent log entries.
func (e *Engine) Dashboard(ctx context.Context, p Principal) (*Dashboard, error) {
	if err := Authorize(p, OpViewAdmin, ""); err != nil {
		return nil, err
	}
	d := &Dashboard{}
	err := e.store.View(ctx, func(tx Tx) error {
		books, err := tx.ListBooks(ctx)
		if err != nil {
			return err
		}
		titles := make(map[string]string, len(books))
		for _, b := range books {
			titles[b.Key] = b.Title
			if b.Retired {
				continue
			}
			d.Titles++
			d.TotalCopies += b.Total
			d.AvailableCopies += b.Available
		}

		members, err := tx.ListMembers(ctx)
		if err != nil {
			return err
		}
		names := make(map[string]string, len(members))
		for _, m := range members {
			names[m.Key] = m.Name
			if !m.Retired {
				d.Members++
			}
		}

		recent, err := tx.ListTransactions(ctx, TransactionFilter{Limit: DashboardRecentLimit})
		if err != nil {
			return err
		}
		d.Recent = joinLog(recent, names, titles)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// MemberView is what a member sees about themselves.
type MemberView struct {
	Member  *Member    `json:"member"`
	Loans   []*Book    `json:"loans"`
	History []*LogLine `json:"history"`
}

// MemberView returns the member's current loans and full history.
func (e *Engine) MemberView(ctx context.Context, p Principal, key string) (*MemberView, error) {
	if err := Authorize(p, OpViewMember, key); err != nil {
		return nil, err
	}
	v := &MemberView{}
	err := e.store.View(ctx, func(tx Tx) error {
		m, err := e.activeMember(ctx, tx, key)
		if err != nil {
			return err
		}
		v.Member = m

		titles := make(map[string]string)
		for _, bk := range m.CheckedOut.Keys() {
			b, err := tx.GetBook(ctx, bk)
			if err != nil {
				return err
			}
			titles[b.Key] = b.Title
			v.Loans = append(v.Loans, b)
		}

		hist, err := tx.ListTransactions(ctx, TransactionFilter{MemberKey: key})
		if err != nil {
			return err
		}
		for _, t := range hist {
			if _, ok := titles[t.BookKey]; ok {
				continue
			}
			if b, err := tx.GetBook(ctx, t.BookKey); err == nil {
				titles[b.Key] = b.Title
			}
		}
		v.History = joinLog(hist, map[string]string{key: m.Name}, titles)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Names returns member names and book titles keyed by member and book key,
// including retired records, for rendering reports.
func (e *Engine) Names(ctx context.Context, p Principal) (members, books map[string]string, err error) {
	if err := Authorize(p, OpViewAdmin, ""); err != nil {
		return nil, nil, err
	}
	members, books = map[string]string{}, map[string]string{}
	err = e.store.View(ctx, func(tx Tx) error {
		ms, err := tx.ListMembers(ctx)
		if err != nil {
			return err
		}
		for _, m := range ms {
			members[m.Key] = m.Name
		}
		bs, err := tx.ListBooks(ctx)
		if err != nil {
			return err
		}
		for _, b := range bs {
			books[b.Key] = b.Title
		}
		return nil
	})
	return members, books, err
}

func joinLog(entries []*Transaction, names, titles map[string]string) []*LogLine {
	out := make([]*LogLine, 0, len(entries))
	for _, t := range entries {
		out = append(out, &LogLine{Transaction: *t, MemberName: names[t.MemberKey], BookTitle: titles[t.BookKey]})
	}
	return out
}
