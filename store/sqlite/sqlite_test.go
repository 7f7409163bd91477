package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"library-circulation/library"
)

var admin = library.Principal{Username: "root", Role: library.RoleAdmin}

func tempDB(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

func tempEngine(t *testing.T, opts ...library.Option) *library.Engine {
	t.Helper()
	s, _ := tempDB(t)
	eng, err := library.NewEngine(s, append([]library.Option{library.WithHashCost(bcrypt.MinCost)}, opts...)...)
	require.NoError(t, err)
	return eng
}

func TestMigrationsAreIdempotent(t *testing.T) {
	s, path := tempDB(t)
	require.NoError(t, s.Close())

	again, err := Open(path)
	require.NoError(t, err)
	defer again.Close()

	var v string
	require.NoError(t, again.ro.Get(&v, `SELECT value FROM meta WHERE key='schema_version'`))
	assert.Equal(t, "1", v)
}

func TestCheckoutFlow(t *testing.T) {
	ctx := context.Background()
	eng := tempEngine(t)
	_, err := eng.AddBook(ctx, admin, library.NewBook{Key: "B1", Title: "Book", Author: "Author", Total: 1})
	require.NoError(t, err)
	m, err := eng.RegisterMember(ctx, admin, "Alice")
	require.NoError(t, err)
	bob, err := eng.RegisterMember(ctx, admin, "Bob")
	require.NoError(t, err)

	co, err := eng.Checkout(ctx, admin, m.Key, "B1")
	require.NoError(t, err)
	_, err = eng.Checkout(ctx, admin, bob.Key, "B1")
	require.ErrorIs(t, err, library.ErrNoCopiesAvailable)
	_, err = eng.Checkout(ctx, admin, m.Key, "B1")
	require.ErrorIs(t, err, library.ErrAlreadyCheckedOut)

	got, err := eng.GetMember(ctx, admin, m.Key)
	require.NoError(t, err)
	assert.Equal(t, []string{"B1"}, got.CheckedOut.Keys())

	ret, err := eng.Return(ctx, admin, m.Key, "B1")
	require.NoError(t, err)
	assert.Greater(t, ret.ID, co.ID)
	assert.False(t, ret.OccurredAt.Before(co.OccurredAt))

	b, err := eng.GetBook(ctx, admin, "B1")
	require.NoError(t, err)
	assert.Equal(t, 1, b.Available)

	_, err = eng.Checkout(ctx, admin, bob.Key, "B1")
	require.NoError(t, err)
}

func TestRemoveBookPurgesHistory(t *testing.T) {
	ctx := context.Background()
	eng := tempEngine(t)
	_, err := eng.AddBook(ctx, admin, library.NewBook{Key: "B1", Title: "Book", Total: 2})
	require.NoError(t, err)
	m, err := eng.RegisterMember(ctx, admin, "Alice")
	require.NoError(t, err)
	_, err = eng.Checkout(ctx, admin, m.Key, "B1")
	require.NoError(t, err)

	_, err = eng.RemoveBook(ctx, admin, "B1")
	require.ErrorIs(t, err, library.ErrBookInUse)

	_, err = eng.Return(ctx, admin, m.Key, "B1")
	require.NoError(t, err)
	_, err = eng.RemoveBook(ctx, admin, "B1")
	require.NoError(t, err)

	recs, err := eng.History(ctx, admin, library.TransactionFilter{})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestRetirePolicyKeepsHistory(t *testing.T) {
	ctx := context.Background()
	eng := tempEngine(t, library.WithHistoryPolicy(library.RetireOnHistory))
	_, err := eng.AddBook(ctx, admin, library.NewBook{Key: "B1", Title: "Book", Total: 1})
	require.NoError(t, err)
	m, err := eng.RegisterMember(ctx, admin, "Alice")
	require.NoError(t, err)
	_, err = eng.Checkout(ctx, admin, m.Key, "B1")
	require.NoError(t, err)
	_, err = eng.Return(ctx, admin, m.Key, "B1")
	require.NoError(t, err)

	retired, err := eng.RemoveBook(ctx, admin, "B1")
	require.NoError(t, err)
	assert.True(t, retired)
	retired, err = eng.RemoveMember(ctx, admin, m.Key)
	require.NoError(t, err)
	assert.True(t, retired)

	recs, err := eng.History(ctx, admin, library.TransactionFilter{BookKey: "B1"})
	require.NoError(t, err)
	assert.Len(t, recs, 2)
	_, err = eng.GetBook(ctx, admin, "B1")
	assert.ErrorIs(t, err, library.ErrNotFound)
}

func TestAccountsAndLogin(t *testing.T) {
	ctx := context.Background()
	s, _ := tempDB(t)
	lib, err := library.New(s, library.WithHashCost(bcrypt.MinCost))
	require.NoError(t, err)
	seeded, err := lib.Seed(ctx)
	require.NoError(t, err)
	require.True(t, seeded)

	p, err := lib.Login(ctx, "bob", "pass456")
	require.NoError(t, err)
	assert.Equal(t, "M-002", p.MemberKey)
	admin, err := lib.Login(ctx, "admin", "admin123")
	require.NoError(t, err)
	assert.Empty(t, admin.MemberKey)

	_, err = lib.CreateAccount(ctx, admin, library.NewAccount{Username: "bob2", Secret: "x", Role: library.RoleMember, MemberKey: "M-002"})
	assert.ErrorIs(t, err, library.ErrDuplicateKey)

	_, err = lib.RemoveMember(ctx, admin, "M-002")
	require.NoError(t, err)
	_, err = lib.Login(ctx, "bob", "pass456")
	assert.ErrorIs(t, err, library.ErrInvalidCredentials)
}

func TestHistoryLimitOrder(t *testing.T) {
	ctx := context.Background()
	s, _ := tempDB(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time {
		tick++
		if tick == 3 {
			return base
		}
		return base.Add(time.Duration(tick) * time.Minute)
	}

	require.NoError(t, s.Update(ctx, func(tx library.Tx) error {
		if err := tx.InsertBook(ctx, &library.Book{Key: "B1", Title: "T", Total: 1, Available: 1}); err != nil {
			return err
		}
		if err := tx.InsertMember(ctx, &library.Member{Key: "M1", Name: "A"}); err != nil {
			return err
		}
		for i := 0; i < 5; i++ {
			if _, err := tx.AppendTransaction(ctx, "M1", "B1", library.KindCheckout); err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, s.View(ctx, func(tx library.Tx) error {
		all, err := tx.ListTransactions(ctx, library.TransactionFilter{})
		require.NoError(t, err)
		require.Len(t, all, 5)
		for i := 1; i < len(all); i++ {
			assert.Greater(t, all[i].ID, all[i-1].ID)
			assert.False(t, all[i].OccurredAt.Before(all[i-1].OccurredAt))
		}
		last, err := tx.ListTransactions(ctx, library.TransactionFilter{MemberKey: "M1", Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, all[3:], last)
		n, err := tx.CountTransactions(ctx, library.TransactionFilter{BookKey: "B1"})
		require.NoError(t, err)
		assert.Equal(t, 5, n)
		return nil
	}))
}

func TestConstraintErrorsAreMapped(t *testing.T) {
	ctx := context.Background()
	s, _ := tempDB(t)

	err := s.Update(ctx, func(tx library.Tx) error {
		if err := tx.InsertBook(ctx, &library.Book{Key: "B1", Title: "T", Total: 1, Available: 1}); err != nil {
			return err
		}
		return tx.InsertBook(ctx, &library.Book{Key: "B1", Title: "T", Total: 1, Available: 1})
	})
	assert.ErrorIs(t, err, library.ErrDuplicateKey)

	err = s.Update(ctx, func(tx library.Tx) error {
		return tx.InsertBook(ctx, &library.Book{Key: "B2", Title: "T", Total: 1, Available: 2})
	})
	assert.ErrorIs(t, err, library.ErrInvalidQuantity)
	err = s.Update(ctx, func(tx library.Tx) error {
		return tx.InsertBook(ctx, &library.Book{Key: "B3", Title: "T", Total: 0, Available: 0})
	})
	assert.ErrorIs(t, err, library.ErrInvalidQuantity)

	// Other CHECK failures are not about copy counts.
	_, err = s.rw.ExecContext(ctx, `INSERT INTO accounts (username, password_hash, role) VALUES ('eve', 'x', 'owner')`)
	err = mapErr(err)
	assert.ErrorIs(t, err, library.ErrInvalidInput)
	assert.NotErrorIs(t, err, library.ErrInvalidQuantity)

	err = s.Update(ctx, func(tx library.Tx) error {
		return tx.AddLoan(ctx, "ghost", "B1")
	})
	assert.ErrorIs(t, err, library.ErrNotFound)

	err = s.Update(ctx, func(tx library.Tx) error {
		return tx.SetBookCounts(ctx, "missing", 1, 1)
	})
	assert.ErrorIs(t, err, library.ErrNotFound)

	busy := fmt.Errorf("exec: %w", sqlite3.Error{Code: sqlite3.ErrBusy})
	assert.ErrorIs(t, mapErr(busy), library.ErrStoreConflict)
	assert.Nil(t, mapErr(nil))
	plain := errors.New("plain")
	assert.Equal(t, plain, mapErr(plain))
}

func TestFailedUpdateRollsBack(t *testing.T) {
	ctx := context.Background()
	s, _ := tempDB(t)
	boom := errors.New("boom")
	err := s.Update(ctx, func(tx library.Tx) error {
		if err := tx.InsertBook(ctx, &library.Book{Key: "B1", Title: "T", Total: 1, Available: 1}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, s.View(ctx, func(tx library.Tx) error {
		books, err := tx.ListBooks(ctx)
		require.NoError(t, err)
		assert.Empty(t, books)
		return nil
	}))
}

func TestConcurrentCheckouts(t *testing.T) {
	ctx := context.Background()
	eng := tempEngine(t)
	_, err := eng.AddBook(ctx, admin, library.NewBook{Key: "B1", Title: "Hot", Total: 2})
	require.NoError(t, err)

	const readers = 8
	keys := make([]string, readers)
	for i := range keys {
		m, err := eng.RegisterMember(ctx, admin, fmt.Sprintf("reader %d", i))
		require.NoError(t, err)
		keys[i] = m.Key
	}

	var wg sync.WaitGroup
	errs := make([]error, readers)
	for i, k := range keys {
		wg.Add(1)
		go func(i int, k string) {
			defer wg.Done()
			_, errs[i] = eng.Checkout(ctx, admin, k, "B1")
		}(i, k)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, library.ErrNoCopiesAvailable)
	}
	assert.Equal(t, 2, ok)

	b, err := eng.GetBook(ctx, admin, "B1")
	require.NoError(t, err)
	assert.Equal(t, 0, b.Available)
}
