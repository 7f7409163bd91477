//go:build integration

package postgres

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/crypto/bcrypt"

	"library-circulation/library"
)

var admin = library.Principal{Username: "root", Role: library.RoleAdmin}

// setupTestDB starts a PostgreSQL container and opens a Store on it.
func setupTestDB(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:alpine",
		postgres.WithDatabase("library"),
		postgres.WithUsername("library"),
		postgres.WithPassword("library"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	s, err := Open(ctx, Config{DSN: connStr, MaxConns: 8})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPostgresCirculation(t *testing.T) {
	ctx := context.Background()
	s := setupTestDB(t)
	lib, err := library.New(s, library.WithHashCost(bcrypt.MinCost))
	require.NoError(t, err)

	seeded, err := lib.Seed(ctx)
	require.NoError(t, err)
	require.True(t, seeded)

	t.Run("checkout and return", func(t *testing.T) {
		alice, err := lib.Login(ctx, "alice", "pass123")
		require.NoError(t, err)
		co, err := lib.Checkout(ctx, alice, alice.MemberKey, "978-0132354181")
		require.NoError(t, err)
		_, err = lib.Checkout(ctx, alice, alice.MemberKey, "978-0132354181")
		require.ErrorIs(t, err, library.ErrAlreadyCheckedOut)
		ret, err := lib.Return(ctx, alice, alice.MemberKey, "978-0132354181")
		require.NoError(t, err)
		assert.Greater(t, ret.ID, co.ID)
		assert.False(t, ret.OccurredAt.Before(co.OccurredAt))

		b, err := lib.GetBook(ctx, alice, "978-0132354181")
		require.NoError(t, err)
		assert.Equal(t, 3, b.Available)
	})

	t.Run("quantity and removal rules", func(t *testing.T) {
		_, err := lib.Checkout(ctx, admin, "M-002", "978-0743273565")
		require.NoError(t, err)
		_, err = lib.UpdateQuantity(ctx, admin, "978-0743273565", 0)
		require.ErrorIs(t, err, library.ErrInvalidQuantity)
		_, err = lib.RemoveBook(ctx, admin, "978-0743273565")
		require.ErrorIs(t, err, library.ErrBookInUse)
		_, err = lib.RemoveMember(ctx, admin, "M-002")
		require.ErrorIs(t, err, library.ErrMemberHasLoans)
		_, err = lib.AddBook(ctx, admin, library.NewBook{Key: "978-0743273565", Title: "Dup", Total: 1})
		require.ErrorIs(t, err, library.ErrDuplicateKey)
	})

	t.Run("history limit", func(t *testing.T) {
		all, err := lib.History(ctx, admin, library.TransactionFilter{})
		require.NoError(t, err)
		last, err := lib.History(ctx, admin, library.TransactionFilter{Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, all[len(all)-2:], last)
	})
}

func TestPostgresConcurrentCheckouts(t *testing.T) {
	ctx := context.Background()
	s := setupTestDB(t)
	eng, err := library.NewEngine(s)
	require.NoError(t, err)

	_, err = eng.AddBook(ctx, admin, library.NewBook{Key: "B1", Title: "Hot", Total: 3})
	require.NoError(t, err)
	const readers = 10
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
	assert.Equal(t, 3, ok)

	recs, err := eng.History(ctx, admin, library.TransactionFilter{BookKey: "B1"})
	require.NoError(t, err)
	assert.Len(t, recs, 3)
}
