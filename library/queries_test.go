package library_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-circulation/library"
)

func TestSeedOnlyOnEmptyStore(t *testing.T) {
	ctx := context.Background()
	lib := newLibrary(t)

	seeded, err := lib.Seed(ctx)
	require.NoError(t, err)
	assert.True(t, seeded)

	seeded, err = lib.Seed(ctx)
	require.NoError(t, err)
	assert.False(t, seeded)

	books, err := lib.ListBooks(ctx, admin)
	require.NoError(t, err)
	assert.Len(t, books, 3)

	p, err := lib.Login(ctx, "alice", "pass123")
	require.NoError(t, err)
	assert.Equal(t, "M-001", p.MemberKey)
	p, err = lib.Login(ctx, "admin", "admin123")
	require.NoError(t, err)
	assert.True(t, p.IsAdmin())
}

func TestSearchBooks(t *testing.T) {
	ctx := context.Background()
	lib := newLibrary(t)
	_, err := lib.Seed(ctx)
	require.NoError(t, err)

	tests := []struct {
		query string
		want  []string
	}{
		{"tolkien", []string{"978-0321765723"}},
		{"CLEAN", []string{"978-0132354181"}},
		{"classic", []string{"978-0743273565"}},
		{"978-0", []string{"978-0132354181", "978-0321765723", "978-0743273565"}},
		{"nothing like this", nil},
	}
	for _, tc := range tests {
		t.Run(tc.query, func(t *testing.T) {
			books, err := lib.SearchBooks(ctx, admin, tc.query)
			require.NoError(t, err)
			var keys []string
			for _, b := range books {
				keys = append(keys, b.Key)
			}
			assert.Equal(t, tc.want, keys)
		})
	}
}

func TestDashboard(t *testing.T) {
	ctx := context.Background()
	lib := newLibrary(t)
	_, err := lib.Seed(ctx)
	require.NoError(t, err)

	for i := 0; i < 6; i++ {
		_, err := lib.Checkout(ctx, admin, "M-001", "978-0321765723")
		require.NoError(t, err)
		_, err = lib.Return(ctx, admin, "M-001", "978-0321765723")
		require.NoError(t, err)
	}
	_, err = lib.Checkout(ctx, admin, "M-002", "978-0132354181")
	require.NoError(t, err)

	d, err := lib.Dashboard(ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, 3, d.Titles)
	assert.Equal(t, 12, d.TotalCopies)
	assert.Equal(t, 11, d.AvailableCopies)
	assert.Equal(t, 2, d.Members)
	require.Len(t, d.Recent, library.DashboardRecentLimit)

	last := d.Recent[len(d.Recent)-1]
	assert.Equal(t, "Bob Johnson", last.MemberName)
	assert.Equal(t, "Clean Code", last.BookTitle)
	assert.Equal(t, library.KindCheckout, last.Kind)
	for i := 1; i < len(d.Recent); i++ {
		assert.Less(t, d.Recent[i-1].ID, d.Recent[i].ID)
	}
}

func TestMemberView(t *testing.T) {
	ctx := context.Background()
	lib := newLibrary(t)
	_, err := lib.Seed(ctx)
	require.NoError(t, err)
	alice, err := lib.Login(ctx, "alice", "pass123")
	require.NoError(t, err)

	_, err = lib.Checkout(ctx, alice, alice.MemberKey, "978-0743273565")
	require.NoError(t, err)
	_, err = lib.Checkout(ctx, alice, alice.MemberKey, "978-0132354181")
	require.NoError(t, err)
	_, err = lib.Return(ctx, alice, alice.MemberKey, "978-0132354181")
	require.NoError(t, err)

	v, err := lib.MemberView(ctx, alice, alice.MemberKey)
	require.NoError(t, err)
	assert.Equal(t, "Alice Smith", v.Member.Name)
	require.Len(t, v.Loans, 1)
	assert.Equal(t, "The Great Gatsby", v.Loans[0].Title)
	require.Len(t, v.History, 3)
	assert.Equal(t, "Clean Code", v.History[2].BookTitle)
	assert.Equal(t, library.KindReturn, v.History[2].Kind)

	_, err = lib.MemberView(ctx, alice, "M-002")
	assert.ErrorIs(t, err, library.ErrUnauthorized)
}

func TestHistoryLimitAndInvariants(t *testing.T) {
	ctx := context.Background()
	eng, _ := newEngine(t, library.WithCheckoutLimit(3))
	keys := []string{register(t, eng, "A"), register(t, eng, "B")}
	for i := 0; i < 4; i++ {
		addBook(t, eng, fmt.Sprintf("B%d", i), 1)
	}

	// Interleave operations, some of which fail, and check the invariants
	// after each one.
	for round := 0; round < 3; round++ {
		for _, m := range keys {
			for i := 0; i < 4; i++ {
				bk := fmt.Sprintf("B%d", i)
				if _, err := eng.Checkout(ctx, admin, m, bk); err != nil {
					_, _ = eng.Return(ctx, admin, m, bk)
				}
				for j := 0; j < 4; j++ {
					b := book(t, eng, fmt.Sprintf("B%d", j))
					assert.GreaterOrEqual(t, b.Available, 0)
					assert.LessOrEqual(t, b.Available, b.Total)
				}
				for _, k := range keys {
					assert.LessOrEqual(t, member(t, eng, k).CheckedOut.Len(), 3)
				}
			}
		}
	}

	all := history(t, eng, library.TransactionFilter{})
	last := history(t, eng, library.TransactionFilter{Limit: 2})
	require.Len(t, last, 2)
	assert.Equal(t, all[len(all)-2:], last)

	_, err := eng.History(ctx, admin, library.TransactionFilter{Limit: -1})
	assert.ErrorIs(t, err, library.ErrInvalidInput)
}
