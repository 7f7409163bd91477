package report

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-circulation/library"
	"library-circulation/store/memory"
)

var admin = library.Principal{Username: "root", Role: library.RoleAdmin}

func TestBuildPairsReturns(t *testing.T) {
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	at := func(h int) time.Time { return base.Add(time.Duration(h) * time.Hour) }
	entries := []*library.Transaction{
		{ID: 1, MemberKey: "M-1", BookKey: "B1", Kind: library.KindCheckout, OccurredAt: at(0)},
		{ID: 2, MemberKey: "M-2", BookKey: "B1", Kind: library.KindCheckout, OccurredAt: at(1)},
		{ID: 3, MemberKey: "M-1", BookKey: "B1", Kind: library.KindReturn, OccurredAt: at(2)},
		{ID: 4, MemberKey: "M-1", BookKey: "B1", Kind: library.KindCheckout, OccurredAt: at(3)},
		{ID: 5, MemberKey: "M-9", BookKey: "B7", Kind: library.KindReturn, OccurredAt: at(4)},
	}
	rows := Build(entries, map[string]string{"M-1": "Alice", "M-2": "Bob"}, map[string]string{"B1": "Dune"})

	require.Len(t, rows, 3)
	assert.Equal(t, Row{LogID: 1, MemberName: "Alice", BookTitle: "Dune", CheckedOut: at(0), Returned: at(2)}, rows[0])
	assert.Equal(t, "Bob", rows[1].MemberName)
	assert.True(t, rows[1].Open())
	assert.EqualValues(t, 4, rows[2].LogID)
	assert.True(t, rows[2].Open())
}

func TestBuildFallsBackToKeys(t *testing.T) {
	rows := Build([]*library.Transaction{
		{ID: 1, MemberKey: "M-1", BookKey: "B1", Kind: library.KindCheckout},
	}, nil, nil)
	require.Len(t, rows, 1)
	assert.Equal(t, "M-1", rows[0].MemberName)
	assert.Equal(t, "B1", rows[0].BookTitle)
}

func TestExportRoundTrip(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2024, 5, 1, 9, 0, 0, 123456789, time.UTC)
	store := memory.New(memory.WithClock(func() time.Time {
		clock = clock.Add(90 * time.Minute)
		return clock
	}))
	eng, err := library.NewEngine(store)
	require.NoError(t, err)

	for _, key := range []string{"B1", "B2"} {
		_, err := eng.AddBook(ctx, admin, library.NewBook{Key: key, Title: "Title " + key, Total: 2})
		require.NoError(t, err)
	}
	alice, err := eng.RegisterMember(ctx, admin, "Alice, \"Al\" Smith")
	require.NoError(t, err)
	bob, err := eng.RegisterMember(ctx, admin, "Bob")
	require.NoError(t, err)

	steps := []struct {
		member, book string
		kind         library.Kind
	}{
		{alice.Key, "B1", library.KindCheckout},
		{bob.Key, "B1", library.KindCheckout},
		{alice.Key, "B2", library.KindCheckout},
		{alice.Key, "B1", library.KindReturn},
		{alice.Key, "B1", library.KindCheckout},
		{bob.Key, "B1", library.KindReturn},
	}
	for _, s := range steps {
		if s.kind == library.KindCheckout {
			_, err = eng.Checkout(ctx, admin, s.member, s.book)
		} else {
			_, err = eng.Return(ctx, admin, s.member, s.book)
		}
		require.NoError(t, err)
	}

	entries, err := eng.History(ctx, admin, library.TransactionFilter{})
	require.NoError(t, err)
	names, titles, err := eng.Names(ctx, admin)
	require.NoError(t, err)
	rows := Build(entries, names, titles)
	require.Len(t, rows, 4)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, rows))
	assert.True(t, strings.HasPrefix(buf.String(), "Log ID,Member Name,Book Title,Checkout Date,Return Date\n"))

	back, err := Read(&buf)
	require.NoError(t, err)
	require.Len(t, back, len(rows))
	for i := range rows {
		assert.Equal(t, rows[i].LogID, back[i].LogID)
		assert.Equal(t, rows[i].MemberName, back[i].MemberName)
		assert.Equal(t, rows[i].BookTitle, back[i].BookTitle)
		assert.True(t, rows[i].CheckedOut.Equal(back[i].CheckedOut))
		assert.True(t, rows[i].Returned.Equal(back[i].Returned))
		if i > 0 {
			assert.False(t, back[i].CheckedOut.Before(back[i-1].CheckedOut))
		}
	}
	assert.True(t, back[2].Open())
	assert.False(t, back[1].Open())
}

func TestReadErrors(t *testing.T) {
	_, err := Read(strings.NewReader("ID,Name,Title,Out,In\n"))
	assert.ErrorIs(t, err, ErrBadHeader)

	_, err = Read(strings.NewReader("Log ID,Member Name,Book Title,Checkout Date,Return Date\nx,a,b,2024-01-01T00:00:00Z,\n"))
	assert.ErrorContains(t, err, "line 2: log id")

	_, err = Read(strings.NewReader("Log ID,Member Name,Book Title,Checkout Date,Return Date\n1,a,b,yesterday,\n"))
	assert.ErrorContains(t, err, "checkout date")

	_, err = Read(strings.NewReader(""))
	assert.ErrorContains(t, err, "read header")
}
