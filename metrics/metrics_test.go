package metrics

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-circulation/library"
	"library-circulation/store/memory"
)

var admin = library.Principal{Username: "root", Role: library.RoleAdmin}

func TestCollectorCountsEngineOutcomes(t *testing.T) {
	ctx := context.Background()
	c := NewCollector()
	eng, err := library.NewEngine(memory.New(), library.WithMetrics(c))
	require.NoError(t, err)

	_, err = eng.AddBook(ctx, admin, library.NewBook{Key: "B1", Title: "Dune", Total: 1})
	require.NoError(t, err)
	_, err = eng.AddBook(ctx, admin, library.NewBook{Key: "B1", Title: "Dune", Total: 1})
	require.ErrorIs(t, err, library.ErrDuplicateKey)
	_, err = eng.AddBook(ctx, library.Principal{Username: "alice", Role: library.RoleMember}, library.NewBook{Key: "B2", Title: "X", Total: 1})
	require.ErrorIs(t, err, library.ErrUnauthorized)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.operations.WithLabelValues("add_book", "none")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.operations.WithLabelValues("add_book", "duplicate_key")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.operations.WithLabelValues("add_book", "unauthorized")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.duration))
}

func TestConflictRetries(t *testing.T) {
	c := NewCollector()
	c.IncConflictRetry("checkout")
	c.IncConflictRetry("checkout")
	assert.Equal(t, 2.0, testutil.ToFloat64(c.retries.WithLabelValues("checkout")))
}

func TestWriteTextfile(t *testing.T) {
	c := NewCollector()
	c.ObserveOperation("return", "none", 0)

	path := filepath.Join(t.TempDir(), "library.prom")
	require.NoError(t, c.WriteTextfile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `library_engine_operations_total{operation="return",outcome="none"} 1`)

	assert.Error(t, c.WriteTextfile(filepath.Join(t.TempDir(), "missing", "library.prom")))
}
