package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := Writer
	Writer = &buf
	t.Cleanup(func() { Writer = prev })
	return &buf
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"Clean Code", 30, "Clean Code"},
		{"The Lord of the Rings", 10, "The Lor..."},
		{"Ünïcödé títle", 8, "Ünïcö..."},
		{"abcdef", 3, "abc"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, Truncate(tc.in, tc.max))
	}
}

func TestMessages(t *testing.T) {
	buf := capture(t)
	Success("checked out %s", "Dune")
	Error("no copies")
	assert.Contains(t, buf.String(), "checked out Dune\n")
	assert.Contains(t, buf.String(), "no copies\n")
}

func TestTableAndJSON(t *testing.T) {
	buf := capture(t)
	Table([]string{"Key", "Title"}, [][]string{{"B1", "Dune"}})
	assert.Contains(t, buf.String(), "Dune")
	assert.Contains(t, buf.String(), "Title")

	buf.Reset()
	require.NoError(t, JSON(map[string]int{"titles": 3}))
	assert.JSONEq(t, `{"titles":3}`, buf.String())
}
