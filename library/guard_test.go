package library

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestGuardDummyHashMatchesCost(t *testing.T) {
	for _, cost := range []int{bcrypt.MinCost, bcrypt.MinCost + 1} {
		g, err := NewGuard(nil, WithHashCost(cost))
		require.NoError(t, err)
		got, err := bcrypt.Cost(g.dummy)
		require.NoError(t, err)
		assert.Equal(t, cost, got)

		// Known accounts are hashed at the same cost.
		hash, err := hashSecret("s3cret", cost)
		require.NoError(t, err)
		real, err := bcrypt.Cost([]byte(hash))
		require.NoError(t, err)
		assert.Equal(t, real, got)
	}
}
