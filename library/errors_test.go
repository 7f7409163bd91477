package library

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err    error
		kind   string
		domain bool
	}{
		{nil, "none", false},
		{fmt.Errorf("book %q: %w", "B1", ErrNotFound), "not_found", true},
		{fmt.Errorf("tx: %w", fmt.Errorf("inner: %w", ErrStoreConflict)), "store_conflict", true},
		{ErrCheckoutLimitReached, "checkout_limit_reached", true},
		{context.Canceled, "context_canceled", false},
		{fmt.Errorf("wait: %w", context.DeadlineExceeded), "context_deadline_exceeded", false},
		{errors.New("disk on fire"), "other", false},
	}
	for _, tc := range tests {
		t.Run(tc.kind, func(t *testing.T) {
			assert.Equal(t, tc.kind, ErrorKind(tc.err))
			assert.Equal(t, tc.domain, IsDomainError(tc.err))
		})
	}
}

func TestRetryOnConflict(t *testing.T) {
	ctx := context.Background()

	calls, retries := 0, 0
	err := retryOnConflict(ctx, 3, 0, func() { retries++ }, func(context.Context) error {
		calls++
		if calls < 3 {
			return ErrStoreConflict
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, retries)

	calls = 0
	err = retryOnConflict(ctx, 3, time.Millisecond, nil, func(context.Context) error {
		calls++
		return ErrBookInUse
	})
	assert.ErrorIs(t, err, ErrBookInUse)
	assert.Equal(t, 1, calls)
}

func TestMemberKeyShape(t *testing.T) {
	k := NewMemberKey()
	assert.Regexp(t, `^M-[0-9A-F]{6}$`, k)
}
