package library

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCheckoutLimit is returned when the checkout limit is not positive.
	ErrInvalidCheckoutLimit = errors.New("checkout limit must be positive")

	// ErrInvalidAttempts is returned when the conflict attempt count is not positive.
	ErrInvalidAttempts = errors.New("conflict attempts must be positive")

	// ErrNilLogger is returned when a nil logger is passed to WithLogger.
	ErrNilLogger = errors.New("logger must not be nil")
)

// HistoryPolicy decides what happens to circulation history when a book is
// removed. Members with history are always retired.
type HistoryPolicy string

const (
	// PurgeHistory deletes a removed book together with its log entries.
	PurgeHistory HistoryPolicy = "purge"
	// RetireOnHistory keeps books that have log entries and marks them retired.
	RetireOnHistory HistoryPolicy = "retire"
)

// ParseHistoryPolicy converts a configuration string into a HistoryPolicy.
func ParseHistoryPolicy(s string) (HistoryPolicy, error) {
	switch HistoryPolicy(s) {
	case PurgeHistory, RetireOnHistory:
		return HistoryPolicy(s), nil
	case "":
		return PurgeHistory, nil
	}
	return "", fmt.Errorf("unknown history policy %q", s)
}

// MetricsCollector receives per-operation outcomes. Implementations must be
// safe for concurrent use.
type MetricsCollector interface {
	ObserveOperation(operation, outcome string, duration time.Duration)
	IncConflictRetry(operation string)
}

type settings struct {
	checkoutLimit int
	policy        HistoryPolicy
	attempts      int
	retryDelay    time.Duration
	hashCost      int
	newKey        func() string
	logger        *zap.Logger
	metrics       MetricsCollector
}

func defaultSettings() settings {
	return settings{
		checkoutLimit: DefaultCheckoutLimit,
		policy:        PurgeHistory,
		attempts:      2,
		retryDelay:    5 * time.Millisecond,
		hashCost:      bcrypt.DefaultCost,
		newKey:        NewMemberKey,
		logger:        zap.NewNop(),
	}
}

// Option configures an Engine, a Guard or a Library.
type Option func(*settings) error

// WithCheckoutLimit sets the maximum number of books a member may hold.
func WithCheckoutLimit(limit int) Option {
	return func(s *settings) error {
		if limit <= 0 {
			return ErrInvalidCheckoutLimit
		}
		s.checkoutLimit = limit
		return nil
	}
}

// WithHistoryPolicy sets the removal policy for records with history.
func WithHistoryPolicy(p HistoryPolicy) Option {
	return func(s *settings) error {
		if _, err := ParseHistoryPolicy(string(p)); err != nil {
			return err
		}
		s.policy = p
		return nil
	}
}

// WithConflictAttempts sets how many times an operation runs when the store
// reports ErrStoreConflict. The default of 2 retries once.
func WithConflictAttempts(n int) Option {
	return func(s *settings) error {
		if n <= 0 {
			return ErrInvalidAttempts
		}
		s.attempts = n
		return nil
	}
}

// WithRetryDelay sets the base pause before re-running a conflicted operation.
func WithRetryDelay(d time.Duration) Option {
	return func(s *settings) error {
		if d < 0 {
			return fmt.Errorf("retry delay must not be negative: %v", d)
		}
		s.retryDelay = d
		return nil
	}
}

// WithHashCost sets the bcrypt cost used for new credentials.
func WithHashCost(cost int) Option {
	return func(s *settings) error {
		if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
			return fmt.Errorf("bcrypt cost %d out of range [%d,%d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
		}
		s.hashCost = cost
		return nil
	}
}

// WithKeyGenerator replaces the member key generator.
func WithKeyGenerator(gen func() string) Option {
	return func(s *settings) error {
		if gen == nil {
			return errors.New("key generator must not be nil")
		}
		s.newKey = gen
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *settings) error {
		if l == nil {
			return ErrNilLogger
		}
		s.logger = l
		return nil
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m MetricsCollector) Option {
	return func(s *settings) error {
		s.metrics = m
		return nil
	}
}

func applyOptions(opts []Option) (settings, error) {
	s := defaultSettings()
	for _, opt := range opts {
		if err := opt(&s); err != nil {
			return s, err
		}
	}
	return s, nil
}
