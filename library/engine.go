package library

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Engine enforces the circulation invariants. Every mutating method runs as a
// single store transaction, so either all of its writes and its log entry are
// applied or none are.
type Engine struct {
	store Store
	cfg   settings
	log   *zap.Logger
}

// NewEngine creates an engine on top of store.
func NewEngine(store Store, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, errors.New("store must not be nil")
	}
	s, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	return &Engine{store: store, cfg: s, log: s.logger.Named("engine")}, nil
}

// CheckoutLimit returns the configured per-member checkout limit.
func (e *Engine) CheckoutLimit() int { return e.cfg.checkoutLimit }

// HistoryPolicy returns the configured removal policy.
func (e *Engine) HistoryPolicy() HistoryPolicy { return e.cfg.policy }

// update runs fn in a write transaction, retrying on ErrStoreConflict, and
// records the outcome.
func (e *Engine) update(ctx context.Context, op Operation, fields []zap.Field, fn func(tx Tx) error) error {
	start := time.Now()
	onRetry := func() {
		e.log.Warn("store conflict, retrying", append(fields, zap.String("operation", string(op)))...)
		if e.cfg.metrics != nil {
			e.cfg.metrics.IncConflictRetry(string(op))
		}
	}
	err := retryOnConflict(ctx, e.cfg.attempts, e.cfg.retryDelay, onRetry, func(ctx context.Context) error {
		return e.store.Update(ctx, fn)
	})
	e.observe(op, start, err, fields)
	return err
}

func (e *Engine) observe(op Operation, start time.Time, err error, fields []zap.Field) {
	elapsed := time.Since(start)
	outcome := ErrorKind(err)
	if e.cfg.metrics != nil {
		e.cfg.metrics.ObserveOperation(string(op), outcome, elapsed)
	}
	fields = append(fields, zap.String("operation", string(op)), zap.Duration("elapsed", elapsed))
	switch {
	case err == nil:
		e.log.Info("operation committed", fields...)
	case IsDomainError(err):
		e.log.Debug("operation rejected", append(fields, zap.String("outcome", outcome), zap.Error(err))...)
	default:
		e.log.Error("operation failed", append(fields, zap.Error(err))...)
	}
}

// denied records an authorization failure without touching the store.
func (e *Engine) denied(op Operation, err error, fields []zap.Field) error {
	e.observe(op, time.Now(), err, fields)
	return err
}

// ---------------------------------------------------------------------------
// Catalog
// ---------------------------------------------------------------------------

// NewBook carries the fields of a book to add.
type NewBook struct {
	Key      string
	Title    string
	Author   string
	Genre    string
	Total    int
	CoverURL string
}

// AddBook adds a title with all copies available.
func (e *Engine) AddBook(ctx context.Context, p Principal, nb NewBook) (*Book, error) {
	fields := []zap.Field{zap.String("book", nb.Key), zap.String("principal", p.Username)}
	if err := Authorize(p, OpAddBook, ""); err != nil {
		return nil, e.denied(OpAddBook, err, fields)
	}

	b := &Book{
		Key:       strings.TrimSpace(nb.Key),
		Title:     strings.TrimSpace(nb.Title),
		Author:    strings.TrimSpace(nb.Author),
		Genre:     strings.TrimSpace(nb.Genre),
		Total:     nb.Total,
		Available: nb.Total,
		CoverURL:  strings.TrimSpace(nb.CoverURL),
	}
	err := e.update(ctx, OpAddBook, fields, func(tx Tx) error {
		if b.Key == "" || b.Title == "" {
			return fmt.Errorf("book key and title are required: %w", ErrInvalidInput)
		}
		if _, err := tx.GetBook(ctx, b.Key); err == nil {
			return fmt.Errorf("book %q: %w", b.Key, ErrDuplicateKey)
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		if b.Total < 1 {
			return fmt.Errorf("book %q total %d: %w", b.Key, b.Total, ErrInvalidQuantity)
		}
		return tx.InsertBook(ctx, b)
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// UpdateQuantity changes the total copy count, keeping the number of copies
// on loan unchanged.
func (e *Engine) UpdateQuantity(ctx context.Context, p Principal, key string, newTotal int) (*Book, error) {
	fields := []zap.Field{zap.String("book", key), zap.Int("new_total", newTotal), zap.String("principal", p.Username)}
	if err := Authorize(p, OpUpdateQuantity, ""); err != nil {
		return nil, e.denied(OpUpdateQuantity, err, fields)
	}

	var updated *Book
	err := e.update(ctx, OpUpdateQuantity, fields, func(tx Tx) error {
		b, err := e.activeBook(ctx, tx, key)
		if err != nil {
			return err
		}
		out := b.CheckedOut()
		if newTotal < out {
			return fmt.Errorf("book %q: new total %d below %d checked out: %w", key, newTotal, out, ErrInvalidQuantity)
		}
		if newTotal < 1 {
			return fmt.Errorf("book %q: total must be at least 1: %w", key, ErrInvalidQuantity)
		}
		b.Total, b.Available = newTotal, newTotal-out
		if err := tx.SetBookCounts(ctx, key, b.Total, b.Available); err != nil {
			return err
		}
		updated = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// RemoveBook removes a title with no copies on loan. Under PurgeHistory its
// log entries are deleted with it; under RetireOnHistory a book with history
// is retired instead. The returned flag reports whether the book was retired.
func (e *Engine) RemoveBook(ctx context.Context, p Principal, key string) (retired bool, err error) {
	fields := []zap.Field{zap.String("book", key), zap.String("principal", p.Username)}
	if err := Authorize(p, OpRemoveBook, ""); err != nil {
		return false, e.denied(OpRemoveBook, err, fields)
	}

	err = e.update(ctx, OpRemoveBook, fields, func(tx Tx) error {
		retired = false
		b, err := e.activeBook(ctx, tx, key)
		if err != nil {
			return err
		}
		if b.Available < b.Total {
			return fmt.Errorf("book %q: %d of %d copies out: %w", key, b.CheckedOut(), b.Total, ErrBookInUse)
		}

		history := TransactionFilter{BookKey: key}
		if e.cfg.policy == RetireOnHistory {
			n, err := tx.CountTransactions(ctx, history)
			if err != nil {
				return err
			}
			if n > 0 {
				retired = true
				return tx.RetireBook(ctx, key)
			}
		} else if _, err := tx.DeleteTransactions(ctx, history); err != nil {
			return err
		}
		return tx.DeleteBook(ctx, key)
	})
	return retired, err
}

// ---------------------------------------------------------------------------
// Members
// ---------------------------------------------------------------------------

// RegisterMember creates a member with a freshly generated key.
func (e *Engine) RegisterMember(ctx context.Context, p Principal, name string) (*Member, error) {
	name = strings.TrimSpace(name)
	fields := []zap.Field{zap.String("name", name), zap.String("principal", p.Username)}
	if err := Authorize(p, OpRegisterMember, ""); err != nil {
		return nil, e.denied(OpRegisterMember, err, fields)
	}

	var created *Member
	err := e.update(ctx, OpRegisterMember, fields, func(tx Tx) error {
		if name == "" {
			return fmt.Errorf("member name is required: %w", ErrInvalidInput)
		}
		for i := 0; i < maxKeyAttempts; i++ {
			key := e.cfg.newKey()
			if _, err := tx.GetMember(ctx, key); err == nil {
				continue
			} else if !errors.Is(err, ErrNotFound) {
				return err
			}
			m := &Member{Key: key, Name: name, CheckedOut: NewLoanSet()}
			if err := tx.InsertMember(ctx, m); err != nil {
				if errors.Is(err, ErrDuplicateKey) {
					continue
				}
				return err
			}
			created = m
			return nil
		}
		return fmt.Errorf("member key after %d attempts: %w", maxKeyAttempts, ErrGenerationExhausted)
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// RemoveMember removes a member holding no books, together with the login
// account bound to it. A member with circulation history is retired instead
// of deleted under either history policy; the returned flag reports that.
func (e *Engine) RemoveMember(ctx context.Context, p Principal, key string) (retired bool, err error) {
	fields := []zap.Field{zap.String("member", key), zap.String("principal", p.Username)}
	if err := Authorize(p, OpRemoveMember, ""); err != nil {
		return false, e.denied(OpRemoveMember, err, fields)
	}

	err = e.update(ctx, OpRemoveMember, fields, func(tx Tx) error {
		retired = false
		m, err := e.activeMember(ctx, tx, key)
		if err != nil {
			return err
		}
		if m.CheckedOut.Len() > 0 {
			return fmt.Errorf("member %q holds %d books: %w", key, m.CheckedOut.Len(), ErrMemberHasLoans)
		}

		if acct, err := tx.AccountForMember(ctx, key); err == nil {
			if err := tx.DeleteAccount(ctx, acct.Username); err != nil {
				return err
			}
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}

		// Log entries outlive the member; only removing a book purges them.
		n, err := tx.CountTransactions(ctx, TransactionFilter{MemberKey: key})
		if err != nil {
			return err
		}
		if n > 0 {
			retired = true
			return tx.RetireMember(ctx, key)
		}
		return tx.DeleteMember(ctx, key)
	})
	return retired, err
}

// ---------------------------------------------------------------------------
// Circulation
// ---------------------------------------------------------------------------

// Checkout lends one copy of bookKey to memberKey.
func (e *Engine) Checkout(ctx context.Context, p Principal, memberKey, bookKey string) (*Transaction, error) {
	fields := []zap.Field{zap.String("member", memberKey), zap.String("book", bookKey), zap.String("principal", p.Username)}
	if err := Authorize(p, OpCheckout, memberKey); err != nil {
		return nil, e.denied(OpCheckout, err, fields)
	}

	var rec *Transaction
	err := e.update(ctx, OpCheckout, fields, func(tx Tx) error {
		m, err := e.activeMember(ctx, tx, memberKey)
		if err != nil {
			return err
		}
		b, err := e.activeBook(ctx, tx, bookKey)
		if err != nil {
			return err
		}
		if m.CheckedOut.Has(bookKey) {
			return fmt.Errorf("member %q, book %q: %w", memberKey, bookKey, ErrAlreadyCheckedOut)
		}
		if b.Available == 0 {
			return fmt.Errorf("book %q: %w", bookKey, ErrNoCopiesAvailable)
		}
		if m.CheckedOut.Len() >= e.cfg.checkoutLimit {
			return fmt.Errorf("member %q holds %d of %d: %w", memberKey, m.CheckedOut.Len(), e.cfg.checkoutLimit, ErrCheckoutLimitReached)
		}

		if err := tx.SetBookCounts(ctx, bookKey, b.Total, b.Available-1); err != nil {
			return err
		}
		if err := tx.AddLoan(ctx, memberKey, bookKey); err != nil {
			return err
		}
		rec, err = tx.AppendTransaction(ctx, memberKey, bookKey, KindCheckout)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Return takes back the copy of bookKey held by memberKey.
func (e *Engine) Return(ctx context.Context, p Principal, memberKey, bookKey string) (*Transaction, error) {
	fields := []zap.Field{zap.String("member", memberKey), zap.String("book", bookKey), zap.String("principal", p.Username)}
	if err := Authorize(p, OpReturn, memberKey); err != nil {
		return nil, e.denied(OpReturn, err, fields)
	}

	var rec *Transaction
	err := e.update(ctx, OpReturn, fields, func(tx Tx) error {
		m, err := e.activeMember(ctx, tx, memberKey)
		if err != nil {
			return err
		}
		b, err := e.activeBook(ctx, tx, bookKey)
		if err != nil {
			return err
		}
		if !m.CheckedOut.Has(bookKey) {
			return fmt.Errorf("member %q, book %q: %w", memberKey, bookKey, ErrNotCheckedOutByMember)
		}

		if err := tx.SetBookCounts(ctx, bookKey, b.Total, b.Available+1); err != nil {
			return err
		}
		if err := tx.RemoveLoan(ctx, memberKey, bookKey); err != nil {
			return err
		}
		rec, err = tx.AppendTransaction(ctx, memberKey, bookKey, KindReturn)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// activeBook loads a book, treating retired books as unknown.
func (e *Engine) activeBook(ctx context.Context, tx Tx, key string) (*Book, error) {
	b, err := tx.GetBook(ctx, key)
	if err != nil {
		return nil, err
	}
	if b.Retired {
		return nil, fmt.Errorf("book %q is retired: %w", key, ErrNotFound)
	}
	return b, nil
}

// activeMember loads a member, treating retired members as unknown.
func (e *Engine) activeMember(ctx context.Context, tx Tx, key string) (*Member, error) {
	m, err := tx.GetMember(ctx, key)
	if err != nil {
		return nil, err
	}
	if m.Retired {
		return nil, fmt.Errorf("member %q is retired: %w", key, ErrNotFound)
	}
	return m, nil
}
