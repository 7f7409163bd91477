package library

import "context"

// Library is a thin façade over the engine and the guard, keeping CLI code
// simple. It owns the store and closes it.
type Library struct {
	*Engine
	guard *Guard
	store Store
}

// New wires an engine and a guard on top of store.
func New(store Store, opts ...Option) (*Library, error) {
	eng, err := NewEngine(store, opts...)
	if err != nil {
		return nil, err
	}
	guard, err := NewGuard(store, opts...)
	if err != nil {
		return nil, err
	}
	return &Library{Engine: eng, guard: guard, store: store}, nil
}

// Login authenticates a user and returns the principal to pass to the
// engine operations.
func (l *Library) Login(ctx context.Context, username, secret string) (Principal, error) {
	return l.guard.Authenticate(ctx, username, secret)
}

// Close closes the underlying store.
func (l *Library) Close() error { return l.store.Close() }
