// Package memory provides an in-process transactional store. Updates run
// against a copy of the state that replaces the live state only when the
// callback succeeds.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"library-circulation/library"
)

var errReadOnly = errors.New("memory: write in read-only transaction")

type state struct {
	books    map[string]library.Book
	members  map[string]library.Member
	accounts map[string]library.Account
	log      []library.Transaction
	nextID   int64
	lastAt   time.Time
}

func newState() *state {
	return &state{
		books:    map[string]library.Book{},
		members:  map[string]library.Member{},
		accounts: map[string]library.Account{},
		nextID:   1,
	}
}

func (s *state) clone() *state {
	c := &state{
		books:    make(map[string]library.Book, len(s.books)),
		members:  make(map[string]library.Member, len(s.members)),
		accounts: make(map[string]library.Account, len(s.accounts)),
		log:      append([]library.Transaction(nil), s.log...),
		nextID:   s.nextID,
		lastAt:   s.lastAt,
	}
	for k, v := range s.books {
		c.books[k] = v
	}
	for k, v := range s.members {
		c.members[k] = cloneMember(v)
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	return c
}

func cloneMember(m library.Member) library.Member {
	m.CheckedOut = library.NewLoanSet(m.CheckedOut.Keys()...)
	return m
}

// Store is a mutex-guarded in-memory library.Store. Writers are serialized,
// so it never reports library.ErrStoreConflict.
type Store struct {
	mu    sync.RWMutex
	state *state
	now   func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the wall clock used to stamp log entries.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{state: newState(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ library.Store = (*Store)(nil)

// View runs fn against the live state under a read lock.
func (s *Store) View(ctx context.Context, fn func(tx library.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&tx{st: s.state, readOnly: true})
}

// Update runs fn against a copy of the state and installs the copy only if
// fn returns nil.
func (s *Store) Update(ctx context.Context, fn func(tx library.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(&tx{st: work, now: s.now}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = work
	return nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

type tx struct {
	st       *state
	now      func() time.Time
	readOnly bool
}

var _ library.Tx = (*tx)(nil)

func (t *tx) writable() error {
	if t.readOnly {
		return errReadOnly
	}
	return nil
}

// ---------------------------------------------------------------------------
// Catalog
// ---------------------------------------------------------------------------

func (t *tx) GetBook(_ context.Context, key string) (*library.Book, error) {
	b, ok := t.st.books[key]
	if !ok {
		return nil, fmt.Errorf("book %q: %w", key, library.ErrNotFound)
	}
	return &b, nil
}

func (t *tx) ListBooks(_ context.Context) ([]*library.Book, error) {
	out := make([]*library.Book, 0, len(t.st.books))
	for _, b := range t.st.books {
		b := b
		out = append(out, &b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (t *tx) InsertBook(_ context.Context, b *library.Book) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.st.books[b.Key]; ok {
		return fmt.Errorf("book %q: %w", b.Key, library.ErrDuplicateKey)
	}
	t.st.books[b.Key] = *b
	return nil
}

func (t *tx) SetBookCounts(_ context.Context, key string, total, available int) error {
	if err := t.writable(); err != nil {
		return err
	}
	b, ok := t.st.books[key]
	if !ok {
		return fmt.Errorf("book %q: %w", key, library.ErrNotFound)
	}
	if available < 0 || available > total {
		return fmt.Errorf("book %q: available %d outside [0,%d]: %w", key, available, total, library.ErrInvalidQuantity)
	}
	b.Total, b.Available = total, available
	t.st.books[key] = b
	return nil
}

func (t *tx) RetireBook(_ context.Context, key string) error {
	if err := t.writable(); err != nil {
		return err
	}
	b, ok := t.st.books[key]
	if !ok {
		return fmt.Errorf("book %q: %w", key, library.ErrNotFound)
	}
	b.Retired = true
	t.st.books[key] = b
	return nil
}

func (t *tx) DeleteBook(_ context.Context, key string) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.st.books[key]; !ok {
		return fmt.Errorf("book %q: %w", key, library.ErrNotFound)
	}
	delete(t.st.books, key)
	return nil
}

// ---------------------------------------------------------------------------
// Members
// ---------------------------------------------------------------------------

func (t *tx) GetMember(_ context.Context, key string) (*library.Member, error) {
	m, ok := t.st.members[key]
	if !ok {
		return nil, fmt.Errorf("member %q: %w", key, library.ErrNotFound)
	}
	m = cloneMember(m)
	return &m, nil
}

func (t *tx) ListMembers(_ context.Context) ([]*library.Member, error) {
	out := make([]*library.Member, 0, len(t.st.members))
	for _, m := range t.st.members {
		m := cloneMember(m)
		out = append(out, &m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (t *tx) InsertMember(_ context.Context, m *library.Member) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.st.members[m.Key]; ok {
		return fmt.Errorf("member %q: %w", m.Key, library.ErrDuplicateKey)
	}
	t.st.members[m.Key] = cloneMember(*m)
	return nil
}

func (t *tx) RetireMember(_ context.Context, key string) error {
	if err := t.writable(); err != nil {
		return err
	}
	m, ok := t.st.members[key]
	if !ok {
		return fmt.Errorf("member %q: %w", key, library.ErrNotFound)
	}
	m.Retired = true
	t.st.members[key] = m
	return nil
}

func (t *tx) DeleteMember(_ context.Context, key string) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.st.members[key]; !ok {
		return fmt.Errorf("member %q: %w", key, library.ErrNotFound)
	}
	delete(t.st.members, key)
	return nil
}

func (t *tx) AddLoan(_ context.Context, memberKey, bookKey string) error {
	if err := t.writable(); err != nil {
		return err
	}
	m, ok := t.st.members[memberKey]
	if !ok {
		return fmt.Errorf("member %q: %w", memberKey, library.ErrNotFound)
	}
	if _, ok := t.st.books[bookKey]; !ok {
		return fmt.Errorf("book %q: %w", bookKey, library.ErrNotFound)
	}
	if m.CheckedOut.Has(bookKey) {
		return fmt.Errorf("loan %s/%s: %w", memberKey, bookKey, library.ErrDuplicateKey)
	}
	if m.CheckedOut == nil {
		m.CheckedOut = library.NewLoanSet()
	}
	m.CheckedOut[bookKey] = struct{}{}
	t.st.members[memberKey] = m
	return nil
}

func (t *tx) RemoveLoan(_ context.Context, memberKey, bookKey string) error {
	if err := t.writable(); err != nil {
		return err
	}
	m, ok := t.st.members[memberKey]
	if !ok || !m.CheckedOut.Has(bookKey) {
		return fmt.Errorf("loan %s/%s: %w", memberKey, bookKey, library.ErrNotFound)
	}
	delete(m.CheckedOut, bookKey)
	t.st.members[memberKey] = m
	return nil
}

// ---------------------------------------------------------------------------
// Accounts
// ---------------------------------------------------------------------------

func (t *tx) GetAccount(_ context.Context, username string) (*library.Account, error) {
	a, ok := t.st.accounts[username]
	if !ok {
		return nil, fmt.Errorf("account %q: %w", username, library.ErrNotFound)
	}
	return &a, nil
}

func (t *tx) AccountForMember(_ context.Context, memberKey string) (*library.Account, error) {
	for _, a := range t.st.accounts {
		if a.MemberKey != "" && a.MemberKey == memberKey {
			a := a
			return &a, nil
		}
	}
	return nil, fmt.Errorf("account for member %q: %w", memberKey, library.ErrNotFound)
}

func (t *tx) ListAccounts(_ context.Context) ([]*library.Account, error) {
	out := make([]*library.Account, 0, len(t.st.accounts))
	for _, a := range t.st.accounts {
		a := a
		out = append(out, &a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (t *tx) InsertAccount(_ context.Context, a *library.Account) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.st.accounts[a.Username]; ok {
		return fmt.Errorf("account %q: %w", a.Username, library.ErrDuplicateKey)
	}
	if a.MemberKey != "" {
		if _, ok := t.st.members[a.MemberKey]; !ok {
			return fmt.Errorf("member %q: %w", a.MemberKey, library.ErrNotFound)
		}
	}
	t.st.accounts[a.Username] = *a
	return nil
}

func (t *tx) SetPasswordHash(_ context.Context, username, hash string) error {
	if err := t.writable(); err != nil {
		return err
	}
	a, ok := t.st.accounts[username]
	if !ok {
		return fmt.Errorf("account %q: %w", username, library.ErrNotFound)
	}
	a.PasswordHash = hash
	t.st.accounts[username] = a
	return nil
}

func (t *tx) DeleteAccount(_ context.Context, username string) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.st.accounts[username]; !ok {
		return fmt.Errorf("account %q: %w", username, library.ErrNotFound)
	}
	delete(t.st.accounts, username)
	return nil
}

// ---------------------------------------------------------------------------
// Log
// ---------------------------------------------------------------------------

func (t *tx) AppendTransaction(_ context.Context, memberKey, bookKey string, kind library.Kind) (*library.Transaction, error) {
	if err := t.writable(); err != nil {
		return nil, err
	}
	at := t.now().UTC()
	if at.Before(t.st.lastAt) {
		at = t.st.lastAt
	}
	rec := library.Transaction{ID: t.st.nextID, MemberKey: memberKey, BookKey: bookKey, Kind: kind, OccurredAt: at}
	t.st.log = append(t.st.log, rec)
	t.st.nextID++
	t.st.lastAt = at
	return &rec, nil
}

func (t *tx) ListTransactions(_ context.Context, f library.TransactionFilter) ([]*library.Transaction, error) {
	var out []*library.Transaction
	for i := range t.st.log {
		if f.Match(&t.st.log[i]) {
			rec := t.st.log[i]
			out = append(out, &rec)
		}
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out, nil
}

func (t *tx) CountTransactions(_ context.Context, f library.TransactionFilter) (int, error) {
	n := 0
	for i := range t.st.log {
		if f.Match(&t.st.log[i]) {
			n++
		}
	}
	return n, nil
}

func (t *tx) DeleteTransactions(_ context.Context, f library.TransactionFilter) (int64, error) {
	if err := t.writable(); err != nil {
		return 0, err
	}
	kept := t.st.log[:0]
	var removed int64
	for _, rec := range t.st.log {
		if f.Match(&rec) {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	t.st.log = kept
	return removed, nil
}
