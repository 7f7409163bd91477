package library

import "context"

// Store is a transactional record store holding books, members, accounts and
// the circulation log. Implementations hold no business rules.
//
// Update runs fn inside a single atomic transaction: if fn returns an error
// nothing it wrote is observable. Conflicting Update calls are serialized by
// the store; a lost commit-time race is reported as ErrStoreConflict.
// View runs fn against a consistent read-only snapshot.
type Store interface {
	View(ctx context.Context, fn func(tx Tx) error) error
	Update(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

// Tx is the set of record operations available inside a transaction.
// Lookups of unknown keys return an error wrapping ErrNotFound; inserts of an
// existing key return an error wrapping ErrDuplicateKey.
type Tx interface {
	CatalogTx
	MemberTx
	AccountTx
	LogTx
}

// CatalogTx holds book records and copy counts.
type CatalogTx interface {
	GetBook(ctx context.Context, key string) (*Book, error)
	ListBooks(ctx context.Context) ([]*Book, error)
	InsertBook(ctx context.Context, b *Book) error
	SetBookCounts(ctx context.Context, key string, total, available int) error
	RetireBook(ctx context.Context, key string) error
	DeleteBook(ctx context.Context, key string) error
}

// MemberTx holds members and their checked-out sets.
type MemberTx interface {
	GetMember(ctx context.Context, key string) (*Member, error)
	ListMembers(ctx context.Context) ([]*Member, error)
	InsertMember(ctx context.Context, m *Member) error
	RetireMember(ctx context.Context, key string) error
	DeleteMember(ctx context.Context, key string) error
	AddLoan(ctx context.Context, memberKey, bookKey string) error
	RemoveLoan(ctx context.Context, memberKey, bookKey string) error
}

// AccountTx holds login accounts.
type AccountTx interface {
	GetAccount(ctx context.Context, username string) (*Account, error)
	AccountForMember(ctx context.Context, memberKey string) (*Account, error)
	ListAccounts(ctx context.Context) ([]*Account, error)
	InsertAccount(ctx context.Context, a *Account) error
	SetPasswordHash(ctx context.Context, username, hash string) error
	DeleteAccount(ctx context.Context, username string) error
}

// LogTx is the append-only circulation log. The store assigns the id and a
// non-decreasing timestamp.
type LogTx interface {
	AppendTransaction(ctx context.Context, memberKey, bookKey string, kind Kind) (*Transaction, error)
	ListTransactions(ctx context.Context, f TransactionFilter) ([]*Transaction, error)
	CountTransactions(ctx context.Context, f TransactionFilter) (int, error)
	DeleteTransactions(ctx context.Context, f TransactionFilter) (int64, error)
}
