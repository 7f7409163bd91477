package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"library-circulation/library"
)

const (
	tableBooks        = "books"
	tableMembers      = "members"
	tableLoans        = "loans"
	tableAccounts     = "accounts"
	tableTransactions = "transactions"

	colBookKey    = "book_key"
	colMemberKey  = "member_key"
	colUsername   = "username"
	colLogID      = "log_id"
	colOccurredAt = "occurred_at"
)

var (
	bookColumns    = []any{colBookKey, "title", "author", "genre", "total_quantity", "available", "cover_url", "retired"}
	accountColumns = []any{colUsername, "password_hash", "role", goqu.COALESCE(goqu.C(colMemberKey), "").As(colMemberKey)}
	logColumns     = []any{colLogID, colMemberKey, colBookKey, "kind", colOccurredAt}
)

type tx struct {
	tx        pgx.Tx
	now       func() time.Time
	forUpdate bool
}

var _ library.Tx = (*tx)(nil)

type statement interface {
	ToSQL() (string, []any, error)
}

func (t *tx) query(ctx context.Context, stmt statement) (pgx.Rows, error) {
	q, args, err := stmt.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := t.tx.Query(ctx, q, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	return rows, nil
}

func (t *tx) exec(ctx context.Context, stmt statement) (pgconn.CommandTag, error) {
	q, args, err := stmt.ToSQL()
	if err != nil {
		return pgconn.CommandTag{}, fmt.Errorf("build query: %w", err)
	}
	tag, err := t.tx.Exec(ctx, q, args...)
	return tag, mapErr(err)
}

// execOne runs stmt and reports ErrNotFound when it touched no row.
func (t *tx) execOne(ctx context.Context, stmt statement, what string) error {
	tag, err := t.exec(ctx, stmt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", what, library.ErrNotFound)
	}
	return nil
}

// lock adds FOR UPDATE inside write transactions.
func (t *tx) lock(ds *goqu.SelectDataset) *goqu.SelectDataset {
	if t.forUpdate {
		return ds.ForUpdate(exp.Wait)
	}
	return ds
}

func one[T any](rows pgx.Rows, err error, what string) (*T, error) {
	if err != nil {
		return nil, err
	}
	v, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[T])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", what, library.ErrNotFound)
	}
	return v, mapErr(err)
}

func many[T any](rows pgx.Rows, err error) ([]*T, error) {
	if err != nil {
		return nil, err
	}
	out, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[T])
	return out, mapErr(err)
}

// ---------------------------------------------------------------------------
// Catalog
// ---------------------------------------------------------------------------

func (t *tx) GetBook(ctx context.Context, key string) (*library.Book, error) {
	ds := t.lock(dialect.From(tableBooks).Select(bookColumns...).Where(goqu.C(colBookKey).Eq(key)))
	rows, err := t.query(ctx, ds.Prepared(true))
	return one[library.Book](rows, err, fmt.Sprintf("book %q", key))
}

func (t *tx) ListBooks(ctx context.Context) ([]*library.Book, error) {
	ds := dialect.From(tableBooks).Select(bookColumns...).Order(goqu.C(colBookKey).Asc())
	rows, err := t.query(ctx, ds.Prepared(true))
	return many[library.Book](rows, err)
}

func (t *tx) InsertBook(ctx context.Context, b *library.Book) error {
	_, err := t.exec(ctx, dialect.Insert(tableBooks).Rows(goqu.Record{
		colBookKey:       b.Key,
		"title":          b.Title,
		"author":         b.Author,
		"genre":          b.Genre,
		"total_quantity": b.Total,
		"available":      b.Available,
		"cover_url":      b.CoverURL,
		"retired":        b.Retired,
	}).Prepared(true))
	return err
}

func (t *tx) SetBookCounts(ctx context.Context, key string, total, available int) error {
	return t.execOne(ctx, dialect.Update(tableBooks).
		Set(goqu.Record{"total_quantity": total, "available": available}).
		Where(goqu.C(colBookKey).Eq(key)).Prepared(true), fmt.Sprintf("book %q", key))
}

func (t *tx) RetireBook(ctx context.Context, key string) error {
	return t.execOne(ctx, dialect.Update(tableBooks).
		Set(goqu.Record{"retired": true}).
		Where(goqu.C(colBookKey).Eq(key)).Prepared(true), fmt.Sprintf("book %q", key))
}

func (t *tx) DeleteBook(ctx context.Context, key string) error {
	return t.execOne(ctx, dialect.Delete(tableBooks).
		Where(goqu.C(colBookKey).Eq(key)).Prepared(true), fmt.Sprintf("book %q", key))
}

// ---------------------------------------------------------------------------
// Members
// ---------------------------------------------------------------------------

type memberRow struct {
	Key     string `db:"member_key"`
	Name    string `db:"name"`
	Retired bool   `db:"retired"`
}

func (t *tx) loans(ctx context.Context, memberKey string) (map[string][]string, error) {
	ds := dialect.From(tableLoans).Select(colMemberKey, colBookKey)
	if memberKey != "" {
		ds = ds.Where(goqu.C(colMemberKey).Eq(memberKey))
	}
	rows, err := t.query(ctx, ds.Prepared(true))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	held := make(map[string][]string)
	for rows.Next() {
		var m, b string
		if err := rows.Scan(&m, &b); err != nil {
			return nil, err
		}
		held[m] = append(held[m], b)
	}
	return held, mapErr(rows.Err())
}

func (t *tx) GetMember(ctx context.Context, key string) (*library.Member, error) {
	ds := t.lock(dialect.From(tableMembers).Select(colMemberKey, "name", "retired").Where(goqu.C(colMemberKey).Eq(key)))
	rows, err := t.query(ctx, ds.Prepared(true))
	row, err := one[memberRow](rows, err, fmt.Sprintf("member %q", key))
	if err != nil {
		return nil, err
	}
	held, err := t.loans(ctx, key)
	if err != nil {
		return nil, err
	}
	return &library.Member{Key: row.Key, Name: row.Name, Retired: row.Retired, CheckedOut: library.NewLoanSet(held[key]...)}, nil
}

func (t *tx) ListMembers(ctx context.Context) ([]*library.Member, error) {
	ds := dialect.From(tableMembers).Select(colMemberKey, "name", "retired").Order(goqu.C(colMemberKey).Asc())
	rows, err := t.query(ctx, ds.Prepared(true))
	list, err := many[memberRow](rows, err)
	if err != nil {
		return nil, err
	}
	held, err := t.loans(ctx, "")
	if err != nil {
		return nil, err
	}
	members := make([]*library.Member, 0, len(list))
	for _, r := range list {
		members = append(members, &library.Member{Key: r.Key, Name: r.Name, Retired: r.Retired, CheckedOut: library.NewLoanSet(held[r.Key]...)})
	}
	return members, nil
}

func (t *tx) InsertMember(ctx context.Context, m *library.Member) error {
	_, err := t.exec(ctx, dialect.Insert(tableMembers).Rows(goqu.Record{
		colMemberKey: m.Key,
		"name":       m.Name,
		"retired":    m.Retired,
	}).Prepared(true))
	if err != nil {
		return err
	}
	for _, bk := range m.CheckedOut.Keys() {
		if err := t.AddLoan(ctx, m.Key, bk); err != nil {
			return err
		}
	}
	return nil
}

func (t *tx) RetireMember(ctx context.Context, key string) error {
	return t.execOne(ctx, dialect.Update(tableMembers).
		Set(goqu.Record{"retired": true}).
		Where(goqu.C(colMemberKey).Eq(key)).Prepared(true), fmt.Sprintf("member %q", key))
}

func (t *tx) DeleteMember(ctx context.Context, key string) error {
	return t.execOne(ctx, dialect.Delete(tableMembers).
		Where(goqu.C(colMemberKey).Eq(key)).Prepared(true), fmt.Sprintf("member %q", key))
}

func (t *tx) AddLoan(ctx context.Context, memberKey, bookKey string) error {
	_, err := t.exec(ctx, dialect.Insert(tableLoans).
		Rows(goqu.Record{colMemberKey: memberKey, colBookKey: bookKey}).Prepared(true))
	return err
}

func (t *tx) RemoveLoan(ctx context.Context, memberKey, bookKey string) error {
	return t.execOne(ctx, dialect.Delete(tableLoans).
		Where(goqu.Ex{colMemberKey: memberKey, colBookKey: bookKey}).Prepared(true),
		fmt.Sprintf("loan %s/%s", memberKey, bookKey))
}

// ---------------------------------------------------------------------------
// Accounts
// ---------------------------------------------------------------------------

func (t *tx) GetAccount(ctx context.Context, username string) (*library.Account, error) {
	ds := dialect.From(tableAccounts).Select(accountColumns...).Where(goqu.C(colUsername).Eq(username))
	rows, err := t.query(ctx, ds.Prepared(true))
	return one[library.Account](rows, err, fmt.Sprintf("account %q", username))
}

func (t *tx) AccountForMember(ctx context.Context, memberKey string) (*library.Account, error) {
	ds := dialect.From(tableAccounts).Select(accountColumns...).Where(goqu.C(colMemberKey).Eq(memberKey))
	rows, err := t.query(ctx, ds.Prepared(true))
	return one[library.Account](rows, err, fmt.Sprintf("account for member %q", memberKey))
}

func (t *tx) ListAccounts(ctx context.Context) ([]*library.Account, error) {
	ds := dialect.From(tableAccounts).Select(accountColumns...).Order(goqu.C(colUsername).Asc())
	rows, err := t.query(ctx, ds.Prepared(true))
	return many[library.Account](rows, err)
}

func (t *tx) InsertAccount(ctx context.Context, a *library.Account) error {
	var memberKey any
	if a.MemberKey != "" {
		memberKey = a.MemberKey
	}
	_, err := t.exec(ctx, dialect.Insert(tableAccounts).Rows(goqu.Record{
		colUsername:     a.Username,
		"password_hash": a.PasswordHash,
		"role":          string(a.Role),
		colMemberKey:    memberKey,
	}).Prepared(true))
	return err
}

func (t *tx) SetPasswordHash(ctx context.Context, username, hash string) error {
	return t.execOne(ctx, dialect.Update(tableAccounts).
		Set(goqu.Record{"password_hash": hash}).
		Where(goqu.C(colUsername).Eq(username)).Prepared(true), fmt.Sprintf("account %q", username))
}

func (t *tx) DeleteAccount(ctx context.Context, username string) error {
	return t.execOne(ctx, dialect.Delete(tableAccounts).
		Where(goqu.C(colUsername).Eq(username)).Prepared(true), fmt.Sprintf("account %q", username))
}

// ---------------------------------------------------------------------------
// Log
// ---------------------------------------------------------------------------

type logRow struct {
	ID         int64     `db:"log_id"`
	MemberKey  string    `db:"member_key"`
	BookKey    string    `db:"book_key"`
	Kind       string    `db:"kind"`
	OccurredAt time.Time `db:"occurred_at"`
}

func (r *logRow) record() *library.Transaction {
	return &library.Transaction{ID: r.ID, MemberKey: r.MemberKey, BookKey: r.BookKey, Kind: library.Kind(r.Kind), OccurredAt: r.OccurredAt.UTC()}
}

func (t *tx) AppendTransaction(ctx context.Context, memberKey, bookKey string, kind library.Kind) (*library.Transaction, error) {
	if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, logLockKey); err != nil {
		return nil, mapErr(err)
	}

	var last *time.Time
	q, args, err := dialect.From(tableTransactions).Select(goqu.MAX(colOccurredAt)).Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	if err := t.tx.QueryRow(ctx, q, args...).Scan(&last); err != nil {
		return nil, mapErr(err)
	}
	at := t.now().UTC().Truncate(time.Microsecond)
	if last != nil && at.Before(*last) {
		at = last.UTC()
	}

	q, args, err = dialect.Insert(tableTransactions).Rows(goqu.Record{
		colMemberKey:  memberKey,
		colBookKey:    bookKey,
		"kind":        string(kind),
		colOccurredAt: at,
	}).Returning(colLogID).Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var id int64
	if err := t.tx.QueryRow(ctx, q, args...).Scan(&id); err != nil {
		return nil, mapErr(err)
	}
	return &library.Transaction{ID: id, MemberKey: memberKey, BookKey: bookKey, Kind: kind, OccurredAt: at}, nil
}

func filterExpr(f library.TransactionFilter) []exp.Expression {
	var exprs []exp.Expression
	if f.MemberKey != "" {
		exprs = append(exprs, goqu.C(colMemberKey).Eq(f.MemberKey))
	}
	if f.BookKey != "" {
		exprs = append(exprs, goqu.C(colBookKey).Eq(f.BookKey))
	}
	return exprs
}

func (t *tx) ListTransactions(ctx context.Context, f library.TransactionFilter) ([]*library.Transaction, error) {
	ds := dialect.From(tableTransactions).Select(logColumns...).Where(filterExpr(f)...)
	if f.Limit > 0 {
		recent := ds.Order(goqu.C(colLogID).Desc()).Limit(uint(f.Limit))
		ds = dialect.From(recent.As("recent")).Select(logColumns...)
	}
	ds = ds.Order(goqu.C(colLogID).Asc())

	rows, err := t.query(ctx, ds.Prepared(true))
	list, err := many[logRow](rows, err)
	if err != nil {
		return nil, err
	}
	out := make([]*library.Transaction, 0, len(list))
	for _, r := range list {
		out = append(out, r.record())
	}
	return out, nil
}

func (t *tx) CountTransactions(ctx context.Context, f library.TransactionFilter) (int, error) {
	q, args, err := dialect.From(tableTransactions).Select(goqu.COUNT(goqu.Star())).Where(filterExpr(f)...).Prepared(true).ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}
	var n int
	if err := t.tx.QueryRow(ctx, q, args...).Scan(&n); err != nil {
		return 0, mapErr(err)
	}
	return n, nil
}

func (t *tx) DeleteTransactions(ctx context.Context, f library.TransactionFilter) (int64, error) {
	tag, err := t.exec(ctx, dialect.Delete(tableTransactions).Where(filterExpr(f)...).Prepared(true))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
