package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"library-circulation/library"
)

type tx struct {
	tx  *sqlx.Tx
	now func() time.Time
}

var _ library.Tx = (*tx)(nil)

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf(format+": %w", append(args, library.ErrNotFound)...)
	}
	return mapErr(err)
}

// affected turns a zero-row update into ErrNotFound.
func affected(res sql.Result, err error, what string) error {
	if err != nil {
		return mapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, library.ErrNotFound)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Catalog
// ---------------------------------------------------------------------------

const bookColumns = `book_key,title,author,genre,total_quantity,available,cover_url,retired`

func (t *tx) GetBook(ctx context.Context, key string) (*library.Book, error) {
	var b library.Book
	err := t.tx.GetContext(ctx, &b, `SELECT `+bookColumns+` FROM books WHERE book_key=?`, key)
	if err != nil {
		return nil, notFound(err, "book %q", key)
	}
	return &b, nil
}

func (t *tx) ListBooks(ctx context.Context) ([]*library.Book, error) {
	var books []*library.Book
	if err := t.tx.SelectContext(ctx, &books, `SELECT `+bookColumns+` FROM books ORDER BY book_key`); err != nil {
		return nil, mapErr(err)
	}
	return books, nil
}

func (t *tx) InsertBook(ctx context.Context, b *library.Book) error {
	_, err := t.tx.NamedExecContext(ctx, `INSERT INTO books(`+bookColumns+`)
        VALUES(:book_key,:title,:author,:genre,:total_quantity,:available,:cover_url,:retired)`, b)
	return mapErr(err)
}

func (t *tx) SetBookCounts(ctx context.Context, key string, total, available int) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE books SET total_quantity=?, available=? WHERE book_key=?`, total, available, key)
	return affected(res, err, fmt.Sprintf("book %q", key))
}

func (t *tx) RetireBook(ctx context.Context, key string) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE books SET retired=1 WHERE book_key=?`, key)
	return affected(res, err, fmt.Sprintf("book %q", key))
}

func (t *tx) DeleteBook(ctx context.Context, key string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM books WHERE book_key=?`, key)
	return affected(res, err, fmt.Sprintf("book %q", key))
}

// ---------------------------------------------------------------------------
// Members
// ---------------------------------------------------------------------------

type memberRow struct {
	Key     string `db:"member_key"`
	Name    string `db:"name"`
	Retired bool   `db:"retired"`
}

type loanRow struct {
	MemberKey string `db:"member_key"`
	BookKey   string `db:"book_key"`
}

func (t *tx) GetMember(ctx context.Context, key string) (*library.Member, error) {
	var row memberRow
	if err := t.tx.GetContext(ctx, &row, `SELECT member_key,name,retired FROM members WHERE member_key=?`, key); err != nil {
		return nil, notFound(err, "member %q", key)
	}
	var books []string
	if err := t.tx.SelectContext(ctx, &books, `SELECT book_key FROM loans WHERE member_key=?`, key); err != nil {
		return nil, mapErr(err)
	}
	return &library.Member{Key: row.Key, Name: row.Name, Retired: row.Retired, CheckedOut: library.NewLoanSet(books...)}, nil
}

func (t *tx) ListMembers(ctx context.Context) ([]*library.Member, error) {
	var rows []memberRow
	if err := t.tx.SelectContext(ctx, &rows, `SELECT member_key,name,retired FROM members ORDER BY member_key`); err != nil {
		return nil, mapErr(err)
	}
	var loans []loanRow
	if err := t.tx.SelectContext(ctx, &loans, `SELECT member_key,book_key FROM loans`); err != nil {
		return nil, mapErr(err)
	}
	held := make(map[string][]string)
	for _, l := range loans {
		held[l.MemberKey] = append(held[l.MemberKey], l.BookKey)
	}

	members := make([]*library.Member, 0, len(rows))
	for _, r := range rows {
		members = append(members, &library.Member{Key: r.Key, Name: r.Name, Retired: r.Retired, CheckedOut: library.NewLoanSet(held[r.Key]...)})
	}
	return members, nil
}

func (t *tx) InsertMember(ctx context.Context, m *library.Member) error {
	if _, err := t.tx.ExecContext(ctx, `INSERT INTO members(member_key,name,retired) VALUES(?,?,?)`, m.Key, m.Name, m.Retired); err != nil {
		return mapErr(err)
	}
	for _, bk := range m.CheckedOut.Keys() {
		if err := t.AddLoan(ctx, m.Key, bk); err != nil {
			return err
		}
	}
	return nil
}

func (t *tx) RetireMember(ctx context.Context, key string) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE members SET retired=1 WHERE member_key=?`, key)
	return affected(res, err, fmt.Sprintf("member %q", key))
}

func (t *tx) DeleteMember(ctx context.Context, key string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM members WHERE member_key=?`, key)
	return affected(res, err, fmt.Sprintf("member %q", key))
}

func (t *tx) AddLoan(ctx context.Context, memberKey, bookKey string) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO loans(member_key,book_key) VALUES(?,?)`, memberKey, bookKey)
	return mapErr(err)
}

func (t *tx) RemoveLoan(ctx context.Context, memberKey, bookKey string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM loans WHERE member_key=? AND book_key=?`, memberKey, bookKey)
	return affected(res, err, fmt.Sprintf("loan %s/%s", memberKey, bookKey))
}

// ---------------------------------------------------------------------------
// Accounts
// ---------------------------------------------------------------------------

const accountColumns = `username,password_hash,role,COALESCE(member_key,'') AS member_key`

func (t *tx) GetAccount(ctx context.Context, username string) (*library.Account, error) {
	var a library.Account
	if err := t.tx.GetContext(ctx, &a, `SELECT `+accountColumns+` FROM accounts WHERE username=?`, username); err != nil {
		return nil, notFound(err, "account %q", username)
	}
	return &a, nil
}

func (t *tx) AccountForMember(ctx context.Context, memberKey string) (*library.Account, error) {
	var a library.Account
	if err := t.tx.GetContext(ctx, &a, `SELECT `+accountColumns+` FROM accounts WHERE member_key=?`, memberKey); err != nil {
		return nil, notFound(err, "account for member %q", memberKey)
	}
	return &a, nil
}

func (t *tx) ListAccounts(ctx context.Context) ([]*library.Account, error) {
	var accounts []*library.Account
	if err := t.tx.SelectContext(ctx, &accounts, `SELECT `+accountColumns+` FROM accounts ORDER BY username`); err != nil {
		return nil, mapErr(err)
	}
	return accounts, nil
}

func (t *tx) InsertAccount(ctx context.Context, a *library.Account) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO accounts(username,password_hash,role,member_key) VALUES(?,?,?,NULLIF(?,''))`,
		a.Username, a.PasswordHash, a.Role, a.MemberKey)
	return mapErr(err)
}

func (t *tx) SetPasswordHash(ctx context.Context, username, hash string) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE accounts SET password_hash=? WHERE username=?`, hash, username)
	return affected(res, err, fmt.Sprintf("account %q", username))
}

func (t *tx) DeleteAccount(ctx context.Context, username string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM accounts WHERE username=?`, username)
	return affected(res, err, fmt.Sprintf("account %q", username))
}

// ---------------------------------------------------------------------------
// Log
// ---------------------------------------------------------------------------

type logRow struct {
	library.Transaction
	At int64 `db:"occurred_at"`
}

func (r logRow) record() *library.Transaction {
	rec := r.Transaction
	rec.OccurredAt = time.Unix(0, r.At).UTC()
	return &rec
}

func (t *tx) AppendTransaction(ctx context.Context, memberKey, bookKey string, kind library.Kind) (*library.Transaction, error) {
	var last int64
	if err := t.tx.GetContext(ctx, &last, `SELECT COALESCE(MAX(occurred_at),0) FROM transactions`); err != nil {
		return nil, mapErr(err)
	}
	at := t.now().UTC().UnixNano()
	if at < last {
		at = last
	}

	res, err := t.tx.ExecContext(ctx, `INSERT INTO transactions(member_key,book_key,kind,occurred_at) VALUES(?,?,?,?)`,
		memberKey, bookKey, kind, at)
	if err != nil {
		return nil, mapErr(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &library.Transaction{ID: id, MemberKey: memberKey, BookKey: bookKey, Kind: kind, OccurredAt: time.Unix(0, at).UTC()}, nil
}

func whereClause(f library.TransactionFilter) (string, []any) {
	var conds []string
	var args []any
	if f.MemberKey != "" {
		conds = append(conds, "member_key=?")
		args = append(args, f.MemberKey)
	}
	if f.BookKey != "" {
		conds = append(conds, "book_key=?")
		args = append(args, f.BookKey)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (t *tx) ListTransactions(ctx context.Context, f library.TransactionFilter) ([]*library.Transaction, error) {
	where, args := whereClause(f)
	q := `SELECT log_id,member_key,book_key,kind,occurred_at FROM transactions` + where + ` ORDER BY log_id`
	if f.Limit > 0 {
		q = `SELECT * FROM (SELECT log_id,member_key,book_key,kind,occurred_at FROM transactions` + where +
			` ORDER BY log_id DESC LIMIT ?) ORDER BY log_id`
		args = append(args, f.Limit)
	}

	var rows []logRow
	if err := t.tx.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, mapErr(err)
	}
	out := make([]*library.Transaction, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.record())
	}
	return out, nil
}

func (t *tx) CountTransactions(ctx context.Context, f library.TransactionFilter) (int, error) {
	where, args := whereClause(f)
	var n int
	if err := t.tx.GetContext(ctx, &n, `SELECT COUNT(*) FROM transactions`+where, args...); err != nil {
		return 0, mapErr(err)
	}
	return n, nil
}

func (t *tx) DeleteTransactions(ctx context.Context, f library.TransactionFilter) (int64, error) {
	where, args := whereClause(f)
	res, err := t.tx.ExecContext(ctx, `DELETE FROM transactions`+where, args...)
	if err != nil {
		return 0, mapErr(err)
	}
	return res.RowsAffected()
}
