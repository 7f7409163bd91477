package library

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a book, member or account key is unknown.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when a key or username is already taken.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidQuantity is returned for copy counts below one or below the
	// number of copies currently on loan.
	ErrInvalidQuantity = errors.New("invalid quantity")

	// ErrBookInUse is returned when removing a book with copies on loan.
	ErrBookInUse = errors.New("book has copies checked out")

	// ErrMemberHasLoans is returned when removing a member who still holds books.
	ErrMemberHasLoans = errors.New("member has books checked out")

	// ErrAlreadyCheckedOut is returned when a member already holds the book.
	ErrAlreadyCheckedOut = errors.New("book already checked out by member")

	// ErrNotCheckedOutByMember is returned when returning a book the member does not hold.
	ErrNotCheckedOutByMember = errors.New("book not checked out by member")

	// ErrNoCopiesAvailable is returned when every copy of a book is on loan.
	ErrNoCopiesAvailable = errors.New("no copies available")

	// ErrCheckoutLimitReached is returned when a member holds the maximum number of books.
	ErrCheckoutLimitReached = errors.New("checkout limit reached")

	// ErrInvalidCredentials is returned for an unknown username or a wrong secret.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUnauthorized is returned when a principal may not perform an operation.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrStoreConflict is returned when a transaction lost a race at commit time.
	ErrStoreConflict = errors.New("store conflict")

	// ErrGenerationExhausted is returned when no unused member key could be generated.
	ErrGenerationExhausted = errors.New("key generation exhausted")

	// ErrInvalidInput is returned for empty names and inconsistent account fields.
	ErrInvalidInput = errors.New("invalid input")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrNotFound, "not_found"},
	{ErrDuplicateKey, "duplicate_key"},
	{ErrInvalidQuantity, "invalid_quantity"},
	{ErrBookInUse, "book_in_use"},
	{ErrMemberHasLoans, "member_has_loans"},
	{ErrAlreadyCheckedOut, "already_checked_out"},
	{ErrNotCheckedOutByMember, "not_checked_out_by_member"},
	{ErrNoCopiesAvailable, "no_copies_available"},
	{ErrCheckoutLimitReached, "checkout_limit_reached"},
	{ErrInvalidCredentials, "invalid_credentials"},
	{ErrUnauthorized, "unauthorized"},
	{ErrStoreConflict, "store_conflict"},
	{ErrGenerationExhausted, "generation_exhausted"},
	{ErrInvalidInput, "invalid_input"},
}

// ErrorKind returns a stable label for err, suitable for logs and metric
// labels. It returns "none" for nil and "other" for errors outside the
// circulation taxonomy.
func ErrorKind(err error) string {
	if err == nil {
		return "none"
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	if errors.Is(err, context.Canceled) {
		return "context_canceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "context_deadline_exceeded"
	}
	return "other"
}

// IsDomainError reports whether err belongs to the circulation taxonomy,
// i.e. it is a recoverable condition to show to the caller.
func IsDomainError(err error) bool {
	k := ErrorKind(err)
	return k != "none" && k != "other" && k != "context_canceled" && k != "context_deadline_exceeded"
}
