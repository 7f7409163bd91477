package library

import (
	"sort"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultCheckoutLimit is the number of books a member may hold at once
// unless configured otherwise.
const DefaultCheckoutLimit = 5

// Book is a catalog title with a fixed number of physical copies.
// Available never exceeds Total and never drops below zero.
type Book struct {
	Key       string `json:"key" db:"book_key"`
	Title     string `json:"title" db:"title"`
	Author    string `json:"author" db:"author"`
	Genre     string `json:"genre" db:"genre"`
	Total     int    `json:"total" db:"total_quantity"`
	Available int    `json:"available" db:"available"`
	CoverURL  string `json:"cover_url,omitempty" db:"cover_url"`
	Retired   bool   `json:"retired,omitempty" db:"retired"`
}

// CheckedOut returns the number of copies currently on loan.
func (b *Book) CheckedOut() int { return b.Total - b.Available }

// Member represents a registered library patron. A member is distinct from a
// login account.
type Member struct {
	Key        string  `json:"key"`
	Name       string  `json:"name"`
	CheckedOut LoanSet `json:"checked_out"`
	Retired    bool    `json:"retired,omitempty"`
}

// LoanSet is the set of book keys a member currently holds.
type LoanSet map[string]struct{}

// NewLoanSet builds a set from keys; duplicates collapse.
func NewLoanSet(keys ...string) LoanSet {
	s := make(LoanSet, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

func (s LoanSet) Has(key string) bool {
	_, ok := s[key]
	return ok
}

func (s LoanSet) Len() int { return len(s) }

// Keys returns the members of the set in sorted order.
func (s LoanSet) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MarshalJSON renders the set as a sorted array.
func (s LoanSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Keys())
}

// UnmarshalJSON accepts an array of keys.
func (s *LoanSet) UnmarshalJSON(data []byte) error {
	var keys []string
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}
	*s = NewLoanSet(keys...)
	return nil
}

// Role is the authorization level of an account.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool { return r == RoleAdmin || r == RoleMember }

// Account is a login principal. Member accounts are bound to exactly one
// member; admin accounts have no member.
type Account struct {
	Username     string `json:"username" db:"username"`
	PasswordHash string `json:"-" db:"password_hash"` // Don't serialize password hash
	Role         Role   `json:"role" db:"role"`
	MemberKey    string `json:"member_key,omitempty" db:"member_key"`
}

// Kind distinguishes checkout and return records.
type Kind string

const (
	KindCheckout Kind = "checkout"
	KindReturn   Kind = "return"
)

// Transaction is an immutable circulation log entry.
type Transaction struct {
	ID         int64     `json:"id" db:"log_id"`
	MemberKey  string    `json:"member_key" db:"member_key"`
	BookKey    string    `json:"book_key" db:"book_key"`
	Kind       Kind      `json:"kind" db:"kind"`
	OccurredAt time.Time `json:"occurred_at" db:"-"`
}

// TransactionFilter narrows a log listing. Zero values match everything;
// Limit > 0 keeps only the most recent Limit entries.
type TransactionFilter struct {
	MemberKey string
	BookKey   string
	Limit     int
}

// Match reports whether t passes the key filters.
func (f TransactionFilter) Match(t *Transaction) bool {
	if f.MemberKey != "" && t.MemberKey != f.MemberKey {
		return false
	}
	if f.BookKey != "" && t.BookKey != f.BookKey {
		return false
	}
	return true
}

// Principal is an authenticated caller.
type Principal struct {
	Username  string `json:"username"`
	Role      Role   `json:"role"`
	MemberKey string `json:"member_key,omitempty"`
}

// IsAdmin reports whether the principal holds the admin role.
func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }
