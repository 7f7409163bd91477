package library

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Operation names a circulation operation for authorization, logging and metrics.
type Operation string

const (
	OpAddBook        Operation = "add_book"
	OpUpdateQuantity Operation = "update_quantity"
	OpRemoveBook     Operation = "remove_book"
	OpRegisterMember Operation = "register_member"
	OpRemoveMember   Operation = "remove_member"
	OpCreateAccount  Operation = "create_account"
	OpRemoveAccount  Operation = "remove_account"
	OpChangePassword Operation = "change_password"
	OpCheckout       Operation = "checkout"
	OpReturn         Operation = "return"
	OpViewMember     Operation = "view_member"
	OpViewCatalog    Operation = "view_catalog"
	OpViewAdmin      Operation = "view_admin"
	OpSeed           Operation = "seed"
)

// adminOnly lists the operations that require the admin role regardless of target.
var adminOnly = map[Operation]bool{
	OpAddBook:        true,
	OpUpdateQuantity: true,
	OpRemoveBook:     true,
	OpRegisterMember: true,
	OpRemoveMember:   true,
	OpCreateAccount:  true,
	OpRemoveAccount:  true,
	OpViewAdmin:      true,
}

// Authorize checks whether p may perform op. memberKey is the member the
// operation acts on and is only consulted for member-scoped operations.
func Authorize(p Principal, op Operation, memberKey string) error {
	if p.Username == "" || !p.Role.Valid() {
		return fmt.Errorf("%s: not authenticated: %w", op, ErrUnauthorized)
	}
	if p.IsAdmin() {
		return nil
	}
	if adminOnly[op] {
		return fmt.Errorf("%s requires admin role: %w", op, ErrUnauthorized)
	}
	switch op {
	case OpCheckout, OpReturn, OpViewMember:
		if p.MemberKey == "" || p.MemberKey != memberKey {
			return fmt.Errorf("%s: %s may only act on own member record: %w", op, p.Username, ErrUnauthorized)
		}
	}
	return nil
}

// Guard resolves credentials to a Principal. It keeps no session state.
type Guard struct {
	store  Store
	logger *zap.Logger
	// dummy is compared against when the username is unknown. It has the
	// configured cost so both failure paths cost the same bcrypt comparison.
	dummy []byte
}

// NewGuard creates a Guard reading accounts from store.
func NewGuard(store Store, opts ...Option) (*Guard, error) {
	s, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("library-circulation"), s.hashCost)
	if err != nil {
		return nil, fmt.Errorf("hash dummy credential: %w", err)
	}
	return &Guard{store: store, logger: s.logger.Named("guard"), dummy: dummy}, nil
}

// Authenticate verifies username and secret and returns the principal.
// Unknown users and wrong secrets both yield ErrInvalidCredentials.
func (g *Guard) Authenticate(ctx context.Context, username, secret string) (Principal, error) {
	var acct *Account
	err := g.store.View(ctx, func(tx Tx) error {
		a, err := tx.GetAccount(ctx, strings.TrimSpace(username))
		if err != nil {
			return err
		}
		acct = a
		return nil
	})
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Principal{}, err
	}

	hash := g.dummy
	if acct != nil {
		hash = []byte(acct.PasswordHash)
	}
	if cmpErr := bcrypt.CompareHashAndPassword(hash, []byte(secret)); cmpErr != nil || acct == nil {
		g.logger.Info("authentication failed", zap.String("username", username))
		return Principal{}, ErrInvalidCredentials
	}

	g.logger.Debug("authenticated", zap.String("username", acct.Username), zap.String("role", string(acct.Role)))
	return Principal{Username: acct.Username, Role: acct.Role, MemberKey: acct.MemberKey}, nil
}

func hashSecret(secret string, cost int) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", fmt.Errorf("hash credential: %w", err)
	}
	return string(h), nil
}
