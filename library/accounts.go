package library

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// NewAccount carries the fields of a login account to create.
type NewAccount struct {
	Username  string
	Secret    string
	Role      Role
	MemberKey string
}

// CreateAccount adds a login. Member accounts must reference an existing
// member that has no account yet; admin accounts must not reference one.
func (e *Engine) CreateAccount(ctx context.Context, p Principal, na NewAccount) (*Account, error) {
	username := strings.TrimSpace(na.Username)
	memberKey := strings.TrimSpace(na.MemberKey)
	fields := []zap.Field{zap.String("username", username), zap.String("role", string(na.Role)), zap.String("principal", p.Username)}
	if err := Authorize(p, OpCreateAccount, ""); err != nil {
		return nil, e.denied(OpCreateAccount, err, fields)
	}
	if err := validateNewAccount(username, na.Secret, na.Role, memberKey); err != nil {
		return nil, e.denied(OpCreateAccount, err, fields)
	}

	hash, err := hashSecret(na.Secret, e.cfg.hashCost)
	if err != nil {
		return nil, e.denied(OpCreateAccount, fmt.Errorf("%v: %w", err, ErrInvalidInput), fields)
	}
	acct := &Account{Username: username, PasswordHash: hash, Role: na.Role, MemberKey: memberKey}

	err = e.update(ctx, OpCreateAccount, fields, func(tx Tx) error {
		return insertAccount(ctx, tx, acct)
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

func validateNewAccount(username, secret string, role Role, memberKey string) error {
	switch {
	case username == "" || secret == "":
		return fmt.Errorf("username and secret are required: %w", ErrInvalidInput)
	case !role.Valid():
		return fmt.Errorf("role %q: %w", role, ErrInvalidInput)
	case role == RoleAdmin && memberKey != "":
		return fmt.Errorf("admin accounts cannot be linked to a member: %w", ErrInvalidInput)
	case role == RoleMember && memberKey == "":
		return fmt.Errorf("member accounts need a member key: %w", ErrInvalidInput)
	}
	return nil
}

func insertAccount(ctx context.Context, tx Tx, acct *Account) error {
	if _, err := tx.GetAccount(ctx, acct.Username); err == nil {
		return fmt.Errorf("username %q: %w", acct.Username, ErrDuplicateKey)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	if acct.Role == RoleMember {
		m, err := tx.GetMember(ctx, acct.MemberKey)
		if err != nil {
			return err
		}
		if m.Retired {
			return fmt.Errorf("member %q is retired: %w", acct.MemberKey, ErrNotFound)
		}
		if other, err := tx.AccountForMember(ctx, acct.MemberKey); err == nil {
			return fmt.Errorf("member %q already linked to %q: %w", acct.MemberKey, other.Username, ErrDuplicateKey)
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	return tx.InsertAccount(ctx, acct)
}

// RemoveAccount deletes a login. An admin cannot remove their own account.
func (e *Engine) RemoveAccount(ctx context.Context, p Principal, username string) error {
	fields := []zap.Field{zap.String("username", username), zap.String("principal", p.Username)}
	if err := Authorize(p, OpRemoveAccount, ""); err != nil {
		return e.denied(OpRemoveAccount, err, fields)
	}
	if username == p.Username {
		return e.denied(OpRemoveAccount, fmt.Errorf("cannot remove own account: %w", ErrInvalidInput), fields)
	}
	return e.update(ctx, OpRemoveAccount, fields, func(tx Tx) error {
		if _, err := tx.GetAccount(ctx, username); err != nil {
			return err
		}
		return tx.DeleteAccount(ctx, username)
	})
}

// ChangePassword replaces the secret of username. Admins may reset any
// account; other principals only their own.
func (e *Engine) ChangePassword(ctx context.Context, p Principal, username, newSecret string) error {
	fields := []zap.Field{zap.String("username", username), zap.String("principal", p.Username)}
	if err := Authorize(p, OpChangePassword, ""); err != nil {
		return e.denied(OpChangePassword, err, fields)
	}
	if !p.IsAdmin() && p.Username != username {
		return e.denied(OpChangePassword, fmt.Errorf("%s may only change own password: %w", p.Username, ErrUnauthorized), fields)
	}
	if newSecret == "" {
		return e.denied(OpChangePassword, fmt.Errorf("secret is required: %w", ErrInvalidInput), fields)
	}
	hash, err := hashSecret(newSecret, e.cfg.hashCost)
	if err != nil {
		return e.denied(OpChangePassword, fmt.Errorf("%v: %w", err, ErrInvalidInput), fields)
	}
	return e.update(ctx, OpChangePassword, fields, func(tx Tx) error {
		if _, err := tx.GetAccount(ctx, username); err != nil {
			return err
		}
		return tx.SetPasswordHash(ctx, username, hash)
	})
}

// ListAccounts returns every login account.
func (e *Engine) ListAccounts(ctx context.Context, p Principal) ([]*Account, error) {
	if err := Authorize(p, OpViewAdmin, ""); err != nil {
		return nil, err
	}
	var out []*Account
	err := e.store.View(ctx, func(tx Tx) error {
		var err error
		out, err = tx.ListAccounts(ctx)
		return err
	})
	return out, err
}

// UnlinkedMembers returns active members that have no login account yet.
func (e *Engine) UnlinkedMembers(ctx context.Context, p Principal) ([]*Member, error) {
	if err := Authorize(p, OpViewAdmin, ""); err != nil {
		return nil, err
	}
	var out []*Member
	err := e.store.View(ctx, func(tx Tx) error {
		members, err := tx.ListMembers(ctx)
		if err != nil {
			return err
		}
		accounts, err := tx.ListAccounts(ctx)
		if err != nil {
			return err
		}
		linked := make(map[string]bool, len(accounts))
		for _, a := range accounts {
			if a.MemberKey != "" {
				linked[a.MemberKey] = true
			}
		}
		for _, m := range members {
			if !m.Retired && !linked[m.Key] {
				out = append(out, m)
			}
		}
		return nil
	})
	return out, err
}

// BootstrapAdmin creates the first admin account. It fails with
// ErrUnauthorized once any admin exists.
func (e *Engine) BootstrapAdmin(ctx context.Context, username, secret string) (*Account, error) {
	username = strings.TrimSpace(username)
	fields := []zap.Field{zap.String("username", username)}
	if err := validateNewAccount(username, secret, RoleAdmin, ""); err != nil {
		return nil, e.denied(OpCreateAccount, err, fields)
	}
	hash, err := hashSecret(secret, e.cfg.hashCost)
	if err != nil {
		return nil, e.denied(OpCreateAccount, fmt.Errorf("%v: %w", err, ErrInvalidInput), fields)
	}
	acct := &Account{Username: username, PasswordHash: hash, Role: RoleAdmin}
	err = e.update(ctx, OpCreateAccount, fields, func(tx Tx) error {
		accounts, err := tx.ListAccounts(ctx)
		if err != nil {
			return err
		}
		for _, a := range accounts {
			if a.Role == RoleAdmin {
				return fmt.Errorf("admin %q already exists: %w", a.Username, ErrUnauthorized)
			}
		}
		return insertAccount(ctx, tx, acct)
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}
