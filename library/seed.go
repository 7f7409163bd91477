package library

import (
	"context"

	"go.uber.org/zap"
)

// SeedAccount is a sample login created by Seed.
type SeedAccount struct {
	Username  string
	Secret    string
	Role      Role
	MemberKey string
}

var (
	seedBooks = []Book{
		{Key: "978-0321765723", Title: "The Lord of the Rings", Author: "J.R.R. Tolkien", Genre: "Fantasy", Total: 5, Available: 5, CoverURL: "https://covers.openlibrary.org/b/id/12838421-L.jpg"},
		{Key: "978-0132354181", Title: "Clean Code", Author: "Robert C. Martin", Genre: "Software", Total: 3, Available: 3, CoverURL: "https://covers.openlibrary.org/b/id/8230017-L.jpg"},
		{Key: "978-0743273565", Title: "The Great Gatsby", Author: "F. Scott Fitzgerald", Genre: "Classic", Total: 4, Available: 4, CoverURL: "https://covers.openlibrary.org/b/id/11181672-L.jpg"},
	}
	seedMembers = []Member{
		{Key: "M-001", Name: "Alice Smith"},
		{Key: "M-002", Name: "Bob Johnson"},
	}
	// SeedAccounts are the demo logins. They are meant for local trials only.
	SeedAccounts = []SeedAccount{
		{Username: "admin", Secret: "admin123", Role: RoleAdmin},
		{Username: "alice", Secret: "pass123", Role: RoleMember, MemberKey: "M-001"},
		{Username: "bob", Secret: "pass456", Role: RoleMember, MemberKey: "M-002"},
	}
)

// Seed fills an empty store with sample books, members and accounts. It
// reports false and changes nothing when any book, member or account exists.
func (e *Engine) Seed(ctx context.Context) (bool, error) {
	accounts := make([]*Account, 0, len(SeedAccounts))
	for _, sa := range SeedAccounts {
		hash, err := hashSecret(sa.Secret, e.cfg.hashCost)
		if err != nil {
			return false, err
		}
		accounts = append(accounts, &Account{Username: sa.Username, PasswordHash: hash, Role: sa.Role, MemberKey: sa.MemberKey})
	}

	seeded := false
	err := e.update(ctx, OpSeed, nil, func(tx Tx) error {
		seeded = false
		empty, err := storeEmpty(ctx, tx)
		if err != nil || !empty {
			return err
		}
		for i := range seedBooks {
			b := seedBooks[i]
			if err := tx.InsertBook(ctx, &b); err != nil {
				return err
			}
		}
		for i := range seedMembers {
			m := seedMembers[i]
			m.CheckedOut = NewLoanSet()
			if err := tx.InsertMember(ctx, &m); err != nil {
				return err
			}
		}
		for _, a := range accounts {
			if err := tx.InsertAccount(ctx, a); err != nil {
				return err
			}
		}
		seeded = true
		return nil
	})
	if err == nil && !seeded {
		e.log.Info("store not empty, skipping seed")
	} else if err == nil {
		e.log.Info("seeded sample data", zap.Int("books", len(seedBooks)), zap.Int("members", len(seedMembers)))
	}
	return seeded, err
}

func storeEmpty(ctx context.Context, tx Tx) (bool, error) {
	books, err := tx.ListBooks(ctx)
	if err != nil || len(books) > 0 {
		return false, err
	}
	members, err := tx.ListMembers(ctx)
	if err != nil || len(members) > 0 {
		return false, err
	}
	accounts, err := tx.ListAccounts(ctx)
	if err != nil {
		return false, err
	}
	return len(accounts) == 0, nil
}
