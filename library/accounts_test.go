package library_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"library-circulation/library"
	"library-circulation/store/memory"
)

func newLibrary(t *testing.T, opts ...library.Option) *library.Library {
	t.Helper()
	opts = append([]library.Option{library.WithHashCost(bcrypt.MinCost)}, opts...)
	lib, err := library.New(memory.New(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { lib.Close() })
	return lib
}

func TestLogin(t *testing.T) {
	ctx := context.Background()
	lib := newLibrary(t)
	m := register(t, lib.Engine, "Ann")
	_, err := lib.CreateAccount(ctx, admin, library.NewAccount{Username: "ann", Secret: "s3cret", Role: library.RoleMember, MemberKey: m})
	require.NoError(t, err)

	p, err := lib.Login(ctx, "ann", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, library.Principal{Username: "ann", Role: library.RoleMember, MemberKey: m}, p)

	_, err = lib.Login(ctx, "ann", "wrong")
	assert.ErrorIs(t, err, library.ErrInvalidCredentials)
	_, err = lib.Login(ctx, "nobody", "s3cret")
	assert.ErrorIs(t, err, library.ErrInvalidCredentials)
}

func TestCreateAccountRules(t *testing.T) {
	ctx := context.Background()
	lib := newLibrary(t)
	m := register(t, lib.Engine, "Ann")
	_, err := lib.CreateAccount(ctx, admin, library.NewAccount{Username: "ann", Secret: "pw", Role: library.RoleMember, MemberKey: m})
	require.NoError(t, err)

	tests := []struct {
		name string
		na   library.NewAccount
		want error
	}{
		{"username taken", library.NewAccount{Username: "ann", Secret: "pw", Role: library.RoleAdmin}, library.ErrDuplicateKey},
		{"member already linked", library.NewAccount{Username: "ann2", Secret: "pw", Role: library.RoleMember, MemberKey: m}, library.ErrDuplicateKey},
		{"unknown member", library.NewAccount{Username: "ghost", Secret: "pw", Role: library.RoleMember, MemberKey: "M-NOPE"}, library.ErrNotFound},
		{"admin linked to member", library.NewAccount{Username: "boss", Secret: "pw", Role: library.RoleAdmin, MemberKey: m}, library.ErrInvalidInput},
		{"member without key", library.NewAccount{Username: "loose", Secret: "pw", Role: library.RoleMember}, library.ErrInvalidInput},
		{"unknown role", library.NewAccount{Username: "odd", Secret: "pw", Role: "guest"}, library.ErrInvalidInput},
		{"empty secret", library.NewAccount{Username: "odd", Role: library.RoleAdmin}, library.ErrInvalidInput},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := lib.CreateAccount(ctx, admin, tc.na)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	accounts, err := lib.ListAccounts(ctx, admin)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "ann", accounts[0].Username)
}

func TestUnlinkedMembers(t *testing.T) {
	ctx := context.Background()
	lib := newLibrary(t)
	ann := register(t, lib.Engine, "Ann")
	bob := register(t, lib.Engine, "Bob")
	_, err := lib.CreateAccount(ctx, admin, library.NewAccount{Username: "ann", Secret: "pw", Role: library.RoleMember, MemberKey: ann})
	require.NoError(t, err)

	unlinked, err := lib.UnlinkedMembers(ctx, admin)
	require.NoError(t, err)
	require.Len(t, unlinked, 1)
	assert.Equal(t, bob, unlinked[0].Key)
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	lib := newLibrary(t)
	ann := register(t, lib.Engine, "Ann")
	bob := register(t, lib.Engine, "Bob")
	for _, na := range []library.NewAccount{
		{Username: "ann", Secret: "old", Role: library.RoleMember, MemberKey: ann},
		{Username: "bob", Secret: "old", Role: library.RoleMember, MemberKey: bob},
	} {
		_, err := lib.CreateAccount(ctx, admin, na)
		require.NoError(t, err)
	}
	p, err := lib.Login(ctx, "ann", "old")
	require.NoError(t, err)

	require.NoError(t, lib.ChangePassword(ctx, p, "ann", "new"))
	_, err = lib.Login(ctx, "ann", "old")
	assert.ErrorIs(t, err, library.ErrInvalidCredentials)
	_, err = lib.Login(ctx, "ann", "new")
	assert.NoError(t, err)

	assert.ErrorIs(t, lib.ChangePassword(ctx, p, "bob", "hijack"), library.ErrUnauthorized)
	assert.ErrorIs(t, lib.ChangePassword(ctx, p, "ann", ""), library.ErrInvalidInput)
	require.NoError(t, lib.ChangePassword(ctx, admin, "bob", "reset"))
	_, err = lib.Login(ctx, "bob", "reset")
	assert.NoError(t, err)
	assert.ErrorIs(t, lib.ChangePassword(ctx, admin, "carol", "x"), library.ErrNotFound)
}

func TestRemoveAccount(t *testing.T) {
	ctx := context.Background()
	lib := newLibrary(t)
	first, err := lib.BootstrapAdmin(ctx, "root", "toor")
	require.NoError(t, err)
	root := library.Principal{Username: first.Username, Role: first.Role}
	_, err = lib.CreateAccount(ctx, root, library.NewAccount{Username: "deputy", Secret: "pw", Role: library.RoleAdmin})
	require.NoError(t, err)

	assert.ErrorIs(t, lib.RemoveAccount(ctx, root, "root"), library.ErrInvalidInput)
	require.NoError(t, lib.RemoveAccount(ctx, root, "deputy"))
	assert.ErrorIs(t, lib.RemoveAccount(ctx, root, "deputy"), library.ErrNotFound)
}

func TestBootstrapAdminOnlyOnce(t *testing.T) {
	ctx := context.Background()
	lib := newLibrary(t)
	_, err := lib.BootstrapAdmin(ctx, "root", "toor")
	require.NoError(t, err)
	_, err = lib.BootstrapAdmin(ctx, "other", "pw")
	assert.ErrorIs(t, err, library.ErrUnauthorized)

	p, err := lib.Login(ctx, "root", "toor")
	require.NoError(t, err)
	assert.True(t, p.IsAdmin())
}

func TestAuthorize(t *testing.T) {
	reader := library.Principal{Username: "ann", Role: library.RoleMember, MemberKey: "M-1"}
	tests := []struct {
		name   string
		p      library.Principal
		op     library.Operation
		target string
		ok     bool
	}{
		{"admin adds book", admin, library.OpAddBook, "", true},
		{"admin checks out for anyone", admin, library.OpCheckout, "M-9", true},
		{"member checks out for self", reader, library.OpCheckout, "M-1", true},
		{"member checks out for other", reader, library.OpCheckout, "M-9", false},
		{"member returns for other", reader, library.OpReturn, "M-9", false},
		{"member adds book", reader, library.OpAddBook, "", false},
		{"member creates account", reader, library.OpCreateAccount, "", false},
		{"member browses catalog", reader, library.OpViewCatalog, "", true},
		{"anonymous", library.Principal{}, library.OpViewCatalog, "", false},
		{"unknown role", library.Principal{Username: "x", Role: "guest"}, library.OpViewCatalog, "", false},
		{"member without binding", library.Principal{Username: "x", Role: library.RoleMember}, library.OpCheckout, "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := library.Authorize(tc.p, tc.op, tc.target)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, library.ErrUnauthorized)
			}
		})
	}
}
