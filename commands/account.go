package commands

import (
	"context"

	"github.com/spf13/cobra"

	"library-circulation/library"
	"library-circulation/output"
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage login accounts",
}

var (
	accountRole   string
	accountMember string
)

var accountCreateCmd = &cobra.Command{
	Use:   "create USERNAME",
	Short: "Create a login; member logins need --member",
	Args:  exactArgs(1, "USERNAME"),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, false, func(ctx context.Context, s *session) error {
			secret, err := newSecret(args[0])
			if err != nil {
				return err
			}
			a, err := s.lib.CreateAccount(ctx, s.who, library.NewAccount{
				Username:  args[0],
				Secret:    secret,
				Role:      library.Role(accountRole),
				MemberKey: accountMember,
			})
			if err != nil {
				return err
			}
			if jsonOutput {
				return output.JSON(a)
			}
			if a.MemberKey != "" {
				output.Success("Created %s account '%s' for member %s", a.Role, a.Username, a.MemberKey)
			} else {
				output.Success("Created %s account '%s'", a.Role, a.Username)
			}
			return nil
		})
	},
}

var accountRemoveCmd = &cobra.Command{
	Use:   "remove USERNAME",
	Short: "Remove a login",
	Args:  exactArgs(1, "USERNAME"),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, false, func(ctx context.Context, s *session) error {
			if err := s.lib.RemoveAccount(ctx, s.who, args[0]); err != nil {
				return err
			}
			output.Success("Removed account '%s'", args[0])
			return nil
		})
	},
}

var accountPasswdCmd = &cobra.Command{
	Use:   "passwd [USERNAME]",
	Short: "Change a password (default: your own)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, false, func(ctx context.Context, s *session) error {
			target := s.who.Username
			if len(args) == 1 {
				target = args[0]
			}
			secret, err := newSecret(target)
			if err != nil {
				return err
			}
			if err := s.lib.ChangePassword(ctx, s.who, target, secret); err != nil {
				return err
			}
			output.Success("Password successfully reset for %s", target)
			return nil
		})
	},
}

var accountListCmd = &cobra.Command{
	Use:   "list",
	Short: "List login accounts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd, false, func(ctx context.Context, s *session) error {
			accounts, err := s.lib.ListAccounts(ctx, s.who)
			if err != nil {
				return err
			}
			return printAccounts(accounts)
		})
	},
}

var accountUnlinkedCmd = &cobra.Command{
	Use:   "unlinked",
	Short: "List members that have no login yet",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd, false, func(ctx context.Context, s *session) error {
			members, err := s.lib.UnlinkedMembers(ctx, s.who)
			if err != nil {
				return err
			}
			return printMembers(members)
		})
	},
}

func init() {
	accountCreateCmd.Flags().StringVar(&accountRole, "role", string(library.RoleMember), "Role: admin or member")
	accountCreateCmd.Flags().StringVar(&accountMember, "member", "", "Member key to link (member role only)")

	accountCmd.AddCommand(accountCreateCmd, accountRemoveCmd, accountPasswdCmd, accountListCmd, accountUnlinkedCmd)
	rootCmd.AddCommand(accountCmd)
}
