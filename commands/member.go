package commands

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"library-circulation/output"
)

var memberCmd = &cobra.Command{
	Use:   "member",
	Short: "Manage members",
}

var memberRegisterCmd = &cobra.Command{
	Use:   "register NAME",
	Short: "Register a member and print the generated key",
	Args:  exactArgs(1, "NAME"),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, false, func(ctx context.Context, s *session) error {
			m, err := s.lib.RegisterMember(ctx, s.who, args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return output.JSON(m)
			}
			output.Success("Added member '%s' with key %s", m.Name, m.Key)
			return nil
		})
	},
}

var memberRemoveCmd = &cobra.Command{
	Use:   "remove KEY",
	Short: "Remove a member with no books out, and their account",
	Args:  exactArgs(1, "KEY"),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, false, func(ctx context.Context, s *session) error {
			retired, err := s.lib.RemoveMember(ctx, s.who, args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return output.JSON(map[string]any{"key": args[0], "retired": retired})
			}
			if retired {
				output.Success("Retired member %s; their history is kept", args[0])
			} else {
				output.Success("Removed member %s", args[0])
			}
			return nil
		})
	},
}

var memberListCmd = &cobra.Command{
	Use:   "list",
	Short: "List members",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd, false, func(ctx context.Context, s *session) error {
			members, err := s.lib.ListMembers(ctx, s.who)
			if err != nil {
				return err
			}
			return printMembers(members)
		})
	},
}

var memberShowCmd = &cobra.Command{
	Use:   "show [KEY]",
	Short: "Show a member's loans and history (default: your own)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, false, func(ctx context.Context, s *session) error {
			key := s.who.MemberKey
			if len(args) == 1 {
				key = args[0]
			}
			if key == "" {
				return errors.New("member key required for accounts without a member")
			}
			v, err := s.lib.MemberView(ctx, s.who, key)
			if err != nil {
				return err
			}
			return printMemberView(v)
		})
	},
}

func init() {
	memberCmd.AddCommand(memberRegisterCmd, memberRemoveCmd, memberListCmd, memberShowCmd)
	rootCmd.AddCommand(memberCmd)
}
