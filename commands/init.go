package commands

import (
	"context"

	"github.com/spf13/cobra"

	"library-circulation/library"
	"library-circulation/output"
)

var (
	initSeed  bool
	initAdmin string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the schema and the first admin account",
	Long: `init applies the schema migrations of the configured store. With --seed
an empty store is filled with sample books, members and the demo logins
admin, alice and bob. Otherwise it creates the first admin account, which
is refused once any admin exists.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd, true, func(ctx context.Context, s *session) error {
			if initSeed {
				seeded, err := s.lib.Seed(ctx)
				if err != nil {
					return err
				}
				if !seeded {
					output.Warning("Store is not empty; sample data not loaded")
					return nil
				}
				output.Success("Loaded sample data")
				for _, a := range library.SeedAccounts {
					output.Muted("  %s / %s (%s)", a.Username, a.Secret, a.Role)
				}
				return nil
			}

			secret, err := newSecret(initAdmin)
			if err != nil {
				return err
			}
			if _, err := s.lib.BootstrapAdmin(ctx, initAdmin, secret); err != nil {
				return err
			}
			output.Success("Created admin account '%s'", initAdmin)
			return nil
		})
	},
}

func init() {
	initCmd.Flags().BoolVar(&initSeed, "seed", false, "Load sample data into an empty store")
	initCmd.Flags().StringVar(&initAdmin, "admin", "admin", "Username of the first admin account")
	rootCmd.AddCommand(initCmd)
}
