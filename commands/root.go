// Package commands implements the libctl command line.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"library-circulation/output"
)

var (
	// Global flags
	configPath  string
	username    string
	jsonOutput  bool
	verbose     bool
	metricsFile string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "libctl",
	Short: "Library circulation tracker",
	Long: `libctl tracks books, members, login accounts and the checkout/return
history of a library with a limited number of copies per title.

Every command except init and shell signs in with --user; the password is
read from LIBRARY_PASSWORD or prompted for.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		output.Error("%v", err)
		os.Exit(1)
	}
}

// NewRootCommand exposes the command tree, mainly for tests.
func NewRootCommand() *cobra.Command { return rootCmd }

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a TOML config file (default ./library.toml if present)")
	rootCmd.PersistentFlags().StringVarP(&username, "user", "u", os.Getenv("LIBRARY_USER"), "Account to sign in as")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics to this textfile after the command")
}

// exactArgs is cobra.ExactArgs with a usage hint in the message.
func exactArgs(n int, usage string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return fmt.Errorf("usage: %s %s", cmd.CommandPath(), usage)
		}
		return nil
	}
}
