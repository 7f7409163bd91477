package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"library-circulation/library"
	"library-circulation/output"
	"library-circulation/report"
)

var exportCmd = &cobra.Command{
	Use:   "export [FILE]",
	Short: "Export the loan report as CSV (default: stdout)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, false, func(ctx context.Context, s *session) error {
			if len(args) == 0 {
				_, err := exportLog(ctx, s, output.Writer)
				return err
			}

			f, err := os.Create(args[0])
			if err != nil {
				return err
			}
			n, err := exportLog(ctx, s, f)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return fmt.Errorf("export %s: %w", args[0], err)
			}
			output.Success("Wrote %d loans to %s", n, args[0])
			return nil
		})
	},
}

func exportLog(ctx context.Context, s *session, w io.Writer) (int, error) {
	entries, err := s.lib.History(ctx, s.who, library.TransactionFilter{})
	if err != nil {
		return 0, err
	}
	names, titles, err := s.lib.Names(ctx, s.who)
	if err != nil {
		return 0, err
	}
	rows := report.Build(entries, names, titles)
	return len(rows), report.Write(w, rows)
}

func init() {
	rootCmd.AddCommand(exportCmd)
}
