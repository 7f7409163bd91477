package commands

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"

	"library-circulation/library"
	"library-circulation/output"
)

var bookCmd = &cobra.Command{
	Use:   "book",
	Short: "Manage the catalog",
}

var newBook library.NewBook

var bookAddCmd = &cobra.Command{
	Use:   "add KEY TITLE",
	Short: "Add a title with a number of copies",
	Args:  exactArgs(2, "KEY TITLE"),
	RunE: func(cmd *cobra.Command, args []string) error {
		nb := newBook
		nb.Key, nb.Title = args[0], args[1]
		return run(cmd, false, func(ctx context.Context, s *session) error {
			b, err := s.lib.AddBook(ctx, s.who, nb)
			if err != nil {
				return err
			}
			if jsonOutput {
				return output.JSON(b)
			}
			output.Success("Added '%s' (%s) with %d copies", b.Title, b.Key, b.Total)
			return nil
		})
	},
}

var bookUpdateCmd = &cobra.Command{
	Use:   "update KEY TOTAL",
	Short: "Change the number of copies of a title",
	Args:  exactArgs(2, "KEY TOTAL"),
	RunE: func(cmd *cobra.Command, args []string) error {
		total, err := strconv.Atoi(args[1])
		if err != nil {
			return err
		}
		return run(cmd, false, func(ctx context.Context, s *session) error {
			b, err := s.lib.UpdateQuantity(ctx, s.who, args[0], total)
			if err != nil {
				return err
			}
			if jsonOutput {
				return output.JSON(b)
			}
			output.Success("'%s' now has %d copies, %d available", b.Title, b.Total, b.Available)
			return nil
		})
	},
}

var bookRemoveCmd = &cobra.Command{
	Use:   "remove KEY",
	Short: "Remove a title that has no copies out",
	Args:  exactArgs(1, "KEY"),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, false, func(ctx context.Context, s *session) error {
			retired, err := s.lib.RemoveBook(ctx, s.who, args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return output.JSON(map[string]any{"key": args[0], "retired": retired})
			}
			if retired {
				output.Success("Retired %s; its history is kept", args[0])
			} else {
				output.Success("Removed %s", args[0])
			}
			return nil
		})
	},
}

var bookListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the catalog",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd, false, func(ctx context.Context, s *session) error {
			books, err := s.lib.ListBooks(ctx, s.who)
			if err != nil {
				return err
			}
			return printBooks(books)
		})
	},
}

var bookSearchCmd = &cobra.Command{
	Use:   "search QUERY",
	Short: "Search by key, title, author or genre",
	Args:  exactArgs(1, "QUERY"),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, false, func(ctx context.Context, s *session) error {
			books, err := s.lib.SearchBooks(ctx, s.who, args[0])
			if err != nil {
				return err
			}
			return printBooks(books)
		})
	},
}

var bookShowCmd = &cobra.Command{
	Use:   "show KEY",
	Short: "Show one title",
	Args:  exactArgs(1, "KEY"),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, false, func(ctx context.Context, s *session) error {
			b, err := s.lib.GetBook(ctx, s.who, args[0])
			if err != nil {
				return err
			}
			return printBook(b)
		})
	},
}

func init() {
	bookAddCmd.Flags().StringVar(&newBook.Author, "author", "", "Author")
	bookAddCmd.Flags().StringVar(&newBook.Genre, "genre", "", "Genre")
	bookAddCmd.Flags().IntVar(&newBook.Total, "copies", 1, "Number of copies")
	bookAddCmd.Flags().StringVar(&newBook.CoverURL, "cover", "", "Cover image URL")

	bookCmd.AddCommand(bookAddCmd, bookUpdateCmd, bookRemoveCmd, bookListCmd, bookSearchCmd, bookShowCmd)
	rootCmd.AddCommand(bookCmd)
}
