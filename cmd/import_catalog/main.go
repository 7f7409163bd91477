// Command import_catalog adds the titles listed in a CSV file to the catalog.
//
// The file needs a header row naming at least the key, title and copies
// columns; author, genre and cover are optional:
//
//	key,title,author,genre,copies,cover
//	978-0441013593,Dune,Frank Herbert,SF,3,
package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"library-circulation/config"
	"library-circulation/library"
	"library-circulation/output"
	"library-circulation/store"
)

var (
	configPath string
	username   string
)

func main() {
	cmd := &cobra.Command{
		Use:          "import_catalog FILE",
		Short:        "Import catalog titles from a CSV file",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return importFile(cmd.Context(), args[0])
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Path to a TOML config file")
	cmd.Flags().StringVarP(&username, "user", "u", "admin", "Admin account to sign in as")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		output.Error("%v", err)
		os.Exit(1)
	}
}

func importFile(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	books, err := readCatalog(f)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return err
	}
	lib, err := library.New(st, append(cfg.LibraryOptions(), library.WithLogger(zap.NewNop()))...)
	if err != nil {
		st.Close()
		return err
	}
	defer lib.Close()

	secret, err := password(fmt.Sprintf("Password for %s: ", username))
	if err != nil {
		return err
	}
	admin, err := lib.Login(ctx, username, secret)
	if err != nil {
		return err
	}

	output.Info("Importing %d titles from %s...", len(books), path)
	imported, failed := importBooks(ctx, lib, admin, books)

	fmt.Fprintln(output.Writer)
	output.Success("Import complete! Successfully imported: %d books", imported)
	if failed > 0 {
		output.Warning("Errors: %d", failed)
	}
	return nil
}

// importBooks adds each book on its own; a failure does not stop the rest.
func importBooks(ctx context.Context, lib *library.Library, admin library.Principal, books []library.NewBook) (imported, failed int) {
	for _, nb := range books {
		b, err := lib.AddBook(ctx, admin, nb)
		if err != nil {
			output.Error("%s %s: %v", nb.Key, nb.Title, err)
			failed++
			continue
		}
		output.Success("%s %s (%d copies)", b.Key, output.Truncate(b.Title, 50), b.Total)
		imported++
	}
	return imported, failed
}

var requiredColumns = []string{"key", "title", "copies"}

// readCatalog parses the CSV body. Column order comes from the header.
func readCatalog(r io.Reader) ([]library.NewBook, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("missing %q column", name)
		}
	}
	cr.FieldsPerRecord = len(header)

	field := func(rec []string, name string) string {
		if i, ok := col[name]; ok {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}

	var books []library.NewBook
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return books, nil
		}
		if err != nil {
			return nil, err
		}
		copies, err := strconv.Atoi(field(rec, "copies"))
		if err != nil {
			return nil, fmt.Errorf("line %d: copies: %w", line, err)
		}
		books = append(books, library.NewBook{
			Key:      field(rec, "key"),
			Title:    field(rec, "title"),
			Author:   field(rec, "author"),
			Genre:    field(rec, "genre"),
			Total:    copies,
			CoverURL: field(rec, "cover"),
		})
	}
}

func password(prompt string) (string, error) {
	if v, ok := os.LookupEnv("LIBRARY_PASSWORD"); ok {
		return v, nil
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}
