package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"library-circulation/config"
	"library-circulation/library"
	"library-circulation/metrics"
	"library-circulation/store"
)

// session is one opened library plus the signed-in principal.
type session struct {
	cfg     *config.Config
	lib     *library.Library
	log     *zap.Logger
	metrics *metrics.Collector
	who     library.Principal
}

// stdin is shared by prompts so buffered input is not lost between them.
var stdin = bufio.NewReader(os.Stdin)

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	if verbose {
		lvl = zapcore.DebugLevel
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.Encoding = "console"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.DisableStacktrace = !verbose
	return zc.Build()
}

// openSession loads the configuration and opens the store. The caller must
// call close.
func openSession(ctx context.Context) (*session, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if metricsFile != "" {
		cfg.Metrics.File = metricsFile
	}
	logger, err := newLogger(cfg.Log.Level)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		logger.Sync() //nolint:errcheck
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}
	logger.Debug("store opened", zap.String("driver", cfg.Store.Driver))

	collector := metrics.NewCollector()
	opts := append(cfg.LibraryOptions(), library.WithLogger(logger), library.WithMetrics(collector))
	lib, err := library.New(st, opts...)
	if err != nil {
		st.Close()
		logger.Sync() //nolint:errcheck
		return nil, err
	}
	return &session{cfg: cfg, lib: lib, log: logger, metrics: collector}, nil
}

// login signs in as name, reading the password from LIBRARY_PASSWORD or the
// terminal.
func (s *session) login(ctx context.Context, name string) error {
	if name == "" {
		return errors.New("no account given: pass --user or set LIBRARY_USER")
	}
	secret, err := secretFor(fmt.Sprintf("Password for %s: ", name))
	if err != nil {
		return err
	}
	s.who, err = s.lib.Login(ctx, name, secret)
	return err
}

func (s *session) close() error {
	var errs []error
	if s.cfg.Metrics.File != "" {
		errs = append(errs, s.metrics.WriteTextfile(s.cfg.Metrics.File))
	}
	errs = append(errs, s.lib.Close())
	s.log.Sync() //nolint:errcheck
	return errors.Join(errs...)
}

// run opens a session, signs in unless anonymous, runs fn and closes the
// session.
func run(cmd *cobra.Command, anonymous bool, fn func(ctx context.Context, s *session) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.close(); err == nil {
			err = cerr
		}
	}()

	if !anonymous {
		if err := s.login(ctx, username); err != nil {
			return err
		}
	}
	return fn(ctx, s)
}

// secretFor returns LIBRARY_PASSWORD when set, otherwise prompts.
func secretFor(prompt string) (string, error) {
	if v, ok := os.LookupEnv("LIBRARY_PASSWORD"); ok {
		return v, nil
	}
	return readPassword(prompt)
}

// readPassword securely reads a password with masking. Without a terminal
// it reads one line from stdin.
func readPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := stdin.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return strings.TrimSpace(line), nil
	}

	fmt.Fprint(os.Stderr, prompt)
	bytePassword, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr) // Add newline after password input
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimSpace(string(bytePassword)), nil
}

// newSecret prompts twice for a new password.
func newSecret(who string) (string, error) {
	if v, ok := os.LookupEnv("LIBRARY_NEW_PASSWORD"); ok {
		return v, nil
	}
	first, err := readPassword(fmt.Sprintf("New password for %s: ", who))
	if err != nil {
		return "", err
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return first, nil
	}
	second, err := readPassword("Repeat password: ")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", errors.New("passwords do not match")
	}
	return first, nil
}
