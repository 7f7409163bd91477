package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"
	"golang.org/x/crypto/bcrypt"

	"library-circulation/library"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// DefaultFile is read when no config path is given and it exists.
const DefaultFile = "library.toml"

type Config struct {
	CheckoutLimit int     `toml:"checkout_limit"`
	HistoryPolicy string  `toml:"history_policy"` // purge or retire
	Store         Store   `toml:"store"`
	Log           Log     `toml:"log"`
	Auth          Auth    `toml:"auth"`
	Metrics       Metrics `toml:"metrics"`
}

type Store struct {
	Driver   string `toml:"driver"`
	Path     string `toml:"path"` // SQLite database file.
	DSN      string `toml:"dsn"`  // PostgreSQL connection string.
	MaxConns int32  `toml:"max_conns"`
}

type Log struct {
	Level string `toml:"level"`
}

type Auth struct {
	BcryptCost int `toml:"bcrypt_cost"`
}

type Metrics struct {
	File string `toml:"file"` // Prometheus textfile written after each command; empty disables it.
}

var DefaultConf = Config{
	CheckoutLimit: library.DefaultCheckoutLimit,
	HistoryPolicy: string(library.PurgeHistory),
	Store: Store{
		Driver: DriverSQLite,
		Path:   "library.db",
	},
	Log:  Log{Level: "warn"},
	Auth: Auth{BcryptCost: bcrypt.DefaultCost},
}

// Load builds the configuration from defaults, the TOML file at path, the
// given .env files and finally LIBRARY_* environment variables. Later
// sources win. Missing .env files are ignored.
func Load(path string, envFiles ...string) (*Config, error) {
	conf := DefaultConf

	if path == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			path = DefaultFile
		}
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, &conf); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read env file %s: %w", f, err)
		}
	}
	if err := conf.applyEnv(); err != nil {
		return nil, err
	}

	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}

func (c *Config) applyEnv() error {
	str := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) error {
		v := os.Getenv(name)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = n
		return nil
	}

	str("LIBRARY_HISTORY_POLICY", &c.HistoryPolicy)
	str("LIBRARY_STORE_DRIVER", &c.Store.Driver)
	str("LIBRARY_STORE_PATH", &c.Store.Path)
	str("LIBRARY_STORE_DSN", &c.Store.DSN)
	str("LIBRARY_LOG_LEVEL", &c.Log.Level)
	str("LIBRARY_METRICS_FILE", &c.Metrics.File)
	if err := num("LIBRARY_CHECKOUT_LIMIT", &c.CheckoutLimit); err != nil {
		return err
	}
	if err := num("LIBRARY_BCRYPT_COST", &c.Auth.BcryptCost); err != nil {
		return err
	}
	maxConns := int(c.Store.MaxConns)
	if err := num("LIBRARY_STORE_MAX_CONNS", &maxConns); err != nil {
		return err
	}
	c.Store.MaxConns = int32(maxConns)
	return nil
}

func (c *Config) Validate() error {
	if c.CheckoutLimit <= 0 {
		return fmt.Errorf("checkout_limit must be positive, got %d", c.CheckoutLimit)
	}
	policy, err := library.ParseHistoryPolicy(c.HistoryPolicy)
	if err != nil {
		return err
	}
	c.HistoryPolicy = string(policy)
	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the postgres driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Store.MaxConns < 0 {
		return fmt.Errorf("store.max_conns must not be negative")
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Auth.BcryptCost < bcrypt.MinCost || c.Auth.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("auth.bcrypt_cost must be in [%d,%d]", bcrypt.MinCost, bcrypt.MaxCost)
	}
	return nil
}

// LibraryOptions converts the circulation settings into engine options.
func (c *Config) LibraryOptions() []library.Option {
	return []library.Option{
		library.WithCheckoutLimit(c.CheckoutLimit),
		library.WithHistoryPolicy(library.HistoryPolicy(c.HistoryPolicy)),
		library.WithHashCost(c.Auth.BcryptCost),
	}
}
