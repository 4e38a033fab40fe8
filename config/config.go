/*
config.go - Server configuration

PURPOSE:
  Collects every setting of the server binary in one struct. Each setting
  can come from a command-line flag or an environment variable; an explicit
  flag wins over the environment, which wins over the default.

SETTINGS:
  flag               env                default      notes
  -port              PORT               8080
  -db-driver         DB_DRIVER          sqlite       memory | sqlite | postgres
  -db                DB_PATH            ledger.db    sqlite file, ":memory:" allowed
  -database-url      DATABASE_URL                    required for postgres
  -jwt-secret        JWT_SECRET                      required, HS256 signing key
  -otp-ttl           OTP_TTL            10m          0 disables expiry
  -max-write-retries MAX_WRITE_RETRIES  3
  -telegram-token    TELEGRAM_TOKEN                  enables Telegram delivery
  -telegram-chat     TELEGRAM_CHAT_ID                chat for group notifications
  -log-level         LOG_LEVEL          info

SEE ALSO:
  - cmd/server/main.go: Consumer
*/
package config

import (
	"errors"
	"flag"
	"fmt"
	"strconv"
	"time"
)

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Port            int
	DBDriver        string
	DBPath          string
	DatabaseURL     string
	JWTSecret       string
	OTPTTL          time.Duration
	MaxWriteRetries int
	TelegramToken   string
	TelegramChatID  int64
	LogLevel        string
}

// Load parses args (without the program name) on top of the environment
// read through getenv.
func Load(args []string, getenv func(string) string) (*Config, error) {
	env := func(key, fallback string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return fallback
	}

	port, err := strconv.Atoi(env("PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}
	ttl, err := time.ParseDuration(env("OTP_TTL", "10m"))
	if err != nil {
		return nil, fmt.Errorf("invalid OTP_TTL: %w", err)
	}
	retries, err := strconv.Atoi(env("MAX_WRITE_RETRIES", "3"))
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_WRITE_RETRIES: %w", err)
	}
	var chatID int64
	if v := getenv("TELEGRAM_CHAT_ID"); v != "" {
		if chatID, err = strconv.ParseInt(v, 10, 64); err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
	}

	cfg := &Config{}
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.IntVar(&cfg.Port, "port", port, "HTTP server port")
	fs.StringVar(&cfg.DBDriver, "db-driver", env("DB_DRIVER", DriverSQLite), "storage backend: memory, sqlite or postgres")
	fs.StringVar(&cfg.DBPath, "db", env("DB_PATH", "ledger.db"), "SQLite database path")
	fs.StringVar(&cfg.DatabaseURL, "database-url", getenv("DATABASE_URL"), "PostgreSQL connection string")
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", getenv("JWT_SECRET"), "HS256 key for bearer tokens")
	fs.DurationVar(&cfg.OTPTTL, "otp-ttl", ttl, "settlement code lifetime")
	fs.IntVar(&cfg.MaxWriteRetries, "max-write-retries", retries, "retries on concurrent group writes")
	fs.StringVar(&cfg.TelegramToken, "telegram-token", getenv("TELEGRAM_TOKEN"), "Telegram bot token")
	fs.Int64Var(&cfg.TelegramChatID, "telegram-chat", chatID, "Telegram chat for group notifications")
	fs.StringVar(&cfg.LogLevel, "log-level", env("LOG_LEVEL", "info"), "debug, info, warn or error")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	switch c.DBDriver {
	case DriverMemory, DriverSQLite:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown db driver %q", c.DBDriver))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.OTPTTL < 0 {
		errs = append(errs, errors.New("otp ttl must not be negative"))
	}
	if c.MaxWriteRetries < 0 {
		errs = append(errs, errors.New("max write retries must not be negative"))
	}
	return errors.Join(errs...)
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
