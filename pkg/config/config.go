// Package config parses command flags. Every flag takes its default from a PIXELBOARD_* environment variable,
// which may come from a .env file in the working directory.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/astromechza/pixelboard/pkg/board"
)

// LoadDotEnv reads .env files into the environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

type Server struct {
	Addr           string
	Database       string
	RedisAddr      string
	BackupInterval time.Duration
	Dump           bool
	LogLevel       slog.Level
}

func ParseServer(args []string) (*Server, error) {
	c := &Server{}
	flags := flag.NewFlagSet("server", flag.ContinueOnError)
	flags.StringVar(&c.Addr, "addr", envString("PIXELBOARD_ADDR", "localhost:8080"), "the address to listen on")
	flags.StringVar(&c.Database, "database", envString("PIXELBOARD_DATABASE", "pixelboard.sqlite3"), "sqlite file path or postgres:// url")
	flags.StringVar(&c.RedisAddr, "redis-addr", envString("PIXELBOARD_REDIS_ADDR", ""), "redis address for sharing boards between instances, disabled when empty")
	flags.DurationVar(&c.BackupInterval, "backup-interval", envDuration("PIXELBOARD_BACKUP_INTERVAL", 5*time.Second), "how often changed boards are written to the database")
	flags.BoolVar(&c.Dump, "dump", envBool("PIXELBOARD_DUMP", false), "dump and render every board to a temp dir on shutdown")
	logLevel := flags.String("log-level", envString("PIXELBOARD_LOG_LEVEL", "info"), "debug, info, warn or error")
	if err := flags.Parse(args); err != nil {
		return nil, err
	}
	if c.BackupInterval <= 0 {
		return nil, fmt.Errorf("backup interval must be positive, got %s", c.BackupInterval)
	}
	if err := c.LogLevel.UnmarshalText([]byte(*logLevel)); err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	return c, nil
}

type Client struct {
	// URL is the relay address, optionally with a board id fragment.
	URL            string
	Width          int
	Height         int
	ConnectTimeout time.Duration
	MaxRetries     uint64
	LogLevel       slog.Level
}

func ParseClient(args []string) (*Client, error) {
	c := &Client{}
	flags := flag.NewFlagSet("client", flag.ContinueOnError)
	flags.StringVar(&c.URL, "url", envString("PIXELBOARD_URL", "http://localhost:8080/"), "relay url, add #<board id> to join an existing board")
	flags.IntVar(&c.Width, "width", envInt("PIXELBOARD_WIDTH", board.DefaultWidth), "width of a newly created board")
	flags.IntVar(&c.Height, "height", envInt("PIXELBOARD_HEIGHT", board.DefaultHeight), "height of a newly created board")
	flags.DurationVar(&c.ConnectTimeout, "connect-timeout", envDuration("PIXELBOARD_CONNECT_TIMEOUT", 30*time.Second), "give up connecting after this long")
	flags.Uint64Var(&c.MaxRetries, "max-retries", uint64(envInt("PIXELBOARD_MAX_RETRIES", 5)), "connection attempts after the first one")
	logLevel := flags.String("log-level", envString("PIXELBOARD_LOG_LEVEL", "warn"), "debug, info, warn or error")
	if err := flags.Parse(args); err != nil {
		return nil, err
	}
	if c.Width < 1 || c.Height < 1 || c.Width > board.MaxDimension || c.Height > board.MaxDimension {
		return nil, fmt.Errorf("invalid board dimensions %dx%d: each must be between 1 and %d", c.Width, c.Height, board.MaxDimension)
	}
	if err := c.LogLevel.UnmarshalText([]byte(*logLevel)); err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	return c, nil
}

func envString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
		slog.Warn("ignoring invalid integer", "key", key, "value", v)
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		slog.Warn("ignoring invalid duration", "key", key, "value", v)
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
		slog.Warn("ignoring invalid boolean", "key", key, "value", v)
	}
	return fallback
}
