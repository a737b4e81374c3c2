// Package passlockd wires flags and environment into a running engine.
package passlockd

import (
	"context"
	"flag"
	"strings"

	"github.com/louisbranch/passlock/internal/app"
)

// Config holds passlockd command configuration.
type Config struct {
	DBPath string
}

// EnvLookup returns the value for a key when present.
type EnvLookup func(string) (string, bool)

// ParseConfig parses flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string, lookup EnvLookup) (Config, error) {
	cfg := Config{
		DBPath: envOrDefault(lookup, []string{"PASSLOCK_DB_PATH"}, ""),
	}

	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Path to the sqlite database")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run assembles the engine and sweeps expired state until the context ends.
func Run(ctx context.Context, cfg Config) error {
	engine, err := app.New(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() { _ = engine.Close() }()
	return engine.Run(ctx)
}

func envOrDefault(lookup EnvLookup, keys []string, fallback string) string {
	for _, key := range keys {
		if lookup == nil {
			break
		}
		value, ok := lookup(key)
		if ok {
			trimmed := strings.TrimSpace(value)
			if trimmed != "" {
				return trimmed
			}
		}
	}
	return fallback
}
