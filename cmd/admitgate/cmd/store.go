package cmd

import (
	"log/slog"
	"os"
	"strings"

	"github.com/Sentinel-Gate/admitgate/internal/adapter/outbound/fallback"
	"github.com/Sentinel-Gate/admitgate/internal/adapter/outbound/redis"
	"github.com/Sentinel-Gate/admitgate/internal/config"
)

// storeConfig maps the store section onto the fallback store factory.
func storeConfig(c config.StoreConfig) fallback.Config {
	retries := c.MaxRetries
	if retries == 0 {
		retries = -1 // go-redis treats 0 as "use the default of 3"
	}
	return fallback.Config{
		Backend:  c.Backend,
		RedisURL: c.RedisURL,
		Prefix:   c.Prefix,
		Client: redis.ClientSettings{
			DialTimeout:  config.Duration(c.DialTimeout),
			ReadTimeout:  config.Duration(c.ReadTimeout),
			WriteTimeout: config.Duration(c.WriteTimeout),
			MaxRetries:   retries,
		},
		ConnectTimeout:  config.Duration(c.ConnectTimeout),
		CleanupInterval: config.Duration(c.CleanupInterval),
	}
}

// newLogger builds the stderr text logger. DevMode always forces debug.
func newLogger(cfg *config.Config) *slog.Logger {
	level := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// parseLogLevel converts a config log level to a slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
