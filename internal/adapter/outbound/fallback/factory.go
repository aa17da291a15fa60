package fallback

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Sentinel-Gate/admitgate/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/admitgate/internal/adapter/outbound/redis"
)

// Backend selection values.
const (
	BackendAuto      = "auto"
	BackendDurable   = "durable"
	BackendEphemeral = "ephemeral"
)

// ErrNoRedisURL is returned when the durable backend is required but no
// connection string is configured.
var ErrNoRedisURL = errors.New("durable counter store requires a redis url")

// Config selects and configures the counter store.
type Config struct {
	// Backend is auto, durable or ephemeral. Auto uses the durable store
	// when RedisURL is set.
	Backend  string
	RedisURL string
	Prefix   string
	Client   redis.ClientSettings

	ConnectTimeout  time.Duration
	CleanupInterval time.Duration
}

// NewFromConfig builds the counter store selected by cfg. The returned store
// has not connected yet; call Start.
func NewFromConfig(cfg Config, logger *slog.Logger, opts ...Option) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	ephemeral := memory.NewCounterStore(
		memory.WithCleanupInterval(cfg.CleanupInterval),
		memory.WithLogger(logger),
	)
	opts = append([]Option{WithLogger(logger), WithConnectTimeout(cfg.ConnectTimeout)}, opts...)

	useDurable := false
	switch cfg.Backend {
	case "", BackendAuto:
		useDurable = cfg.RedisURL != ""
	case BackendDurable:
		if cfg.RedisURL == "" {
			return nil, ErrNoRedisURL
		}
		useDurable = true
	case BackendEphemeral:
	default:
		return nil, fmt.Errorf("unknown counter store backend %q", cfg.Backend)
	}

	if !useDurable {
		return New(nil, ephemeral, opts...), nil
	}

	var storeOpts []redis.Option
	if cfg.Prefix != "" {
		storeOpts = append(storeOpts, redis.WithPrefix(cfg.Prefix))
	}
	durable, err := redis.NewFromURL(cfg.RedisURL, cfg.Client, storeOpts...)
	if err != nil {
		return nil, err
	}
	return New(durable, ephemeral, opts...), nil
}
