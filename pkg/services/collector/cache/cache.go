package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/de-tools/identity-atlas/pkg/models/domain"
	"github.com/de-tools/identity-atlas/pkg/services/collector"
	"github.com/de-tools/identity-atlas/pkg/services/collector/snapshot"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	keyPrefix  = "atlas:identities:"
	DefaultTTL = 15 * time.Minute
)

type Settings struct {
	// Key identifies the cached source, usually "<platform>:<profile>"
	Key string
	// TTL bounds how stale a cached snapshot may be (default: 15m)
	TTL time.Duration
}

// Collector is a read-through cache in front of another collector. Cache
// failures degrade to a direct collection and are only logged.
type Collector struct {
	client   redis.Cmdable
	next     collector.Collector
	settings Settings
}

func NewCollector(client redis.Cmdable, next collector.Collector, settings Settings) (*Collector, error) {
	if client == nil || next == nil {
		return nil, domain.NewConfigurationError("cache collector", fmt.Errorf("redis client and upstream collector are required"))
	}
	if settings.Key == "" {
		return nil, domain.NewConfigurationError("cache collector", fmt.Errorf("cache key is required"))
	}
	if settings.TTL <= 0 {
		settings.TTL = DefaultTTL
	}
	return &Collector{client: client, next: next, settings: settings}, nil
}

func (c *Collector) key() string {
	return keyPrefix + c.settings.Key
}

func (c *Collector) Collect(ctx context.Context) ([]domain.Identity, error) {
	logger := zerolog.Ctx(ctx).With().Str("cache_key", c.key()).Logger()

	raw, err := c.client.Get(ctx, c.key()).Bytes()
	switch {
	case err == nil:
		identities, decodeErr := snapshot.Decode(raw)
		if decodeErr == nil {
			logger.Debug().Int("identities", len(identities)).Msg("identity cache hit")
			return identities, nil
		}
		logger.Warn().Err(decodeErr).Msg("discarding unreadable identity cache entry")
	case errors.Is(err, redis.Nil):
		logger.Debug().Msg("identity cache miss")
	default:
		logger.Warn().Err(err).Msg("identity cache unavailable")
	}

	identities, err := c.next.Collect(ctx)
	if err != nil {
		return nil, err
	}

	encoded, err := snapshot.Encode(identities)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to encode identities for cache")
		return identities, nil
	}
	if err := c.client.Set(ctx, c.key(), encoded, c.settings.TTL).Err(); err != nil {
		logger.Warn().Err(err).Msg("failed to store identities in cache")
	}

	return identities, nil
}

// Invalidate drops the cached snapshot.
func (c *Collector) Invalidate(ctx context.Context) error {
	if err := c.client.Del(ctx, c.key()).Err(); err != nil {
		return fmt.Errorf("failed to invalidate identity cache: %w", err)
	}
	return nil
}
