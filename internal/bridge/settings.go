package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fluxion/voice-agent/pkg/logging"
)

const (
	defaultSettingsTTL = 60 * time.Second
	settingsKey        = "sara:bridge:settings"
)

// SettingsFetcher loads the dynamic template variables.
type SettingsFetcher interface {
	Settings(ctx context.Context) (map[string]string, error)
}

// SettingsCache serves the bridge settings to template rendering. Values
// live in Redis when a client is configured, in process memory otherwise.
// When a refresh fails the last known values are served.
type SettingsCache struct {
	fetch  SettingsFetcher
	redis  *redis.Client
	ttl    time.Duration
	now    func() time.Time
	logger *logging.Logger

	mu      sync.Mutex
	last    map[string]string
	fetched time.Time
}

// SettingsOption configures a SettingsCache.
type SettingsOption func(*SettingsCache)

// WithRedis stores the values in Redis.
func WithRedis(rdb *redis.Client) SettingsOption {
	return func(c *SettingsCache) { c.redis = rdb }
}

// WithTTL sets how long fetched values are served.
func WithTTL(ttl time.Duration) SettingsOption {
	return func(c *SettingsCache) { c.ttl = ttl }
}

// WithCacheClock overrides time.Now for the in-memory expiry.
func WithCacheClock(now func() time.Time) SettingsOption {
	return func(c *SettingsCache) { c.now = now }
}

// WithCacheLogger sets the logger.
func WithCacheLogger(l *logging.Logger) SettingsOption {
	return func(c *SettingsCache) { c.logger = l }
}

// NewSettingsCache wraps fetch.
func NewSettingsCache(fetch SettingsFetcher, opts ...SettingsOption) *SettingsCache {
	c := &SettingsCache{fetch: fetch, ttl: defaultSettingsTTL, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.Default()
	}
	if c.ttl <= 0 {
		c.ttl = defaultSettingsTTL
	}
	return c
}

// Variables returns the cached settings, refreshing them when expired.
func (c *SettingsCache) Variables(ctx context.Context) (map[string]string, error) {
	if vars, ok := c.cached(ctx); ok {
		return vars, nil
	}

	vars, err := c.fetch.Settings(ctx)
	if err != nil {
		c.mu.Lock()
		stale := copyVars(c.last)
		c.mu.Unlock()
		if stale != nil {
			c.logger.Warn("settings refresh failed, serving stale values", "error", err)
			return stale, nil
		}
		return nil, err
	}

	c.mu.Lock()
	c.last = copyVars(vars)
	c.fetched = c.now()
	c.mu.Unlock()

	if c.redis != nil {
		data, err := json.Marshal(vars)
		if err == nil {
			err = c.redis.Set(ctx, settingsKey, data, c.ttl).Err()
		}
		if err != nil {
			c.logger.Warn("settings cache write failed", "error", err)
		}
	}
	return vars, nil
}

// Invalidate drops the cached values.
func (c *SettingsCache) Invalidate(ctx context.Context) error {
	c.mu.Lock()
	c.fetched = time.Time{}
	c.mu.Unlock()
	if c.redis == nil {
		return nil
	}
	return c.redis.Del(ctx, settingsKey).Err()
}

func (c *SettingsCache) cached(ctx context.Context) (map[string]string, bool) {
	if c.redis != nil {
		data, err := c.redis.Get(ctx, settingsKey).Bytes()
		if err == nil {
			var vars map[string]string
			if err := json.Unmarshal(data, &vars); err == nil {
				return vars, true
			}
		} else if !errors.Is(err, redis.Nil) {
			c.logger.Warn("settings cache read failed", "error", err)
		}
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last != nil && c.now().Sub(c.fetched) < c.ttl {
		return copyVars(c.last), true
	}
	return nil, false
}

func copyVars(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
