package cacheinfra

import (
	"context"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/viccon/sturdyc"
)

// Config holds the configuration for the HTTP response cache.
type Config struct {
	// Capacity defines the maximum number of responses the cache can store.
	Capacity int `yaml:"capacity" json:"capacity"`

	// NumShards determines the number of cache shards for concurrent access.
	NumShards int `yaml:"num_shards" json:"num_shards"`

	// TTL is how long a response body is reused before the request is sent again.
	TTL time.Duration `yaml:"ttl" json:"ttl"`

	// EvictionPercentage specifies what percentage of entries to evict
	// when the cache reaches its capacity. Must be between 1-100.
	EvictionPercentage int `yaml:"eviction_percentage" json:"eviction_percentage"`

	// EarlyRefresh configures background refreshes of hot responses.
	// If nil, early refresh is disabled.
	EarlyRefresh *EarlyRefreshConfig `yaml:"early_refresh" json:"early_refresh"`

	// MissingRecordStorage remembers keys whose fetch reported
	// sturdyc.ErrNotFound so repeated lookups skip the request.
	MissingRecordStorage bool `yaml:"missing_record_storage" json:"missing_record_storage"`

	// EvictionInterval sets how often the cache checks for expired entries.
	// Zero value uses the default interval.
	EvictionInterval time.Duration `yaml:"eviction_interval" json:"eviction_interval"`
}

// EarlyRefreshConfig configures early refresh behavior.
type EarlyRefreshConfig struct {
	MinAsyncRefreshTime time.Duration `yaml:"min_async_refresh_time" json:"min_async_refresh_time"`
	MaxAsyncRefreshTime time.Duration `yaml:"max_async_refresh_time" json:"max_async_refresh_time"`
	SyncRefreshTime     time.Duration `yaml:"sync_refresh_time" json:"sync_refresh_time"`
	RetryBaseDelay      time.Duration `yaml:"retry_base_delay" json:"retry_base_delay"`
}

// DefaultConfig returns a Config sized for a single catalog client.
func DefaultConfig() Config {
	return Config{
		Capacity:           1000,
		NumShards:          16,
		TTL:                30 * time.Second,
		EvictionPercentage: 10,
		EarlyRefresh: &EarlyRefreshConfig{
			MinAsyncRefreshTime: 5 * time.Second,
			MaxAsyncRefreshTime: 10 * time.Second,
			SyncRefreshTime:     20 * time.Second,
			RetryBaseDelay:      100 * time.Millisecond,
		},
	}
}

// ToSturdycOptions converts the Config to sturdyc options. Capacity,
// NumShards, TTL and EvictionPercentage go to sturdyc.New directly.
func (c Config) ToSturdycOptions() []sturdyc.Option {
	var options []sturdyc.Option

	if c.EarlyRefresh != nil {
		options = append(options, sturdyc.WithEarlyRefreshes(
			c.EarlyRefresh.MinAsyncRefreshTime,
			c.EarlyRefresh.MaxAsyncRefreshTime,
			c.EarlyRefresh.SyncRefreshTime,
			c.EarlyRefresh.RetryBaseDelay,
		))
	}

	if c.MissingRecordStorage {
		options = append(options, sturdyc.WithMissingRecordStorage())
	}

	if c.EvictionInterval > 0 {
		options = append(options, sturdyc.WithEvictionInterval(c.EvictionInterval))
	}

	return options
}

// Validate checks if the configuration values are valid.
func (c Config) Validate() error {
	if err := validation.ValidateStruct(&c,
		validation.Field(&c.Capacity, validation.Required, validation.Min(1)),
		validation.Field(&c.NumShards, validation.Required, validation.Min(1)),
		validation.Field(&c.TTL, validation.Required, validation.Min(time.Duration(1))),
		validation.Field(&c.EvictionPercentage, validation.Required, validation.Min(1), validation.Max(100)),
		validation.Field(&c.EvictionInterval, validation.Min(time.Duration(0))),
	); err != nil {
		return err
	}
	if c.EarlyRefresh == nil {
		return nil
	}
	r := c.EarlyRefresh
	return validation.ValidateStruct(r,
		validation.Field(&r.MinAsyncRefreshTime, validation.Min(time.Duration(0))),
		validation.Field(&r.MaxAsyncRefreshTime, validation.Min(r.MinAsyncRefreshTime)),
		validation.Field(&r.SyncRefreshTime, validation.Min(r.MaxAsyncRefreshTime)),
		validation.Field(&r.RetryBaseDelay, validation.Min(time.Duration(0))),
	)
}

// ResponseCache stores raw response bodies by request key. Concurrent
// lookups of a missing key share one fetch.
type ResponseCache struct {
	client *sturdyc.Client[[]byte]
}

// NewResponseCache validates cfg and builds the sturdyc client behind the cache.
func NewResponseCache(cfg Config) (*ResponseCache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := sturdyc.New[[]byte](
		cfg.Capacity,
		cfg.NumShards,
		cfg.TTL,
		cfg.EvictionPercentage,
		cfg.ToSturdycOptions()...,
	)
	return &ResponseCache{client: client}, nil
}

// GetOrFetch returns the body cached under key, calling fetch on a miss.
// Failed fetches are not cached.
func (r *ResponseCache) GetOrFetch(ctx context.Context, key string, fetch func(context.Context) ([]byte, error)) ([]byte, error) {
	return r.client.GetOrFetch(ctx, key, fetch)
}

// Delete removes a single response.
func (r *ResponseCache) Delete(key string) {
	r.client.Delete(key)
}

// InvalidateKeys removes every listed response.
func (r *ResponseCache) InvalidateKeys(keys []string) {
	for _, key := range keys {
		r.client.Delete(key)
	}
}

// DeleteByPrefix removes every response whose key starts with one of
// prefixes and returns how many were removed.
func (r *ResponseCache) DeleteByPrefix(prefixes ...string) int {
	removed := 0
	for _, key := range r.client.ScanKeys() {
		for _, prefix := range prefixes {
			if strings.HasPrefix(key, prefix) {
				r.client.Delete(key)
				removed++
				break
			}
		}
	}
	return removed
}

// Keys lists the cached request keys.
func (r *ResponseCache) Keys() []string {
	return r.client.ScanKeys()
}
