package di

import (
	"log/slog"
	"os"

	"github.com/cockroachdb/errors"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/catalog"
	"github.com/goliatone/go-query-cache/internal/cacheinfra"
	"github.com/goliatone/go-query-cache/internal/rest"
)

// Container wires the catalog client together and owns its lifetime.
// It holds a single cache client, the transport it fetches through and the
// catalog API built on top of both.
type Container struct {
	config    Config
	logger    *slog.Logger
	responses *cacheinfra.ResponseCache
	transport catalog.Transport
	client    *cache.Client
	api       *catalog.API
}

// Option configures NewContainer.
type Option func(*containerOptions)

type containerOptions struct {
	transport catalog.Transport
	logger    *slog.Logger
	clock     cache.Clock
}

// WithTransport replaces the REST transport, e.g. with an in-memory one.
func WithTransport(t catalog.Transport) Option {
	return func(o *containerOptions) {
		o.transport = t
	}
}

// WithLogger sets the logger shared by every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *containerOptions) {
		o.logger = logger
	}
}

// WithClock sets the clock of the cache client.
func WithClock(clock cache.Clock) Option {
	return func(o *containerOptions) {
		o.clock = clock
	}
}

// NewContainer validates config and builds every component. Without
// WithTransport the catalog is reached over HTTP at config.BaseURL.
func NewContainer(config Config, opts ...Option) (*Container, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid container config")
	}

	var o containerOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		logger, err := NewLogger(os.Stderr, config.LogLevel)
		if err != nil {
			return nil, err
		}
		o.logger = logger
	}

	c := &Container{config: config, logger: o.logger, transport: o.transport}

	if c.transport == nil {
		restOpts := []rest.Option{
			rest.WithTimeout(config.RequestTimeout),
			rest.WithLogger(o.logger),
		}
		if config.ResponseCache.Enabled {
			responses, err := cacheinfra.NewResponseCache(config.ResponseCache.Config)
			if err != nil {
				return nil, errors.Wrap(err, "create response cache")
			}
			c.responses = responses
			restOpts = append(restOpts, rest.WithResponseCache(responses))
		}
		transport, err := rest.New(config.BaseURL, restOpts...)
		if err != nil {
			return nil, err
		}
		c.transport = transport
	}

	cacheOpts := []cache.Option{cache.WithLogger(o.logger)}
	if o.clock != nil {
		cacheOpts = append(cacheOpts, cache.WithClock(o.clock))
	}
	client, err := cache.New(config.Cache, cacheOpts...)
	if err != nil {
		return nil, err
	}
	c.client = client
	c.api = catalog.NewAPI(client, c.transport)

	o.logger.Debug("container ready",
		"base_url", config.BaseURL,
		"response_cache", config.ResponseCache.Enabled,
		"stale_time", config.Cache.StaleTime,
		"retention_delay", config.Cache.RetentionDelay,
	)
	return c, nil
}

// NewContainerWithDefaults builds a container from DefaultConfig.
func NewContainerWithDefaults(opts ...Option) (*Container, error) {
	return NewContainer(DefaultConfig(), opts...)
}

// API returns the catalog API.
func (c *Container) API() *catalog.API { return c.api }

// Client returns the cache client.
func (c *Container) Client() *cache.Client { return c.client }

// Transport returns the transport queries fetch through.
func (c *Container) Transport() catalog.Transport { return c.transport }

// ResponseCache returns the HTTP response cache, or nil when it is disabled
// or a custom transport is in use.
func (c *Container) ResponseCache() *cacheinfra.ResponseCache { return c.responses }

// KeySerializer returns the serializer used for identity keys.
func (c *Container) KeySerializer() cache.KeySerializer { return c.client.KeySerializer() }

// Logger returns the shared logger.
func (c *Container) Logger() *slog.Logger { return c.logger }

// Config returns a copy of the configuration.
func (c *Container) Config() Config { return c.config }

// Close shuts down the cache client and waits for running refetches.
func (c *Container) Close() error {
	return c.client.Close()
}
