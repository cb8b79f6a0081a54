package cache

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Client ties the Store, the TagIndex and the query/mutation executors
// together. Create one per application and pass it to the views that need it.
type Client struct {
	cfg        Config
	store      *Store
	serializer KeySerializer
	clock      Clock
	logger     *slog.Logger

	flights singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// Option configures a Client.
type Option func(*Client)

// WithClock injects the clock used for freshness and retention.
func WithClock(clock Clock) Option {
	return func(c *Client) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithKeySerializer replaces the serializer used to build identities.
func WithKeySerializer(serializer KeySerializer) Option {
	return func(c *Client) {
		if serializer != nil {
			c.serializer = serializer
		}
	}
}

// New validates cfg and builds a Client.
func New(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		cfg:        cfg,
		serializer: NewDefaultKeySerializer(),
		clock:      RealClock(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.store = NewStore(cfg, c.clock, c.logger)
	c.store.schedule = c.spawn
	return c, nil
}

// Store exposes the entity store.
func (c *Client) Store() *Store { return c.store }

// KeySerializer returns the serializer used to build identities.
func (c *Client) KeySerializer() KeySerializer { return c.serializer }

// Config returns a copy of the configuration.
func (c *Client) Config() Config { return c.cfg }

// Identity builds an identity with the client's serializer.
func (c *Client) Identity(endpoint string, args ...any) Identity {
	return NewIdentity(c.serializer, endpoint, args...)
}

// Subscribe registers listener for id and returns the current snapshot.
func (c *Client) Subscribe(id Identity, listener Listener) (Snapshot, *Subscription) {
	return c.store.Subscribe(id, listener)
}

// Invalidate marks every entry declaring one of tags as stale, refetching
// the subscribed ones.
func (c *Client) Invalidate(tags ...Tag) []Identity {
	return c.store.InvalidateTags(tags...)
}

// Wait blocks until background refetches scheduled so far have finished.
func (c *Client) Wait() {
	c.wg.Wait()
}

// Close cancels background refetches, stops retention timers and waits for
// running refetches to return.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.cancel()
	c.store.Close()
	c.wg.Wait()
	return nil
}

func (c *Client) spawn(fn func()) {
	if c.closed.Load() {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
}
