package cache

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

// FetchFunc performs a read against the source of truth.
type FetchFunc func(ctx context.Context) (any, error)

// TagFunc derives the tags a successful value declares.
type TagFunc func(value any) []Tag

// QueryOption tunes a single Query call.
type QueryOption func(*queryOptions)

type queryOptions struct {
	staleTime time.Duration
	force     bool
}

// WithStaleTime overrides Config.StaleTime for one call.
func WithStaleTime(d time.Duration) QueryOption {
	return func(o *queryOptions) { o.staleTime = d }
}

// WithForceRefetch skips the freshness check.
func WithForceRefetch() QueryOption {
	return func(o *queryOptions) { o.force = true }
}

// Query returns the cached value for id when it is fresh; otherwise it
// fetches, stores the result and declares tags(value). Concurrent calls for
// the same identity share one fetch. A caller whose ctx is cancelled stops
// waiting but the fetch runs to completion. The cache adds no timeout: a
// fetch that never returns leaves the entry loading.
func (c *Client) Query(ctx context.Context, id Identity, fetch FetchFunc, tags TagFunc, opts ...QueryOption) (Snapshot, error) {
	if c.closed.Load() {
		return Snapshot{}, ErrClosed
	}

	o := queryOptions{staleTime: c.cfg.StaleTime}
	for _, opt := range opts {
		opt(&o)
	}

	snap := c.store.bind(id, func() {
		if _, err := c.Query(c.ctx, id, fetch, tags, WithForceRefetch()); err != nil {
			c.logger.Debug("cache refetch failed", "identity", id.String(), "error", err)
		}
	})
	if !o.force && snap.Fresh(c.clock.Now(), o.staleTime) {
		return snap, nil
	}

	return c.execute(ctx, id, fetch, tags, o)
}

func (c *Client) execute(ctx context.Context, id Identity, fetch FetchFunc, tags TagFunc, o queryOptions) (Snapshot, error) {
	key := id.String()
	flightCtx := context.WithoutCancel(ctx)

	ch := c.flights.DoChan(key, func() (any, error) {
		// a flight that finished after our freshness check already stored a value
		if !o.force {
			if snap, ok := c.store.Get(id); ok && snap.Fresh(c.clock.Now(), o.staleTime) {
				return snap, nil
			}
		}

		token := c.store.begin(id)
		c.logger.Debug("cache fetch started", "identity", key)

		value, declared, err := runFetch(flightCtx, fetch, tags)

		snap, applied := c.store.complete(token, value, declared, err, func() {
			c.flights.Forget(key)
		})
		if err != nil {
			c.logger.Debug("cache fetch failed", "identity", key, "error", err)
			return snap, &FetchError{Identity: id, Err: err}
		}
		if !applied {
			return Snapshot{Identity: id, Status: StatusSuccess, Value: value, HasValue: true, Tags: declared}, nil
		}
		return snap, nil
	})

	select {
	case res := <-ch:
		snap, _ := res.Val.(Snapshot)
		return snap, res.Err
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

func runFetch(ctx context.Context, fetch FetchFunc, tags TagFunc) (value any, declared []Tag, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("fetch panicked: %v", r)
		}
	}()

	value, err = fetch(ctx)
	if err != nil {
		return nil, nil, err
	}
	if tags != nil {
		declared = tags(value)
	}
	return value, declared, nil
}
