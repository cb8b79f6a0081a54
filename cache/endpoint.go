package cache

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

// NoArgs is the argument type of endpoints that take no arguments.
type NoArgs = struct{}

// QueryDef is a typed read endpoint.
type QueryDef[A, R any] struct {
	Name         string
	Fetch        func(ctx context.Context, args A) (R, error)
	ProvidesTags func(args A, result R) []Tag
	// StaleTime overrides Config.StaleTime when positive.
	StaleTime time.Duration
}

// Identity returns the identity of the read for args.
func (d QueryDef[A, R]) Identity(c *Client, args A) Identity {
	if _, ok := any(args).(NoArgs); ok {
		return Identity{Endpoint: d.Name}
	}
	return c.Identity(d.Name, args)
}

func (d QueryDef[A, R]) fetchFunc(args A) FetchFunc {
	return func(ctx context.Context) (any, error) {
		return d.Fetch(ctx, args)
	}
}

func (d QueryDef[A, R]) tagFunc(args A) TagFunc {
	if d.ProvidesTags == nil {
		return nil
	}
	return func(value any) []Tag {
		result, _ := value.(R)
		return d.ProvidesTags(args, result)
	}
}

func (d QueryDef[A, R]) options(extra []QueryOption) []QueryOption {
	if d.StaleTime <= 0 {
		return extra
	}
	return append([]QueryOption{WithStaleTime(d.StaleTime)}, extra...)
}

// Query runs def through the client and returns the typed result.
func Query[A, R any](ctx context.Context, c *Client, def QueryDef[A, R], args A, opts ...QueryOption) (R, error) {
	snap, err := c.Query(ctx, def.Identity(c, args), def.fetchFunc(args), def.tagFunc(args), def.options(opts)...)
	if err != nil {
		var zero R
		return zero, err
	}
	return valueAs[R](snap)
}

// State is the typed view of a Snapshot.
type State[R any] struct {
	Identity  Identity
	Status    Status
	Data      R
	HasData   bool
	Err       error
	FetchedAt time.Time
}

// IsLoading reports whether a fetch is running, with or without data.
func (s State[R]) IsLoading() bool { return s.Status == StatusLoading }

// IsStale reports whether the data was invalidated and awaits a refetch.
func (s State[R]) IsStale() bool { return s.Status == StatusStale }

func stateOf[R any](snap Snapshot) State[R] {
	st := State[R]{
		Identity:  snap.Identity,
		Status:    snap.Status,
		Err:       snap.Err,
		FetchedAt: snap.FetchedAt,
	}
	if snap.HasValue {
		data, err := valueAs[R](snap)
		if err != nil {
			st.Err = err
			return st
		}
		st.Data = data
		st.HasData = true
	}
	return st
}

// Watch subscribes fn to the typed state of def(args) and starts the query in
// the background, the way a view mounts and loads its data. fn is called on
// every later transition, including refetches triggered by invalidation.
func Watch[A, R any](ctx context.Context, c *Client, def QueryDef[A, R], args A, fn func(State[R])) (State[R], *Subscription) {
	id := def.Identity(c, args)
	snap, sub := c.Subscribe(id, func(snap Snapshot) {
		fn(stateOf[R](snap))
	})

	fetch, tags, opts := def.fetchFunc(args), def.tagFunc(args), def.options(nil)
	c.spawn(func() {
		if _, err := c.Query(ctx, id, fetch, tags, opts...); err != nil {
			c.logger.Debug("cache watch query failed", "identity", id.String(), "error", err)
		}
	})
	return stateOf[R](snap), sub
}

// MutationDef is a typed write endpoint.
type MutationDef[A, R any] struct {
	Name            string
	Do              func(ctx context.Context, args A) (R, error)
	InvalidatesTags func(args A, result R) []Tag
	Optimistic      func(args A) []Update
}

// Mutation converts the definition to its untyped form.
func (d MutationDef[A, R]) Mutation() Mutation {
	m := Mutation{
		Name: d.Name,
		Do: func(ctx context.Context, args any) (any, error) {
			a, _ := args.(A)
			return d.Do(ctx, a)
		},
	}
	if d.InvalidatesTags != nil {
		m.Invalidates = func(args, result any) []Tag {
			a, _ := args.(A)
			r, _ := result.(R)
			return d.InvalidatesTags(a, r)
		}
	}
	if d.Optimistic != nil {
		m.Optimistic = func(args any) []Update {
			a, _ := args.(A)
			return d.Optimistic(a)
		}
	}
	return m
}

// Mutate runs def through the client and returns the typed result.
func Mutate[A, R any](ctx context.Context, c *Client, def MutationDef[A, R], args A, listeners ...MutationListener) (R, error) {
	result, err := c.Mutate(ctx, def.Mutation(), args, listeners...)
	if err != nil {
		var zero R
		return zero, err
	}
	if result == nil {
		var zero R
		return zero, nil
	}
	r, ok := result.(R)
	if !ok {
		var zero R
		return zero, errors.Wrapf(ErrInvalidResultType, "mutation %s returned %T", def.Name, result)
	}
	return r, nil
}

// valueAs converts a snapshot value to R. A nil value yields the zero R.
func valueAs[R any](snap Snapshot) (R, error) {
	var zero R
	if !snap.HasValue || snap.Value == nil {
		return zero, nil
	}
	v, ok := snap.Value.(R)
	if !ok {
		return zero, errors.Wrapf(ErrInvalidResultType, "%s holds %T", snap.Identity, snap.Value)
	}
	return v, nil
}

// Select reads the typed value cached for def(args) without fetching.
func Select[A, R any](c *Client, def QueryDef[A, R], args A) (State[R], bool) {
	snap, ok := c.store.Get(def.Identity(c, args))
	if !ok {
		return State[R]{}, false
	}
	return stateOf[R](snap), true
}

// UpdateFor builds an optimistic Update for the cached value of def(args).
// recipe receives the current typed value and returns the replacement.
func UpdateFor[A, R any](c *Client, def QueryDef[A, R], args A, recipe func(R) R) Update {
	return Update{
		Identity: def.Identity(c, args),
		Recipe: func(value any) any {
			current, ok := value.(R)
			if !ok {
				return value
			}
			return recipe(current)
		},
	}
}
