package cache

import (
	"context"

	"github.com/google/uuid"
)

// MutationFunc performs a write against the source of truth.
type MutationFunc func(ctx context.Context, args any) (any, error)

// InvalidationFunc computes the tags a successful write invalidates. It must
// depend on args and result only.
type InvalidationFunc func(args, result any) []Tag

// Update is an optimistic change applied to a cached value before the write runs.
type Update struct {
	Identity Identity
	Recipe   func(value any) any
}

// Mutation describes a write and its cache effects.
type Mutation struct {
	Name        string
	Do          MutationFunc
	Invalidates InvalidationFunc
	Optimistic  func(args any) []Update
}

// MutationState is reported to mutation listeners; it lives only for one call.
type MutationState struct {
	ID     string
	Name   string
	Status Status
	Args   any
	Result any
	Err    error
}

// MutationListener observes the status of one Mutate call.
type MutationListener func(MutationState)

// Mutate runs m.Do(args). On success the success state is reported to
// listeners first, then the tags from m.Invalidates(args, result) are
// resolved and every matching entry is invalidated. On failure optimistic
// updates are undone and nothing is invalidated.
func (c *Client) Mutate(ctx context.Context, m Mutation, args any, listeners ...MutationListener) (any, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}

	state := MutationState{
		ID:     uuid.NewString(),
		Name:   m.Name,
		Status: StatusLoading,
		Args:   args,
	}
	notifyMutation(listeners, state)

	var patches []*Patch
	if m.Optimistic != nil {
		for _, u := range m.Optimistic(args) {
			if p, ok := c.store.Patch(u.Identity, u.Recipe); ok {
				patches = append(patches, p)
			}
		}
	}

	result, err := m.Do(ctx, args)
	if err != nil {
		for i := len(patches) - 1; i >= 0; i-- {
			patches[i].Undo()
		}
		state.Status = StatusError
		state.Err = err
		notifyMutation(listeners, state)
		c.logger.Debug("cache mutation failed", "mutation", m.Name, "id", state.ID, "error", err)
		return nil, &MutationError{Name: m.Name, ID: state.ID, Err: err}
	}

	state.Status = StatusSuccess
	state.Result = result
	notifyMutation(listeners, state)

	var tags []Tag
	if m.Invalidates != nil {
		tags = m.Invalidates(args, result)
	}
	affected := c.store.InvalidateTags(tags...)
	c.logger.Debug("cache mutation committed",
		"mutation", m.Name,
		"id", state.ID,
		"tags", len(tags),
		"invalidated", len(affected),
	)

	return result, nil
}

func notifyMutation(listeners []MutationListener, state MutationState) {
	for _, l := range listeners {
		if l != nil {
			l(state)
		}
	}
}
