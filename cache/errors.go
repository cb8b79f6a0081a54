package cache

import (
	"github.com/cockroachdb/errors"
)

var (
	// ErrEntryInUse is returned by Evict when the entry still has subscribers.
	ErrEntryInUse = errors.New("cache: entry has active subscribers")
	// ErrInvalidResultType is returned by the typed helpers when a stored
	// value cannot be converted to the requested type.
	ErrInvalidResultType = errors.New("cache: invalid result type")
	// ErrClosed is returned when the client has been closed.
	ErrClosed = errors.New("cache: client closed")
)

// FetchError reports a failed read. The entry keeps its previous value.
type FetchError struct {
	Identity Identity
	Err      error
}

func (e *FetchError) Error() string {
	return "cache: fetch " + e.Identity.String() + ": " + e.Err.Error()
}

func (e *FetchError) Unwrap() error { return e.Err }

// MutationError reports a failed write. No invalidation took place.
type MutationError struct {
	Name string
	ID   string
	Err  error
}

func (e *MutationError) Error() string {
	return "cache: mutation " + e.Name + ": " + e.Err.Error()
}

func (e *MutationError) Unwrap() error { return e.Err }

// IsIntegrityViolation reports whether err signals a broken internal invariant.
func IsIntegrityViolation(err error) bool {
	return errors.IsAssertionFailure(err)
}
