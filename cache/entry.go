package cache

import "time"

// Status is the lifecycle state of a query entry.
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusSuccess
	StatusError
	StatusStale
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	case StatusStale:
		return "stale"
	default:
		return "unknown"
	}
}

// Snapshot is a point-in-time copy of a query entry.
type Snapshot struct {
	Identity    Identity
	Status      Status
	Value       any
	HasValue    bool
	Err         error
	FetchedAt   time.Time
	Tags        []Tag
	Subscribers int
}

// Fresh reports whether the snapshot holds a successful value younger than staleTime.
func (s Snapshot) Fresh(now time.Time, staleTime time.Duration) bool {
	if s.Status != StatusSuccess {
		return false
	}
	return now.Sub(s.FetchedAt) < staleTime
}

// Listener receives a snapshot after every transition of the entry it is subscribed to.
type Listener func(Snapshot)

type entry struct {
	identity  Identity
	status    Status
	value     any
	hasValue  bool
	err       error
	fetchedAt time.Time
	tags      []Tag
	version   uint64

	listeners map[uint64]Listener
	refetch   func()

	inFlight            bool
	invalidatedInFlight bool
	retention           Timer
}

func (e *entry) snapshot() Snapshot {
	return Snapshot{
		Identity:    e.identity,
		Status:      e.status,
		Value:       e.value,
		HasValue:    e.hasValue,
		Err:         e.err,
		FetchedAt:   e.fetchedAt,
		Tags:        append([]Tag(nil), e.tags...),
		Subscribers: len(e.listeners),
	}
}
