package cache

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
)

// Store is the single source of truth for query results and their freshness.
// All bookkeeping happens under one mutex; listeners are invoked after the
// mutex is released, from a queue drained by one goroutine at a time, so a
// listener may call back into the Store without re-entering a transition.
type Store struct {
	mu       sync.Mutex
	entries  map[Identity]*entry
	index    *TagIndex
	cfg      Config
	clock    Clock
	logger   *slog.Logger
	schedule func(func())
	nextSub  uint64
	closed   bool
	queue    []notification
	draining bool
}

type notification struct {
	listeners []Listener
	snapshot  Snapshot
}

// NewStore builds an empty store. A nil clock uses RealClock and a nil
// logger uses slog.Default.
func NewStore(cfg Config, clock Clock, logger *slog.Logger) *Store {
	if clock == nil {
		clock = RealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		entries:  make(map[Identity]*entry),
		index:    NewTagIndex(),
		cfg:      cfg,
		clock:    clock,
		logger:   logger,
		schedule: func(fn func()) { go fn() },
	}
}

// Get returns a snapshot of the entry for id.
func (s *Store) Get(id Identity) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return Snapshot{}, false
	}
	return e.snapshot(), true
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Identities lists every identity currently stored, sorted.
func (s *Store) Identities() []Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := make(map[Identity]struct{}, len(s.entries))
	for id := range s.entries {
		set[id] = struct{}{}
	}
	return sortedIdentities(set)
}

// Put stores a successful value and replaces the entry's declared tags.
func (s *Store) Put(id Identity, value any, tags []Tag) {
	s.mu.Lock()
	e := s.ensure(id)
	s.put(e, value, tags)
	s.mu.Unlock()
	s.flush(nil)
}

// MarkLoading moves the entry to loading. The previous value stays visible.
func (s *Store) MarkLoading(id Identity) {
	s.mu.Lock()
	e := s.ensure(id)
	e.status = StatusLoading
	s.enqueue(e)
	s.mu.Unlock()
	s.flush(nil)
}

// MarkError moves the entry to error. The previous value stays visible.
func (s *Store) MarkError(id Identity, err error) {
	s.mu.Lock()
	e := s.ensure(id)
	e.status = StatusError
	e.err = err
	s.enqueue(e)
	s.mu.Unlock()
	s.flush(nil)
}

// Invalidate marks the entry stale and schedules a refetch when it has
// subscribers. Invalidating an entry whose fetch is in flight is deferred
// until the fetch completes. Repeated calls are idempotent. It reports
// whether the entry exists.
func (s *Store) Invalidate(id Identity) bool {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	refetch := s.invalidate(e)
	s.mu.Unlock()
	s.flush(refetch)
	return true
}

// InvalidateTags resolves tags and invalidates every affected entry. It
// returns the affected identities.
func (s *Store) InvalidateTags(tags ...Tag) []Identity {
	s.mu.Lock()
	ids := s.index.Resolve(tags...)
	var (
		refetch []func()
		missing []Identity
	)
	for _, id := range ids {
		e, ok := s.entries[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		refetch = append(refetch, s.invalidate(e)...)
	}
	s.mu.Unlock()

	for _, id := range missing {
		s.violation(errors.AssertionFailedf("tag index references missing identity %s", id))
	}
	s.flush(refetch)
	return ids
}

func (s *Store) invalidate(e *entry) []func() {
	if e.inFlight {
		e.invalidatedInFlight = true
		return nil
	}
	switch e.status {
	case StatusSuccess, StatusError:
	default:
		return nil
	}

	e.status = StatusStale
	s.enqueue(e)
	s.logger.Debug("cache entry invalidated", "identity", e.identity.String(), "subscribers", len(e.listeners))

	if len(e.listeners) > 0 && e.refetch != nil {
		return []func(){e.refetch}
	}
	return nil
}

// Evict removes the entry and its tag memberships. It fails with
// ErrEntryInUse while the entry has subscribers.
func (s *Store) Evict(id Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil
	}
	if len(e.listeners) > 0 {
		return errors.Wrapf(ErrEntryInUse, "evict %s", id)
	}
	s.evict(e)
	return nil
}

func (s *Store) evict(e *entry) {
	if e.retention != nil {
		e.retention.Stop()
		e.retention = nil
	}
	delete(s.entries, e.identity)
	s.index.Remove(e.identity)
	s.logger.Debug("cache entry evicted", "identity", e.identity.String())
}

// Subscribe registers listener for id, creating an idle entry when needed,
// and returns the current snapshot.
func (s *Store) Subscribe(id Identity, listener Listener) (Snapshot, *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.ensure(id)
	if e.retention != nil {
		e.retention.Stop()
		e.retention = nil
	}
	s.nextSub++
	subID := s.nextSub
	e.listeners[subID] = listener
	return e.snapshot(), &Subscription{store: s, identity: id, id: subID}
}

// Unsubscribe removes a listener. When the last subscriber leaves, eviction
// is armed after the configured retention delay.
func (s *Store) Unsubscribe(id Identity, subscriptionID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		s.violation(errors.AssertionFailedf("unsubscribe from missing identity %s", id))
		return
	}
	if _, ok := e.listeners[subscriptionID]; !ok {
		s.violation(errors.AssertionFailedf("unsubscribe of unknown subscription %d on %s", subscriptionID, id))
		return
	}
	delete(e.listeners, subscriptionID)
	if len(e.listeners) == 0 {
		s.armRetention(e)
	}
}

func (s *Store) armRetention(e *entry) {
	if s.closed || e.inFlight || len(e.listeners) > 0 {
		return
	}
	if e.retention != nil {
		e.retention.Stop()
	}
	e.retention = s.clock.AfterFunc(s.cfg.RetentionDelay, func() {
		s.expire(e)
	})
}

func (s *Store) expire(e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.entries[e.identity]; !ok || cur != e {
		return
	}
	if len(e.listeners) > 0 || e.inFlight {
		return
	}
	e.retention = nil
	s.evict(e)
}

// Patch applies recipe to the cached value of id and returns a handle that
// can restore the previous value. Recipes must not mutate their input in
// place. It returns false when there is no value to patch.
func (s *Store) Patch(id Identity, recipe func(any) any) (*Patch, bool) {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok || !e.hasValue {
		s.mu.Unlock()
		return nil, false
	}
	p := &Patch{store: s, entry: e, previous: e.value, base: e.version}
	e.value = recipe(e.value)
	e.version++
	p.version = e.version
	s.enqueue(e)
	s.mu.Unlock()
	s.flush(nil)
	return p, true
}

// CheckIntegrity verifies that the tag index and the entries agree.
func (s *Store) CheckIntegrity() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.index.identities() {
		if _, ok := s.entries[id]; !ok {
			return errors.AssertionFailedf("tag index references missing identity %s", id)
		}
	}
	for id, e := range s.entries {
		want := e.tags
		got := s.index.Tags(id)
		if len(want) != len(got) {
			return errors.AssertionFailedf("identity %s declares %v but index holds %v", id, want, got)
		}
		for i := range want {
			if want[i] != got[i] {
				return errors.AssertionFailedf("identity %s declares %v but index holds %v", id, want, got)
			}
		}
	}
	return nil
}

// Close stops retention timers. Entries stay readable.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for _, e := range s.entries {
		if e.retention != nil {
			e.retention.Stop()
			e.retention = nil
		}
	}
}

func (s *Store) ensure(id Identity) *entry {
	if e, ok := s.entries[id]; ok {
		return e
	}
	e := &entry{
		identity:  id,
		status:    StatusIdle,
		listeners: make(map[uint64]Listener),
	}
	s.entries[id] = e
	return e
}

func (s *Store) put(e *entry, value any, tags []Tag) {
	e.status = StatusSuccess
	e.value = value
	e.hasValue = true
	e.err = nil
	e.fetchedAt = s.clock.Now()
	e.tags = uniqueTags(tags)
	e.version++
	s.index.Declare(e.identity, e.tags)
	s.enqueue(e)
}

// bind records how to refetch id; the latest binding wins.
func (s *Store) bind(id Identity, refetch func()) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.ensure(id)
	e.refetch = refetch
	return e.snapshot()
}

// begin marks the start of a fetch and returns the entry as a token for complete.
func (s *Store) begin(id Identity) *entry {
	s.mu.Lock()
	e := s.ensure(id)
	e.inFlight = true
	e.invalidatedInFlight = false
	e.status = StatusLoading
	if e.retention != nil {
		e.retention.Stop()
		e.retention = nil
	}
	s.enqueue(e)
	s.mu.Unlock()
	s.flush(nil)
	return e
}

// complete applies a fetch result to the entry currently held for the
// identity. When the fetching entry was evicted and a new one created since,
// the new entry receives the result: its callers joined the same flight. The
// result is dropped only when no entry exists any more.
// settle runs under the store lock before the entry leaves the in-flight
// state, so no caller can join a flight that has already been applied.
func (s *Store) complete(token *entry, value any, tags []Tag, err error, settle func()) (Snapshot, bool) {
	s.mu.Lock()
	if settle != nil {
		settle()
	}
	e, ok := s.entries[token.identity]
	if !ok {
		s.mu.Unlock()
		s.logger.Debug("cache dropped orphaned fetch result", "identity", token.identity.String())
		return Snapshot{}, false
	}
	if e != token {
		token.inFlight = false
		s.logger.Debug("cache fetch result applied to recreated entry", "identity", token.identity.String())
	}

	e.inFlight = false
	if err != nil {
		e.status = StatusError
		e.err = err
		s.enqueue(e)
	} else {
		s.put(e, value, tags)
	}
	snap := e.snapshot()

	var refetch []func()
	if e.invalidatedInFlight {
		e.invalidatedInFlight = false
		refetch = s.invalidate(e)
	}
	if len(e.listeners) == 0 {
		s.armRetention(e)
	}
	s.mu.Unlock()
	s.flush(refetch)
	return snap, true
}

func (s *Store) enqueue(e *entry) {
	if len(e.listeners) == 0 {
		return
	}
	ids := make([]uint64, 0, len(e.listeners))
	for id := range e.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	listeners := make([]Listener, len(ids))
	for i, id := range ids {
		listeners[i] = e.listeners[id]
	}
	s.queue = append(s.queue, notification{listeners: listeners, snapshot: e.snapshot()})
}

// flush delivers queued notifications, then schedules refetches. Only one
// goroutine drains at a time; notifications queued by a listener are picked
// up by the same drain loop.
func (s *Store) flush(refetch []func()) {
	s.mu.Lock()
	if !s.draining {
		s.draining = true
		for len(s.queue) > 0 {
			n := s.queue[0]
			s.queue[0] = notification{}
			s.queue = s.queue[1:]
			s.mu.Unlock()
			for _, l := range n.listeners {
				s.deliver(l, n.snapshot)
			}
			s.mu.Lock()
		}
		s.queue = nil
		s.draining = false
	}
	schedule := s.schedule
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return
	}
	for _, fn := range refetch {
		schedule(fn)
	}
}

func (s *Store) deliver(l Listener, snap Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("cache listener panicked", "identity", snap.Identity.String(), "panic", r)
		}
	}()
	l(snap)
}

func (s *Store) violation(err error) {
	if s.cfg.StrictIntegrity {
		panic(err)
	}
	s.logger.Error("cache integrity violation", "error", err)
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	store    *Store
	identity Identity
	id       uint64
	once     sync.Once
}

// ID returns the subscription id used with Store.Unsubscribe.
func (s *Subscription) ID() uint64 { return s.id }

// Identity returns the identity the subscription listens to.
func (s *Subscription) Identity() Identity { return s.identity }

// Unsubscribe removes the listener. Calling it more than once is a no-op.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.store.Unsubscribe(s.identity, s.id)
	})
}

// Patch is an undoable change made by Store.Patch.
type Patch struct {
	store    *Store
	entry    *entry
	previous any
	base     uint64
	version  uint64
	undone   bool
}

// Undo restores the value seen before the patch, unless the entry has been
// evicted or written since. Stacked patches undo in reverse order. It
// reports whether the value was restored.
func (p *Patch) Undo() bool {
	s := p.store
	s.mu.Lock()
	cur, ok := s.entries[p.entry.identity]
	if p.undone || !ok || cur != p.entry || cur.version != p.version {
		s.mu.Unlock()
		return false
	}
	p.undone = true
	cur.value = p.previous
	cur.version = p.base
	s.enqueue(cur)
	s.mu.Unlock()
	s.flush(nil)
	return true
}
