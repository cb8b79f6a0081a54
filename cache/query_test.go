package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingFetch returns a fetch that yields the values in order and counts calls.
func countingFetch(calls *atomic.Int32, values ...any) FetchFunc {
	return func(context.Context) (any, error) {
		n := int(calls.Add(1))
		if n > len(values) {
			return values[len(values)-1], nil
		}
		return values[n-1], nil
	}
}

func bookTags(id string) TagFunc {
	return func(any) []Tag { return []Tag{IDTag("Book", id)} }
}

func TestQuery_FreshValueIsServedFromCache(t *testing.T) {
	client, _ := newTestClient(t, testConfig())
	var calls atomic.Int32
	fetch := countingFetch(&calls, "V1", "V2")

	snap, err := client.Query(context.Background(), bookID("1"), fetch, bookTags("1"))
	require.NoError(t, err)
	assert.Equal(t, "V1", snap.Value)

	snap, err = client.Query(context.Background(), bookID("1"), fetch, bookTags("1"))
	require.NoError(t, err)
	assert.Equal(t, "V1", snap.Value)
	assert.Equal(t, int32(1), calls.Load())
}

func TestQuery_RefetchesAfterStaleTime(t *testing.T) {
	client, clock := newTestClient(t, testConfig())
	var calls atomic.Int32
	fetch := countingFetch(&calls, "V1", "V2")

	_, err := client.Query(context.Background(), bookID("1"), fetch, bookTags("1"))
	require.NoError(t, err)

	clock.Advance(59 * time.Second)
	snap, err := client.Query(context.Background(), bookID("1"), fetch, bookTags("1"))
	require.NoError(t, err)
	assert.Equal(t, "V1", snap.Value)

	clock.Advance(2 * time.Second)
	snap, err = client.Query(context.Background(), bookID("1"), fetch, bookTags("1"))
	require.NoError(t, err)
	assert.Equal(t, "V2", snap.Value)
	assert.Equal(t, int32(2), calls.Load())
}

func TestQuery_Options(t *testing.T) {
	tests := []struct {
		name      string
		opts      []QueryOption
		wantCalls int32
	}{
		{name: "default", wantCalls: 1},
		{name: "zero stale time", opts: []QueryOption{WithStaleTime(0)}, wantCalls: 2},
		{name: "force refetch", opts: []QueryOption{WithForceRefetch()}, wantCalls: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, testConfig())
			var calls atomic.Int32
			fetch := countingFetch(&calls, "V1", "V2")

			_, err := client.Query(context.Background(), bookID("1"), fetch, nil)
			require.NoError(t, err)
			_, err = client.Query(context.Background(), bookID("1"), fetch, nil, tt.opts...)
			require.NoError(t, err)

			assert.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}

func TestQuery_ConcurrentCallsShareOneFetch(t *testing.T) {
	client, _ := newTestClient(t, testConfig())

	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	fetch := func(context.Context) (any, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return "V1", nil
	}

	const callers = 8
	var wg sync.WaitGroup
	results := make([]Snapshot, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = client.Query(context.Background(), bookID("1"), fetch, bookTags("1"))
		}(i)
	}

	<-started
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "V1", results[i].Value)
	}
}

func TestQuery_FetchErrorKeepsPreviousValue(t *testing.T) {
	cfg := testConfig()
	cfg.RetentionDelay = time.Hour
	client, clock := newTestClient(t, cfg)
	boom := errors.New("503 service unavailable")

	_, err := client.Query(context.Background(), bookID("1"), countingFetch(new(atomic.Int32), "V1"), bookTags("1"))
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	_, err = client.Query(context.Background(), bookID("1"), func(context.Context) (any, error) {
		return nil, boom
	}, bookTags("1"))

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, bookID("1"), fetchErr.Identity)
	assert.ErrorIs(t, err, boom)

	snap, ok := client.Store().Get(bookID("1"))
	require.True(t, ok)
	assert.Equal(t, StatusError, snap.Status)
	assert.Equal(t, "V1", snap.Value)
	assert.Equal(t, []Tag{IDTag("Book", "1")}, snap.Tags)
}

func TestQuery_ErrorIsNotRetried(t *testing.T) {
	client, _ := newTestClient(t, testConfig())
	var calls atomic.Int32
	fetch := func(context.Context) (any, error) {
		calls.Add(1)
		return nil, errors.New("boom")
	}

	_, err := client.Query(context.Background(), bookID("1"), fetch, nil)
	require.Error(t, err)
	client.Wait()
	assert.Equal(t, int32(1), calls.Load())
}

func TestQuery_PanickingFetchBecomesError(t *testing.T) {
	client, _ := newTestClient(t, testConfig())

	_, err := client.Query(context.Background(), bookID("1"), func(context.Context) (any, error) {
		panic("decoder bug")
	}, nil)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Contains(t, err.Error(), "decoder bug")

	snap, _ := client.Store().Get(bookID("1"))
	assert.Equal(t, StatusError, snap.Status)
}

func TestQuery_ResultForEvictedEntryIsDropped(t *testing.T) {
	client, _ := newTestClient(t, testConfig())

	started := make(chan struct{})
	release := make(chan struct{})
	fetch := func(context.Context) (any, error) {
		close(started)
		<-release
		return "V1", nil
	}

	done := make(chan Snapshot, 1)
	go func() {
		snap, err := client.Query(context.Background(), bookID("1"), fetch, bookTags("1"))
		assert.NoError(t, err)
		done <- snap
	}()

	<-started
	require.NoError(t, client.Store().Evict(bookID("1")))
	close(release)

	snap := <-done
	assert.Equal(t, "V1", snap.Value)

	_, ok := client.Store().Get(bookID("1"))
	assert.False(t, ok)
	assert.Empty(t, client.Store().index.Resolve(IDTag("Book", "1")))
	require.NoError(t, client.Store().CheckIntegrity())
}

func TestQuery_CallerAfterEvictionReceivesRunningFetch(t *testing.T) {
	client, _ := newTestClient(t, testConfig())

	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	fetch := func(context.Context) (any, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return "V1", nil
	}

	first := make(chan error, 1)
	go func() {
		_, err := client.Query(context.Background(), bookID("1"), fetch, bookTags("1"))
		first <- err
	}()

	<-started
	require.NoError(t, client.Store().Evict(bookID("1")))

	var (
		mu   sync.Mutex
		seen []Status
	)
	_, sub := client.Store().Subscribe(bookID("1"), func(s Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s.Status)
	})
	defer sub.Unsubscribe()

	second := make(chan Snapshot, 1)
	go func() {
		snap, err := client.Query(context.Background(), bookID("1"), fetch, bookTags("1"))
		assert.NoError(t, err)
		second <- snap
	}()

	time.Sleep(20 * time.Millisecond)
	close(release)
	require.NoError(t, <-first)
	snap := <-second
	assert.Equal(t, "V1", snap.Value)

	stored, ok := client.Store().Get(bookID("1"))
	require.True(t, ok)
	assert.Equal(t, StatusSuccess, stored.Status)
	assert.Equal(t, "V1", stored.Value)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, []Identity{bookID("1")}, client.Store().index.Resolve(IDTag("Book", "1")))
	require.NoError(t, client.Store().CheckIntegrity())

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0 && seen[len(seen)-1] == StatusSuccess
	}, time.Second, 5*time.Millisecond)
}

func TestQuery_CancelledCallerDoesNotAbortFetch(t *testing.T) {
	client, _ := newTestClient(t, testConfig())

	started := make(chan struct{})
	release := make(chan struct{})
	fetch := func(ctx context.Context) (any, error) {
		close(started)
		<-release
		return "V1", ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := client.Query(ctx, bookID("1"), fetch, nil)
		errc <- err
	}()

	<-started
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	close(release)
	require.Eventually(t, func() bool {
		snap, _ := client.Store().Get(bookID("1"))
		return snap.Status == StatusSuccess
	}, time.Second, 5*time.Millisecond)

	snap, _ := client.Store().Get(bookID("1"))
	assert.Equal(t, "V1", snap.Value)
}

func TestQuery_TagsFollowTheLatestResult(t *testing.T) {
	client, _ := newTestClient(t, testConfig())
	listTags := func(v any) []Tag {
		tags := []Tag{IDTag("Book", ListID)}
		for _, id := range v.([]string) {
			tags = append(tags, IDTag("Book", id))
		}
		return tags
	}

	var calls atomic.Int32
	fetch := countingFetch(&calls, []string{"1", "2"}, []string{"1"})

	_, err := client.Query(context.Background(), listBooks, fetch, listTags)
	require.NoError(t, err)
	assert.Equal(t, []Identity{listBooks}, client.Store().index.Resolve(IDTag("Book", "2")))

	_, err = client.Query(context.Background(), listBooks, fetch, listTags, WithForceRefetch())
	require.NoError(t, err)
	assert.Empty(t, client.Store().index.Resolve(IDTag("Book", "2")))
	assert.Equal(t, []Identity{listBooks}, client.Store().index.Resolve(IDTag("Book", "1")))
}

func TestQuery_InvalidationDuringFetchIsAppliedAfterwards(t *testing.T) {
	client, _ := newTestClient(t, testConfig())

	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	fetch := func(context.Context) (any, error) {
		if calls.Add(1) == 1 {
			close(started)
			<-release
			return "V1", nil
		}
		return "V2", nil
	}

	rec := &recorder{}
	_, sub := client.Subscribe(bookID("1"), rec.listen)
	defer sub.Unsubscribe()

	done := make(chan error, 1)
	go func() {
		_, err := client.Query(context.Background(), bookID("1"), fetch, bookTags("1"))
		done <- err
	}()

	<-started
	require.True(t, client.Store().Invalidate(bookID("1")))
	snap, _ := client.Store().Get(bookID("1"))
	assert.Equal(t, StatusLoading, snap.Status)

	close(release)
	require.NoError(t, <-done)
	client.Wait()

	assert.Equal(t, int32(2), calls.Load())
	snap, _ = client.Store().Get(bookID("1"))
	assert.Equal(t, StatusSuccess, snap.Status)
	assert.Equal(t, "V2", snap.Value)
	assert.Contains(t, rec.statuses(), StatusStale)
}

func TestQuery_OneShotResultIsEvictedAfterRetention(t *testing.T) {
	client, clock := newTestClient(t, testConfig())

	_, err := client.Query(context.Background(), bookID("1"), countingFetch(new(atomic.Int32), "V1"), bookTags("1"))
	require.NoError(t, err)
	assert.Equal(t, 1, client.Store().Len())

	clock.Advance(61 * time.Second)
	assert.Equal(t, 0, client.Store().Len())
	require.NoError(t, client.Store().CheckIntegrity())
}

func TestQuery_ClosedClient(t *testing.T) {
	client, _ := newTestClient(t, testConfig())
	require.NoError(t, client.Close())

	_, err := client.Query(context.Background(), bookID("1"), countingFetch(new(atomic.Int32), "V1"), nil)
	assert.ErrorIs(t, err, ErrClosed)
}

type testBook struct {
	ID    string
	Title string
}

var getTestBook = QueryDef[string, testBook]{
	Name: "get_book",
	Fetch: func(_ context.Context, id string) (testBook, error) {
		return testBook{ID: id, Title: "Dune"}, nil
	},
	ProvidesTags: func(id string, _ testBook) []Tag {
		return []Tag{IDTag("Book", id)}
	},
}

func TestTypedQuery(t *testing.T) {
	client, _ := newTestClient(t, testConfig())

	book, err := Query(context.Background(), client, getTestBook, "1")
	require.NoError(t, err)
	assert.Equal(t, testBook{ID: "1", Title: "Dune"}, book)

	assert.Equal(t, bookID("1"), getTestBook.Identity(client, "1"))

	state, ok := Select(client, getTestBook, "1")
	require.True(t, ok)
	assert.True(t, state.HasData)
	assert.Equal(t, "Dune", state.Data.Title)
	assert.Equal(t, StatusSuccess, state.Status)
}

func TestTypedQuery_NoArgsIdentity(t *testing.T) {
	client, _ := newTestClient(t, testConfig())
	def := QueryDef[NoArgs, []string]{Name: "list_books"}
	assert.Equal(t, listBooks, def.Identity(client, NoArgs{}))
}

func TestTypedQuery_InvalidResultType(t *testing.T) {
	client, _ := newTestClient(t, testConfig())
	client.Store().Put(bookID("1"), 42, nil)

	_, err := Query(context.Background(), client, getTestBook, "1")
	assert.ErrorIs(t, err, ErrInvalidResultType)
}

func TestWatch_DeliversTypedStates(t *testing.T) {
	client, _ := newTestClient(t, testConfig())

	var (
		mu     sync.Mutex
		states []State[testBook]
	)
	initial, sub := Watch(context.Background(), client, getTestBook, "1", func(s State[testBook]) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, s)
	})
	defer sub.Unsubscribe()

	assert.False(t, initial.HasData)
	client.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, states)
	last := states[len(states)-1]
	assert.Equal(t, StatusSuccess, last.Status)
	assert.Equal(t, "Dune", last.Data.Title)
	assert.True(t, states[0].IsLoading())
}
