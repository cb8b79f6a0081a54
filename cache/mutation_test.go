package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listTagsOf(v any) []Tag {
	tags := []Tag{IDTag("Book", ListID)}
	for _, id := range v.([]string) {
		tags = append(tags, IDTag("Book", id))
	}
	return tags
}

func TestMutate_InvalidatesAndRefetchesSubscribedViews(t *testing.T) {
	client, _ := newTestClient(t, testConfig())

	var (
		mu    sync.Mutex
		books = []string{"1", "2"}
	)
	var listCalls atomic.Int32
	fetchList := func(context.Context) (any, error) {
		listCalls.Add(1)
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), books...), nil
	}

	rec := &recorder{}
	_, sub := client.Subscribe(listBooks, rec.listen)
	defer sub.Unsubscribe()

	_, err := client.Query(context.Background(), listBooks, fetchList, listTagsOf)
	require.NoError(t, err)

	addBook := Mutation{
		Name: "add_book",
		Do: func(_ context.Context, args any) (any, error) {
			mu.Lock()
			defer mu.Unlock()
			books = append(books, args.(string))
			return args, nil
		},
		Invalidates: func(any, any) []Tag {
			return []Tag{IDTag("Book", ListID)}
		},
	}

	result, err := client.Mutate(context.Background(), addBook, "3")
	require.NoError(t, err)
	assert.Equal(t, "3", result)

	client.Wait()

	assert.Equal(t, int32(2), listCalls.Load())
	snap, _ := client.Store().Get(listBooks)
	assert.Equal(t, StatusSuccess, snap.Status)
	assert.Equal(t, []string{"1", "2", "3"}, snap.Value)
	assert.Contains(t, rec.statuses(), StatusStale)
	assert.Equal(t, []Identity{listBooks}, client.Store().index.Resolve(IDTag("Book", "3")))
}

func TestMutate_UnsubscribedViewsStayStale(t *testing.T) {
	client, _ := newTestClient(t, testConfig())

	var calls atomic.Int32
	_, err := client.Query(context.Background(), bookID("1"), countingFetch(&calls, "V1", "V2"), bookTags("1"))
	require.NoError(t, err)
	_, err = client.Query(context.Background(), bookID("2"), countingFetch(new(atomic.Int32), "B2"), bookTags("2"))
	require.NoError(t, err)

	updateBook := Mutation{
		Name: "update_book",
		Do:   func(context.Context, any) (any, error) { return nil, nil },
		Invalidates: func(args, _ any) []Tag {
			return []Tag{IDTag("Book", args.(string))}
		},
	}
	_, err = client.Mutate(context.Background(), updateBook, "1")
	require.NoError(t, err)
	client.Wait()

	one, _ := client.Store().Get(bookID("1"))
	two, _ := client.Store().Get(bookID("2"))
	assert.Equal(t, StatusStale, one.Status)
	assert.Equal(t, "V1", one.Value)
	assert.Equal(t, StatusSuccess, two.Status)
	assert.Equal(t, int32(1), calls.Load())

	snap, err := client.Query(context.Background(), bookID("1"), countingFetch(&calls, "V1", "V2"), bookTags("1"))
	require.NoError(t, err)
	assert.Equal(t, "V2", snap.Value)
}

func TestMutate_FailureInvalidatesNothing(t *testing.T) {
	client, _ := newTestClient(t, testConfig())
	client.Store().Put(bookID("1"), "V1", []Tag{IDTag("Book", "1"), IDTag("Book", ListID)})

	boom := errors.New("409 conflict")
	var invalidatesCalled bool
	m := Mutation{
		Name: "delete_book",
		Do:   func(context.Context, any) (any, error) { return nil, boom },
		Invalidates: func(any, any) []Tag {
			invalidatesCalled = true
			return []Tag{IDTag("Book", "1")}
		},
	}

	var states []MutationState
	_, err := client.Mutate(context.Background(), m, "1", func(s MutationState) {
		states = append(states, s)
	})

	var mutErr *MutationError
	require.ErrorAs(t, err, &mutErr)
	assert.Equal(t, "delete_book", mutErr.Name)
	assert.ErrorIs(t, err, boom)
	assert.False(t, invalidatesCalled)

	snap, _ := client.Store().Get(bookID("1"))
	assert.Equal(t, StatusSuccess, snap.Status)

	require.Len(t, states, 2)
	assert.Equal(t, StatusLoading, states[0].Status)
	assert.Equal(t, StatusError, states[1].Status)
	assert.Equal(t, states[0].ID, states[1].ID)
	assert.Equal(t, mutErr.ID, states[1].ID)
}

func TestMutate_ReportsSuccessBeforeInvalidation(t *testing.T) {
	client, _ := newTestClient(t, testConfig())
	client.Store().Put(bookID("1"), "V1", []Tag{IDTag("Book", "1")})

	var order []string
	_, sub := client.Subscribe(bookID("1"), func(s Snapshot) {
		order = append(order, "query:"+s.Status.String())
	})
	defer sub.Unsubscribe()

	m := Mutation{
		Name:        "update_book",
		Do:          func(context.Context, any) (any, error) { return "ok", nil },
		Invalidates: func(any, any) []Tag { return []Tag{IDTag("Book", "1")} },
	}
	_, err := client.Mutate(context.Background(), m, "1", func(s MutationState) {
		order = append(order, "mutation:"+s.Status.String())
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"mutation:loading", "mutation:success", "query:stale"}, order)
}

func TestMutate_OptimisticUpdateIsUndoneOnFailure(t *testing.T) {
	client, _ := newTestClient(t, testConfig())
	client.Store().Put(bookID("1"), 3, []Tag{IDTag("Book", "1")})

	release := make(chan struct{})
	seen := make(chan any, 1)
	m := Mutation{
		Name: "borrow_book",
		Do: func(context.Context, any) (any, error) {
			snap, _ := client.Store().Get(bookID("1"))
			seen <- snap.Value
			<-release
			return nil, errors.New("not enough copies")
		},
		Optimistic: func(any) []Update {
			return []Update{{
				Identity: bookID("1"),
				Recipe:   func(v any) any { return v.(int) - 1 },
			}}
		},
	}

	errc := make(chan error, 1)
	go func() {
		_, err := client.Mutate(context.Background(), m, nil)
		errc <- err
	}()

	assert.Equal(t, 2, <-seen)
	close(release)
	require.Error(t, <-errc)

	snap, _ := client.Store().Get(bookID("1"))
	assert.Equal(t, 3, snap.Value)
}

func TestMutate_OptimisticUpdateKeptOnSuccess(t *testing.T) {
	client, _ := newTestClient(t, testConfig())
	client.Store().Put(bookID("1"), 3, []Tag{IDTag("Book", "1")})

	m := Mutation{
		Name: "borrow_book",
		Do:   func(context.Context, any) (any, error) { return nil, nil },
		Optimistic: func(any) []Update {
			return []Update{
				{Identity: bookID("1"), Recipe: func(v any) any { return v.(int) - 1 }},
				{Identity: bookID("404"), Recipe: func(v any) any { return v }},
			}
		},
	}
	_, err := client.Mutate(context.Background(), m, nil)
	require.NoError(t, err)

	snap, _ := client.Store().Get(bookID("1"))
	assert.Equal(t, 2, snap.Value)
	_, ok := client.Store().Get(bookID("404"))
	assert.False(t, ok)
}

func TestMutate_ClosedClient(t *testing.T) {
	client, _ := newTestClient(t, testConfig())
	require.NoError(t, client.Close())

	_, err := client.Mutate(context.Background(), Mutation{Name: "noop"}, nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestTypedMutate(t *testing.T) {
	client, _ := newTestClient(t, testConfig())

	_, err := Query(context.Background(), client, getTestBook, "1")
	require.NoError(t, err)

	renameBook := MutationDef[testBook, testBook]{
		Name: "update_book",
		Do: func(_ context.Context, b testBook) (testBook, error) {
			return b, nil
		},
		InvalidatesTags: func(b testBook, _ testBook) []Tag {
			return []Tag{IDTag("Book", b.ID)}
		},
		Optimistic: func(b testBook) []Update {
			return []Update{UpdateFor(client, getTestBook, b.ID, func(cur testBook) testBook {
				cur.Title = b.Title
				return cur
			})}
		},
	}

	got, err := Mutate(context.Background(), client, renameBook, testBook{ID: "1", Title: "Children of Dune"})
	require.NoError(t, err)
	assert.Equal(t, "Children of Dune", got.Title)

	state, ok := Select(client, getTestBook, "1")
	require.True(t, ok)
	assert.True(t, state.IsStale())
	assert.Equal(t, "Children of Dune", state.Data.Title)
}
