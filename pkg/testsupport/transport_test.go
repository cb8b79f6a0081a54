package testsupport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-query-cache/catalog"
)

const (
	duneID   = "665f1a2b3c4d5e6f70819201"
	hobbitID = "665f1a2b3c4d5e6f70819204"
)

func TestMemoryTransport_ListBooks(t *testing.T) {
	m := NewMemoryTransport(Books()...)
	ctx := context.Background()

	tests := []struct {
		name   string
		params catalog.ListParams
		want   []string
	}{
		{name: "all ascending", want: []string{"Dune", "A Brief History of Time", "The Guns of August", "The Hobbit"}},
		{name: "descending with limit", params: catalog.ListParams{Sort: "desc", Limit: 2}, want: []string{"The Hobbit", "The Guns of August"}},
		{name: "genre filter", params: catalog.ListParams{Filter: "science"}, want: []string{"A Brief History of Time"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			books, err := m.ListBooks(ctx, tt.params)
			require.NoError(t, err)
			titles := make([]string, len(books))
			for i, b := range books {
				titles[i] = b.Title
			}
			assert.Equal(t, tt.want, titles)
		})
	}
	assert.Equal(t, len(tests), m.Calls(MethodListBooks))
}

func TestMemoryTransport_Search(t *testing.T) {
	m := NewMemoryTransport(Books()...)

	books, err := m.SearchBooks(context.Background(), catalog.SearchParams{Query: "the"})
	require.NoError(t, err)
	assert.Len(t, books, 2)

	books, err = m.SearchBooks(context.Background(), catalog.SearchParams{Query: "the", Filters: map[string]string{"genre": "FANTASY"}})
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, hobbitID, books[0].ID)
}

func TestMemoryTransport_CreateUpdateDelete(t *testing.T) {
	m := NewMemoryTransport()
	ctx := context.Background()

	created, err := m.CreateBook(ctx, catalog.BookInput{Title: "Emma", Author: "Jane Austen", ISBN: "1", Copies: 0, Available: true})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.False(t, created.Available, "no copies means unavailable")

	updated, err := m.UpdateBook(ctx, created.ID, catalog.BookInput{Title: "Emma", Author: "Jane Austen", ISBN: "1", Copies: 2, Available: true})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Copies)
	assert.True(t, updated.Available)

	require.NoError(t, m.DeleteBook(ctx, created.ID))
	_, err = m.GetBook(ctx, created.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.DeleteBook(ctx, created.ID), ErrNotFound)
}

func TestMemoryTransport_BorrowAndReturn(t *testing.T) {
	m := NewMemoryTransport(Books()...)
	ctx := context.Background()
	due := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	rec, err := m.Borrow(ctx, catalog.BorrowRequest{Book: duneID, Quantity: 2, DueDate: due})
	require.NoError(t, err)
	assert.Equal(t, duneID, rec.Book)

	b, _ := m.Book(duneID)
	assert.Equal(t, 3, b.Copies)

	summary, err := m.BorrowSummary(ctx)
	require.NoError(t, err)
	require.Len(t, summary, 1)
	assert.Equal(t, "Dune", summary[0].Book.Title)
	assert.Equal(t, 2, summary[0].TotalQuantity)

	_, err = m.Borrow(ctx, catalog.BorrowRequest{Book: hobbitID, Quantity: 1, DueDate: due})
	assert.ErrorIs(t, err, ErrNotEnoughCopies)

	require.NoError(t, m.Return(ctx, catalog.ReturnRequest{BookID: duneID, BorrowID: rec.ID}))
	b, _ = m.Book(duneID)
	assert.Equal(t, 5, b.Copies)
	assert.ErrorIs(t, m.Return(ctx, catalog.ReturnRequest{BookID: duneID, BorrowID: rec.ID}), ErrNotFound)

	summary, err = m.BorrowSummary(ctx)
	require.NoError(t, err)
	assert.Empty(t, summary)
}

func TestMemoryTransport_FailNext(t *testing.T) {
	m := NewMemoryTransport(Books()...)
	boom := errors.New("boom")
	m.FailNext(MethodGetBook, boom)

	_, err := m.GetBook(context.Background(), duneID)
	assert.ErrorIs(t, err, boom)

	_, err = m.GetBook(context.Background(), duneID)
	assert.NoError(t, err)
	assert.Equal(t, 2, m.Calls(MethodGetBook))
}

func TestMemoryTransport_Hold(t *testing.T) {
	m := NewMemoryTransport(Books()...)
	release := m.Hold(MethodGetBook)

	done := make(chan error, 1)
	go func() {
		_, err := m.GetBook(context.Background(), duneID)
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("held call returned early")
	case <-time.After(20 * time.Millisecond):
	}

	release()
	require.NoError(t, <-done)
	release()

	ctx, cancel := context.WithCancel(context.Background())
	m.Hold(MethodGetBook)
	cancel()
	_, err := m.GetBook(ctx, duneID)
	assert.ErrorIs(t, err, context.Canceled)
}
