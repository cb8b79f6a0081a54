package testsupport

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/goliatone/go-query-cache/catalog"
)

var (
	// ErrNotFound is returned for unknown books and borrow records.
	ErrNotFound = errors.New("testsupport: not found")
	// ErrNotEnoughCopies is returned when a borrow exceeds the copies on hand.
	ErrNotEnoughCopies = errors.New("testsupport: not enough copies")
)

// Method names accepted by Calls and FailNext.
const (
	MethodListBooks     = "ListBooks"
	MethodGetBook       = "GetBook"
	MethodSearchBooks   = "SearchBooks"
	MethodCreateBook    = "CreateBook"
	MethodUpdateBook    = "UpdateBook"
	MethodDeleteBook    = "DeleteBook"
	MethodBorrow        = "Borrow"
	MethodReturn        = "Return"
	MethodBorrowSummary = "BorrowSummary"
)

// MemoryTransport is an in-memory catalog.Transport that behaves like the
// catalog server: copies drop on borrow, availability follows copies, and
// the borrow summary aggregates open borrows per book.
type MemoryTransport struct {
	mu       sync.Mutex
	books    map[string]catalog.Book
	borrows  []catalog.BorrowRecord
	calls    map[string]int
	failures map[string][]error
	gates    map[string]chan struct{}
	now      func() time.Time
}

var _ catalog.Transport = (*MemoryTransport)(nil)

// NewMemoryTransport returns a transport seeded with books.
func NewMemoryTransport(books ...catalog.Book) *MemoryTransport {
	m := &MemoryTransport{
		books:    make(map[string]catalog.Book, len(books)),
		calls:    make(map[string]int),
		failures: make(map[string][]error),
		gates:    make(map[string]chan struct{}),
		now:      time.Now,
	}
	for _, b := range books {
		m.books[b.ID] = b
	}
	return m
}

// Calls returns how many times method was invoked.
func (m *MemoryTransport) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

// FailNext makes the next call to method fail with err.
func (m *MemoryTransport) FailNext(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[method] = append(m.failures[method], err)
}

// Hold blocks calls to method until the returned release func is called.
func (m *MemoryTransport) Hold(method string) (release func()) {
	gate := make(chan struct{})
	m.mu.Lock()
	m.gates[method] = gate
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			if m.gates[method] == gate {
				delete(m.gates, method)
			}
			m.mu.Unlock()
			close(gate)
		})
	}
}

// Book returns the server-side state of book id.
func (m *MemoryTransport) Book(id string) (catalog.Book, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	return b, ok
}

// enter records the call, waits on a hold and pops a queued failure.
func (m *MemoryTransport) enter(ctx context.Context, method string) error {
	m.mu.Lock()
	m.calls[method]++
	gate := m.gates[method]
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if queued := m.failures[method]; len(queued) > 0 {
		m.failures[method] = queued[1:]
		return queued[0]
	}
	return nil
}

// ListBooks filters by genre, sorts by creation time and applies the limit.
func (m *MemoryTransport) ListBooks(ctx context.Context, params catalog.ListParams) ([]catalog.Book, error) {
	if err := m.enter(ctx, MethodListBooks); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := m.sorted(params.Sort)
	if params.Filter != "" {
		filtered := out[:0]
		for _, b := range out {
			if strings.EqualFold(b.Genre, params.Filter) {
				filtered = append(filtered, b)
			}
		}
		out = filtered
	}
	if params.Limit > 0 && len(out) > params.Limit {
		out = out[:params.Limit]
	}
	return out, nil
}

func (m *MemoryTransport) GetBook(ctx context.Context, id string) (catalog.Book, error) {
	if err := m.enter(ctx, MethodGetBook); err != nil {
		return catalog.Book{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.books[id]
	if !ok {
		return catalog.Book{}, errors.Wrapf(ErrNotFound, "book %s", id)
	}
	return b, nil
}

// SearchBooks matches the query against title, author, genre and isbn.
// Filters must match the field of the same name exactly.
func (m *MemoryTransport) SearchBooks(ctx context.Context, params catalog.SearchParams) ([]catalog.Book, error) {
	if err := m.enter(ctx, MethodSearchBooks); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	q := strings.ToLower(params.Query)
	var out []catalog.Book
	for _, b := range m.sorted("asc") {
		haystack := strings.ToLower(strings.Join([]string{b.Title, b.Author, b.Genre, b.ISBN}, " "))
		if q != "" && !strings.Contains(haystack, q) {
			continue
		}
		if !matchFilters(b, params.Filters) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func matchFilters(b catalog.Book, filters map[string]string) bool {
	for key, want := range filters {
		var got string
		switch key {
		case "genre":
			got = b.Genre
		case "author":
			got = b.Author
		case "isbn":
			got = b.ISBN
		default:
			continue
		}
		if !strings.EqualFold(got, want) {
			return false
		}
	}
	return true
}

func (m *MemoryTransport) CreateBook(ctx context.Context, in catalog.BookInput) (catalog.Book, error) {
	if err := m.enter(ctx, MethodCreateBook); err != nil {
		return catalog.Book{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	b := apply(catalog.Book{ID: uuid.NewString(), CreatedAt: now}, in, now)
	m.books[b.ID] = b
	return b, nil
}

func (m *MemoryTransport) UpdateBook(ctx context.Context, id string, in catalog.BookInput) (catalog.Book, error) {
	if err := m.enter(ctx, MethodUpdateBook); err != nil {
		return catalog.Book{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.books[id]
	if !ok {
		return catalog.Book{}, errors.Wrapf(ErrNotFound, "book %s", id)
	}
	b = apply(b, in, m.now().UTC())
	m.books[id] = b
	return b, nil
}

func (m *MemoryTransport) DeleteBook(ctx context.Context, id string) error {
	if err := m.enter(ctx, MethodDeleteBook); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.books[id]; !ok {
		return errors.Wrapf(ErrNotFound, "book %s", id)
	}
	delete(m.books, id)
	return nil
}

func (m *MemoryTransport) Borrow(ctx context.Context, req catalog.BorrowRequest) (catalog.BorrowRecord, error) {
	if err := m.enter(ctx, MethodBorrow); err != nil {
		return catalog.BorrowRecord{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.books[req.Book]
	if !ok {
		return catalog.BorrowRecord{}, errors.Wrapf(ErrNotFound, "book %s", req.Book)
	}
	if b.Copies < req.Quantity {
		return catalog.BorrowRecord{}, errors.Wrapf(ErrNotEnoughCopies, "book %s has %d copies", b.ID, b.Copies)
	}
	b = b.WithCopies(-req.Quantity)
	b.UpdatedAt = m.now().UTC()
	m.books[b.ID] = b

	rec := catalog.BorrowRecord{
		ID:        uuid.NewString(),
		Book:      b.ID,
		Quantity:  req.Quantity,
		DueDate:   req.DueDate,
		CreatedAt: m.now().UTC(),
	}
	m.borrows = append(m.borrows, rec)
	return rec, nil
}

func (m *MemoryTransport) Return(ctx context.Context, req catalog.ReturnRequest) error {
	if err := m.enter(ctx, MethodReturn); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, rec := range m.borrows {
		if rec.ID != req.BorrowID || rec.Book != req.BookID {
			continue
		}
		m.borrows = append(m.borrows[:i], m.borrows[i+1:]...)
		if b, ok := m.books[rec.Book]; ok {
			b = b.WithCopies(rec.Quantity)
			b.UpdatedAt = m.now().UTC()
			m.books[b.ID] = b
		}
		return nil
	}
	return errors.Wrapf(ErrNotFound, "borrow %s of book %s", req.BorrowID, req.BookID)
}

// BorrowSummary aggregates open borrows by book, ordered by title.
func (m *MemoryTransport) BorrowSummary(ctx context.Context) ([]catalog.BorrowedBookItem, error) {
	if err := m.enter(ctx, MethodBorrowSummary); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	totals := make(map[string]int)
	for _, rec := range m.borrows {
		totals[rec.Book] += rec.Quantity
	}
	out := make([]catalog.BorrowedBookItem, 0, len(totals))
	for id, qty := range totals {
		b := m.books[id]
		out = append(out, catalog.BorrowedBookItem{
			Book:          catalog.BorrowedBook{Title: b.Title, Author: b.Author, ISBN: b.ISBN},
			TotalQuantity: qty,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Book.Title < out[j].Book.Title })
	return out, nil
}

// sorted returns the books ordered by creation time, newest first for "desc".
func (m *MemoryTransport) sorted(order string) []catalog.Book {
	out := make([]catalog.Book, 0, len(m.books))
	for _, b := range m.books {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			if strings.EqualFold(order, "desc") {
				return out[i].CreatedAt.After(out[j].CreatedAt)
			}
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func apply(b catalog.Book, in catalog.BookInput, now time.Time) catalog.Book {
	in = in.Normalize()
	b.Title = in.Title
	b.Author = in.Author
	b.Genre = in.Genre
	b.ISBN = in.ISBN
	b.Description = in.Description
	b.Copies = in.Copies
	b.Available = in.Available
	b.UpdatedAt = now
	return b
}
