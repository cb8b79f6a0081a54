package catalog

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/goliatone/go-query-cache/cache"
)

// Endpoint names. They are the endpoint part of every cache identity.
const (
	EndpointGetBooks      = "get_books"
	EndpointGetBook       = "get_book"
	EndpointSearchBooks   = "search_books"
	EndpointBorrowSummary = "get_borrow_summary"
	EndpointAddBook       = "add_book"
	EndpointUpdateBook    = "update_book"
	EndpointDeleteBook    = "delete_book"
	EndpointBorrowBook    = "borrow_book"
	EndpointReturnBook    = "return_book"
)

// ErrInvalidInput marks requests rejected before they reach the transport.
var ErrInvalidInput = errors.New("catalog: invalid input")

// API routes catalog reads through the cache and catalog writes through the
// mutation executor, so every view of a book stays consistent after a write.
type API struct {
	client *cache.Client

	GetBooks      cache.QueryDef[ListParams, []Book]
	GetBook       cache.QueryDef[string, Book]
	SearchBooks   cache.QueryDef[SearchParams, []Book]
	BorrowSummary cache.QueryDef[cache.NoArgs, []BorrowedBookItem]

	AddBook    cache.MutationDef[BookInput, Book]
	UpdateBook cache.MutationDef[UpdateBookArgs, Book]
	DeleteBook cache.MutationDef[string, struct{}]
	BorrowBook cache.MutationDef[BorrowRequest, BorrowRecord]
	ReturnBook cache.MutationDef[ReturnRequest, struct{}]
}

// NewAPI builds the endpoint definitions over transport.
func NewAPI(client *cache.Client, transport Transport) *API {
	a := &API{client: client}

	a.GetBooks = cache.QueryDef[ListParams, []Book]{
		Name:  EndpointGetBooks,
		Fetch: transport.ListBooks,
		ProvidesTags: func(_ ListParams, books []Book) []cache.Tag {
			return collectionTags(books, BookListTag)
		},
	}
	a.GetBook = cache.QueryDef[string, Book]{
		Name:  EndpointGetBook,
		Fetch: transport.GetBook,
		ProvidesTags: func(id string, _ Book) []cache.Tag {
			return []cache.Tag{BookTag(id)}
		},
	}
	a.SearchBooks = cache.QueryDef[SearchParams, []Book]{
		Name:  EndpointSearchBooks,
		Fetch: transport.SearchBooks,
		ProvidesTags: func(_ SearchParams, books []Book) []cache.Tag {
			return collectionTags(books, BookSearchTag)
		},
	}
	a.BorrowSummary = cache.QueryDef[cache.NoArgs, []BorrowedBookItem]{
		Name: EndpointBorrowSummary,
		Fetch: func(ctx context.Context, _ cache.NoArgs) ([]BorrowedBookItem, error) {
			return transport.BorrowSummary(ctx)
		},
		ProvidesTags: func(cache.NoArgs, []BorrowedBookItem) []cache.Tag {
			return []cache.Tag{BorrowRecordTag}
		},
	}

	a.AddBook = cache.MutationDef[BookInput, Book]{
		Name: EndpointAddBook,
		Do: func(ctx context.Context, in BookInput) (Book, error) {
			return transport.CreateBook(ctx, in.Normalize())
		},
		InvalidatesTags: func(BookInput, Book) []cache.Tag {
			return []cache.Tag{BookListTag, BookSearchTag}
		},
	}
	a.UpdateBook = cache.MutationDef[UpdateBookArgs, Book]{
		Name: EndpointUpdateBook,
		Do: func(ctx context.Context, args UpdateBookArgs) (Book, error) {
			return transport.UpdateBook(ctx, args.ID, args.Input.Normalize())
		},
		InvalidatesTags: func(args UpdateBookArgs, _ Book) []cache.Tag {
			return []cache.Tag{BookTag(args.ID), BookListTag, BookSearchTag}
		},
	}
	a.DeleteBook = cache.MutationDef[string, struct{}]{
		Name: EndpointDeleteBook,
		Do: func(ctx context.Context, id string) (struct{}, error) {
			return struct{}{}, transport.DeleteBook(ctx, id)
		},
		InvalidatesTags: func(id string, _ struct{}) []cache.Tag {
			return []cache.Tag{BookTag(id), BookListTag, BookSearchTag}
		},
	}
	a.BorrowBook = cache.MutationDef[BorrowRequest, BorrowRecord]{
		Name: EndpointBorrowBook,
		Do:   transport.Borrow,
		InvalidatesTags: func(req BorrowRequest, _ BorrowRecord) []cache.Tag {
			return []cache.Tag{BookListTag, BookTag(req.Book), BorrowRecordTag}
		},
		Optimistic: func(req BorrowRequest) []cache.Update {
			return []cache.Update{
				cache.UpdateFor(a.client, a.GetBook, req.Book, func(b Book) Book {
					return b.WithCopies(-req.Quantity)
				}),
			}
		},
	}
	a.ReturnBook = cache.MutationDef[ReturnRequest, struct{}]{
		Name: EndpointReturnBook,
		Do: func(ctx context.Context, req ReturnRequest) (struct{}, error) {
			return struct{}{}, transport.Return(ctx, req)
		},
		InvalidatesTags: func(req ReturnRequest, _ struct{}) []cache.Tag {
			return []cache.Tag{BookListTag, BookTag(req.BookID), BorrowRecordTag}
		},
	}

	return a
}

// Client returns the cache client the API reads and writes through.
func (a *API) Client() *cache.Client { return a.client }

// Books returns the list view for params.
func (a *API) Books(ctx context.Context, params ListParams, opts ...cache.QueryOption) ([]Book, error) {
	return cache.Query(ctx, a.client, a.GetBooks, params, opts...)
}

// Book returns one book.
func (a *API) Book(ctx context.Context, id string, opts ...cache.QueryOption) (Book, error) {
	return cache.Query(ctx, a.client, a.GetBook, id, opts...)
}

// Search returns the books matching params.
func (a *API) Search(ctx context.Context, params SearchParams, opts ...cache.QueryOption) ([]Book, error) {
	return cache.Query(ctx, a.client, a.SearchBooks, params, opts...)
}

// Summary returns the borrow summary.
func (a *API) Summary(ctx context.Context, opts ...cache.QueryOption) ([]BorrowedBookItem, error) {
	return cache.Query(ctx, a.client, a.BorrowSummary, cache.NoArgs{}, opts...)
}

// WatchBooks subscribes fn to the list view for params.
func (a *API) WatchBooks(ctx context.Context, params ListParams, fn func(cache.State[[]Book])) (cache.State[[]Book], *cache.Subscription) {
	return cache.Watch(ctx, a.client, a.GetBooks, params, fn)
}

// WatchBook subscribes fn to the detail view of id.
func (a *API) WatchBook(ctx context.Context, id string, fn func(cache.State[Book])) (cache.State[Book], *cache.Subscription) {
	return cache.Watch(ctx, a.client, a.GetBook, id, fn)
}

// WatchSearch subscribes fn to the search results for params.
func (a *API) WatchSearch(ctx context.Context, params SearchParams, fn func(cache.State[[]Book])) (cache.State[[]Book], *cache.Subscription) {
	return cache.Watch(ctx, a.client, a.SearchBooks, params, fn)
}

// WatchSummary subscribes fn to the borrow summary.
func (a *API) WatchSummary(ctx context.Context, fn func(cache.State[[]BorrowedBookItem])) (cache.State[[]BorrowedBookItem], *cache.Subscription) {
	return cache.Watch(ctx, a.client, a.BorrowSummary, cache.NoArgs{}, fn)
}

// Create adds a book.
func (a *API) Create(ctx context.Context, in BookInput, listeners ...cache.MutationListener) (Book, error) {
	if err := in.Validate(); err != nil {
		return Book{}, errors.Mark(errors.Wrap(err, "add book"), ErrInvalidInput)
	}
	return cache.Mutate(ctx, a.client, a.AddBook, in, listeners...)
}

// Update replaces the writable fields of book id.
func (a *API) Update(ctx context.Context, id string, in BookInput, listeners ...cache.MutationListener) (Book, error) {
	if id == "" {
		return Book{}, errors.Wrap(ErrInvalidInput, "update book: missing id")
	}
	if err := in.Validate(); err != nil {
		return Book{}, errors.Mark(errors.Wrapf(err, "update book %s", id), ErrInvalidInput)
	}
	return cache.Mutate(ctx, a.client, a.UpdateBook, UpdateBookArgs{ID: id, Input: in}, listeners...)
}

// Delete removes book id.
func (a *API) Delete(ctx context.Context, id string, listeners ...cache.MutationListener) error {
	if id == "" {
		return errors.Wrap(ErrInvalidInput, "delete book: missing id")
	}
	_, err := cache.Mutate(ctx, a.client, a.DeleteBook, id, listeners...)
	return err
}

// Borrow borrows copies of a book. The cached detail view shows the reduced
// copy count until the server answers; it is restored if the request fails.
func (a *API) Borrow(ctx context.Context, req BorrowRequest, listeners ...cache.MutationListener) (BorrowRecord, error) {
	if err := req.Validate(); err != nil {
		return BorrowRecord{}, errors.Mark(errors.Wrapf(err, "borrow book %s", req.Book), ErrInvalidInput)
	}
	return cache.Mutate(ctx, a.client, a.BorrowBook, req, listeners...)
}

// Return returns the copies of one borrow.
func (a *API) Return(ctx context.Context, req ReturnRequest, listeners ...cache.MutationListener) error {
	if err := req.Validate(); err != nil {
		return errors.Mark(errors.Wrap(err, "return book"), ErrInvalidInput)
	}
	_, err := cache.Mutate(ctx, a.client, a.ReturnBook, req, listeners...)
	return err
}
