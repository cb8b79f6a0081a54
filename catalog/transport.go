package catalog

import "context"

// Transport performs the catalog requests against the source of truth.
// Implementations return domain values already unwrapped from the response
// envelope.
type Transport interface {
	ListBooks(ctx context.Context, params ListParams) ([]Book, error)
	GetBook(ctx context.Context, id string) (Book, error)
	SearchBooks(ctx context.Context, params SearchParams) ([]Book, error)
	CreateBook(ctx context.Context, in BookInput) (Book, error)
	UpdateBook(ctx context.Context, id string, in BookInput) (Book, error)
	DeleteBook(ctx context.Context, id string) error
	Borrow(ctx context.Context, req BorrowRequest) (BorrowRecord, error)
	Return(ctx context.Context, req ReturnRequest) error
	BorrowSummary(ctx context.Context) ([]BorrowedBookItem, error)
}
