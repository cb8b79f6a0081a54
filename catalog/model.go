package catalog

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Known genres. The server accepts other values; the client only uses these
// for display grouping.
const (
	GenreFiction    = "FICTION"
	GenreNonFiction = "NON_FICTION"
	GenreScience    = "SCIENCE"
	GenreHistory    = "HISTORY"
	GenreBiography  = "BIOGRAPHY"
	GenreFantasy    = "FANTASY"
)

// Book is a catalog item as returned by the server.
type Book struct {
	ID          string    `json:"_id"`
	Title       string    `json:"title"`
	Author      string    `json:"author"`
	Genre       string    `json:"genre"`
	ISBN        string    `json:"isbn"`
	Description string    `json:"description"`
	Copies      int       `json:"copies"`
	Available   bool      `json:"available"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Input returns the writable fields of b.
func (b Book) Input() BookInput {
	return BookInput{
		Title:       b.Title,
		Author:      b.Author,
		Genre:       b.Genre,
		ISBN:        b.ISBN,
		Description: b.Description,
		Copies:      b.Copies,
		Available:   b.Available,
	}
}

// WithCopies returns b with copies adjusted by delta, never below zero,
// and availability recomputed.
func (b Book) WithCopies(delta int) Book {
	b.Copies += delta
	if b.Copies < 0 {
		b.Copies = 0
	}
	b.Available = b.Copies > 0
	return b
}

// BookInput is the payload of create and update requests.
type BookInput struct {
	Title       string `json:"title"`
	Author      string `json:"author"`
	Genre       string `json:"genre,omitempty"`
	ISBN        string `json:"isbn"`
	Description string `json:"description,omitempty"`
	Copies      int    `json:"copies"`
	Available   bool   `json:"available"`
}

// Normalize applies the availability rule: a book without copies is never available.
func (in BookInput) Normalize() BookInput {
	if in.Copies <= 0 {
		in.Available = false
	}
	return in
}

// Validate checks the fields the server requires.
func (in BookInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Title, validation.Required, validation.Length(1, 200)),
		validation.Field(&in.Author, validation.Required),
		validation.Field(&in.ISBN, validation.Required),
		validation.Field(&in.Copies, validation.Min(0)),
	)
}

// ListParams are the list view query options.
type ListParams struct {
	Filter string
	Sort   string
	Limit  int
}

// SearchParams is a free-text search with optional extra filters.
type SearchParams struct {
	Query   string
	Filters map[string]string
}

// UpdateBookArgs identifies the book to update and carries the new fields.
type UpdateBookArgs struct {
	ID    string
	Input BookInput
}

// BorrowRequest borrows quantity copies of a book until DueDate.
type BorrowRequest struct {
	Book     string    `json:"book"`
	Quantity int       `json:"quantity"`
	DueDate  time.Time `json:"dueDate"`
}

// Validate checks the borrow request before it is sent.
func (r BorrowRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Book, validation.Required),
		validation.Field(&r.Quantity, validation.Required, validation.Min(1)),
		validation.Field(&r.DueDate, validation.Required),
	)
}

// BorrowRecord is the server's record of one borrow.
type BorrowRecord struct {
	ID        string    `json:"_id"`
	Book      string    `json:"book"`
	Quantity  int       `json:"quantity"`
	DueDate   time.Time `json:"dueDate"`
	CreatedAt time.Time `json:"createdAt"`
}

// ReturnRequest returns the copies of one borrow.
type ReturnRequest struct {
	BookID   string `json:"-"`
	BorrowID string `json:"borrowId"`
}

// Validate checks the return request before it is sent.
func (r ReturnRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.BookID, validation.Required),
		validation.Field(&r.BorrowID, validation.Required),
	)
}

// BorrowedBookItem is one row of the borrow summary.
type BorrowedBookItem struct {
	Book          BorrowedBook `json:"book"`
	TotalQuantity int          `json:"totalQuantity"`
}

// BorrowedBook is the part of a book shown in the borrow summary.
type BorrowedBook struct {
	Title  string `json:"title"`
	Author string `json:"author,omitempty"`
	ISBN   string `json:"isbn,omitempty"`
}
