package catalog

import "github.com/goliatone/go-query-cache/cache"

// Tag types used by the catalog endpoints.
const (
	TagBook         = "Book"
	TagBorrowRecord = "BorrowRecord"
)

// BookTag is the tag of a single book.
func BookTag(id string) cache.Tag { return cache.IDTag(TagBook, id) }

var (
	// BookListTag is declared by every list result.
	BookListTag = cache.IDTag(TagBook, cache.ListID)
	// BookSearchTag is declared by every search result.
	BookSearchTag = cache.IDTag(TagBook, cache.SearchID)
	// BorrowRecordTag is declared by the borrow summary.
	BorrowRecordTag = cache.TypeTag(TagBorrowRecord)
)

// collectionTags returns one tag per book plus the collection tag, which an
// empty result declares too.
func collectionTags(books []Book, collection cache.Tag) []cache.Tag {
	tags := make([]cache.Tag, 0, len(books)+1)
	for _, b := range books {
		if b.ID == "" {
			continue
		}
		tags = append(tags, BookTag(b.ID))
	}
	return append(tags, collection)
}
