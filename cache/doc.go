// Package cache provides a tag-indexed client data cache for REST-backed views.
//
// # Overview
//
// The package keeps several views of the same remote data consistent after
// writes without manual refetch plumbing. It is made of four parts:
//
//   - Store: identity → entry (status, value, error, fetch time, tags, subscribers)
//   - TagIndex: tag → identities that currently declare it
//   - Client.Query: fetches through the Store with freshness and single-flight
//   - Client.Mutate: runs a write, then invalidates every identity under its tags
//
// # Identities and Tags
//
// An Identity is the endpoint name plus the serialized arguments, built with a
// KeySerializer:
//
//	id := client.Identity("get_book", "42") // get_book::42
//
// A Tag is a (Type, ID) pair. Reads declare tags derived from their result;
// writes declare the tags they invalidate. Tags match by equality only:
//
//	cache.IDTag("Book", "42")
//	cache.IDTag("Book", cache.ListID)
//	cache.TypeTag("BorrowRecord")
//
// # Basic Usage
//
//	client, err := cache.New(cache.DefaultConfig())
//	if err != nil {
//		return err
//	}
//
//	getBook := cache.QueryDef[string, Book]{
//		Name:  "get_book",
//		Fetch: api.GetBook,
//		ProvidesTags: func(id string, _ Book) []cache.Tag {
//			return []cache.Tag{cache.IDTag("Book", id)}
//		},
//	}
//	book, err := cache.Query(ctx, client, getBook, "42")
//
//	deleteBook := cache.MutationDef[string, struct{}]{
//		Name: "delete_book",
//		Do:   api.DeleteBook,
//		InvalidatesTags: func(id string, _ struct{}) []cache.Tag {
//			return []cache.Tag{cache.IDTag("Book", id), cache.IDTag("Book", cache.ListID)}
//		},
//	}
//	_, err = cache.Mutate(ctx, client, deleteBook, "42")
//
// # Subscriptions
//
// Subscribe (or the typed Watch) returns the current snapshot synchronously
// and calls the listener after every later transition. Loading keeps the
// previous value visible (stale-while-revalidate). When a subscribed entry is
// invalidated it is refetched in the background; unsubscribed entries stay
// stale until the next read. Entries without subscribers are evicted after
// Config.RetentionDelay.
//
// # Error Handling
//
// Fetch failures are returned as *FetchError and leave the previous value in
// place. Mutation failures are returned as *MutationError; nothing is
// invalidated and optimistic updates are undone. The cache never retries on
// its own. Broken internal invariants panic when Config.StrictIntegrity is
// set and are logged otherwise.
package cache
