package testsupport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/cockroachdb/errors"

	"github.com/goliatone/go-query-cache/catalog"
)

// CatalogHandler serves the catalog REST API under /api from transport,
// wrapping every response in the {success, message, data} envelope.
func CatalogHandler(transport catalog.Transport) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/books", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit, _ := strconv.Atoi(q.Get("limit"))
		books, err := transport.ListBooks(r.Context(), catalog.ListParams{
			Filter: q.Get("filter"),
			Sort:   q.Get("sort"),
			Limit:  limit,
		})
		reply(w, http.StatusOK, "Books retrieved successfully", books, err)
	})

	mux.HandleFunc("GET /api/books/search", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		params := catalog.SearchParams{Query: q.Get("q"), Filters: map[string]string{}}
		for key := range q {
			if key != "q" {
				params.Filters[key] = q.Get(key)
			}
		}
		books, err := transport.SearchBooks(r.Context(), params)
		reply(w, http.StatusOK, "Books retrieved successfully", books, err)
	})

	mux.HandleFunc("GET /api/books/{id}", func(w http.ResponseWriter, r *http.Request) {
		book, err := transport.GetBook(r.Context(), r.PathValue("id"))
		reply(w, http.StatusOK, "Book retrieved successfully", book, err)
	})

	mux.HandleFunc("POST /api/books", func(w http.ResponseWriter, r *http.Request) {
		var in catalog.BookInput
		if !readBody(w, r, &in) {
			return
		}
		book, err := transport.CreateBook(r.Context(), in)
		reply(w, http.StatusCreated, "Book created successfully", book, err)
	})

	mux.HandleFunc("PUT /api/books/{id}", func(w http.ResponseWriter, r *http.Request) {
		var in catalog.BookInput
		if !readBody(w, r, &in) {
			return
		}
		book, err := transport.UpdateBook(r.Context(), r.PathValue("id"), in)
		reply(w, http.StatusOK, "Book updated successfully", book, err)
	})

	mux.HandleFunc("DELETE /api/books/{id}", func(w http.ResponseWriter, r *http.Request) {
		err := transport.DeleteBook(r.Context(), r.PathValue("id"))
		reply(w, http.StatusOK, "Book deleted successfully", nil, err)
	})

	mux.HandleFunc("POST /api/books/{id}/return", func(w http.ResponseWriter, r *http.Request) {
		var req catalog.ReturnRequest
		if !readBody(w, r, &req) {
			return
		}
		req.BookID = r.PathValue("id")
		err := transport.Return(r.Context(), req)
		reply(w, http.StatusOK, "Book returned successfully", nil, err)
	})

	mux.HandleFunc("POST /api/borrow", func(w http.ResponseWriter, r *http.Request) {
		var req catalog.BorrowRequest
		if !readBody(w, r, &req) {
			return
		}
		rec, err := transport.Borrow(r.Context(), req)
		reply(w, http.StatusCreated, "Book borrowed successfully", rec, err)
	})

	mux.HandleFunc("GET /api/borrow", func(w http.ResponseWriter, r *http.Request) {
		items, err := transport.BorrowSummary(r.Context())
		reply(w, http.StatusOK, "Borrowed books summary retrieved successfully", items, err)
	})

	return mux
}

// NewCatalogServer starts an httptest server running CatalogHandler. The
// catalog base URL is server.URL + "/api".
func NewCatalogServer(t testing.TB, transport catalog.Transport) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(CatalogHandler(transport))
	t.Cleanup(srv.Close)
	return srv
}

func readBody(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		writeEnvelope(w, http.StatusBadRequest, false, "invalid request body: "+err.Error(), nil)
		return false
	}
	return true
}

func reply(w http.ResponseWriter, status int, message string, data any, err error) {
	switch {
	case err == nil:
		writeEnvelope(w, status, true, message, data)
	case errors.Is(err, ErrNotFound):
		writeEnvelope(w, http.StatusNotFound, false, err.Error(), nil)
	case errors.Is(err, ErrNotEnoughCopies):
		writeEnvelope(w, http.StatusBadRequest, false, err.Error(), nil)
	default:
		writeEnvelope(w, http.StatusInternalServerError, false, err.Error(), nil)
	}
}

func writeEnvelope(w http.ResponseWriter, status int, success bool, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
		Data    any    `json:"data,omitempty"`
	}{success, message, data})
}
