// Package rest implements catalog.Transport over the catalog REST API.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/goliatone/go-query-cache/catalog"
	"github.com/goliatone/go-query-cache/internal/cacheinfra"
)

const defaultTimeout = 30 * time.Second

// ErrUnsuccessful is returned when a 2xx response carries success=false.
var ErrUnsuccessful = errors.New("rest: unsuccessful response")

// HTTPError is returned for non-2xx responses.
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 HTTPError.
func IsNotFound(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound
}

// envelope is the {success, message, data} wrapper of every response.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Client talks to the catalog server.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	timeout    time.Duration
	logger     *slog.Logger
	responses  *cacheinfra.ResponseCache
}

var _ catalog.Transport = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the request timeout. It is applied to a copy of the
// http.Client, so a client passed to WithHTTPClient is left untouched.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithResponseCache reuses GET response bodies until a write touches the
// same resource.
func WithResponseCache(rc *cacheinfra.ResponseCache) Option {
	return func(c *Client) {
		c.responses = rc
	}
}

// New builds a Client for the API rooted at baseURL, e.g. http://localhost:8000/api.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrapf(err, "parse base url %q", baseURL)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.Newf("base url %q must be absolute", baseURL)
	}

	c := &Client{
		baseURL:    u,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout > 0 {
		hc := *c.httpClient
		hc.Timeout = c.timeout
		c.httpClient = &hc
	}
	return c, nil
}

func (c *Client) ListBooks(ctx context.Context, params catalog.ListParams) ([]catalog.Book, error) {
	q := url.Values{}
	if params.Filter != "" {
		q.Set("filter", params.Filter)
	}
	if params.Sort != "" {
		q.Set("sort", params.Sort)
	}
	if params.Limit > 0 {
		q.Set("limit", strconv.Itoa(params.Limit))
	}
	var books []catalog.Book
	err := c.get(ctx, c.endpoint(q, "books"), &books)
	return books, err
}

func (c *Client) GetBook(ctx context.Context, id string) (catalog.Book, error) {
	var book catalog.Book
	err := c.get(ctx, c.endpoint(nil, "books", id), &book)
	return book, err
}

func (c *Client) SearchBooks(ctx context.Context, params catalog.SearchParams) ([]catalog.Book, error) {
	q := url.Values{}
	for k, v := range params.Filters {
		if k == "q" {
			continue
		}
		q.Set(k, v)
	}
	q.Set("q", params.Query)
	var books []catalog.Book
	err := c.get(ctx, c.endpoint(q, "books", "search"), &books)
	return books, err
}

func (c *Client) CreateBook(ctx context.Context, in catalog.BookInput) (catalog.Book, error) {
	var book catalog.Book
	err := c.write(ctx, http.MethodPost, c.endpoint(nil, "books"), in, &book, "books")
	return book, err
}

func (c *Client) UpdateBook(ctx context.Context, id string, in catalog.BookInput) (catalog.Book, error) {
	var book catalog.Book
	err := c.write(ctx, http.MethodPut, c.endpoint(nil, "books", id), in, &book, "books")
	return book, err
}

func (c *Client) DeleteBook(ctx context.Context, id string) error {
	return c.write(ctx, http.MethodDelete, c.endpoint(nil, "books", id), nil, nil, "books")
}

func (c *Client) Borrow(ctx context.Context, req catalog.BorrowRequest) (catalog.BorrowRecord, error) {
	var rec catalog.BorrowRecord
	err := c.write(ctx, http.MethodPost, c.endpoint(nil, "borrow"), req, &rec, "books", "borrow")
	return rec, err
}

func (c *Client) Return(ctx context.Context, req catalog.ReturnRequest) error {
	return c.write(ctx, http.MethodPost, c.endpoint(nil, "books", req.BookID, "return"), req, nil, "books", "borrow")
}

func (c *Client) BorrowSummary(ctx context.Context) ([]catalog.BorrowedBookItem, error) {
	var items []catalog.BorrowedBookItem
	err := c.get(ctx, c.endpoint(nil, "borrow"), &items)
	return items, err
}

func (c *Client) endpoint(q url.Values, segments ...string) *url.URL {
	u := c.baseURL.JoinPath(segments...)
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}
	return u
}

func (c *Client) get(ctx context.Context, u *url.URL, out any) error {
	// unsuccessful envelopes fail the fetch so the response cache skips them
	fetch := func(ctx context.Context) ([]byte, error) {
		body, err := c.send(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		if _, err := unwrap(http.MethodGet, u, body); err != nil {
			return nil, err
		}
		return body, nil
	}

	var (
		body []byte
		err  error
	)
	if c.responses != nil {
		body, err = c.responses.GetOrFetch(ctx, responseKey(u), fetch)
	} else {
		body, err = fetch(ctx)
	}
	if err != nil {
		return err
	}
	return decode(http.MethodGet, u, body, out)
}

// write sends a mutating request and drops cached responses under the
// resources it touches.
func (c *Client) write(ctx context.Context, method string, u *url.URL, in, out any, touches ...string) error {
	var payload []byte
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return errors.Wrapf(err, "encode %s %s", method, u.Path)
		}
		payload = data
	}

	body, err := c.send(ctx, method, u, payload)
	if err != nil {
		return err
	}

	if c.responses != nil {
		prefixes := make([]string, len(touches))
		for i, resource := range touches {
			prefixes[i] = responseKey(c.baseURL.JoinPath(resource))
		}
		purged := c.responses.DeleteByPrefix(prefixes...)
		c.logger.Debug("rest response cache purged", "method", method, "path", u.Path, "entries", purged)
	}

	return decode(method, u, body, out)
}

func (c *Client) send(ctx context.Context, method string, u *url.URL, payload []byte) ([]byte, error) {
	var reader io.Reader = http.NoBody
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, errors.Wrapf(err, "build %s %s", method, u.Path)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, u.Path)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s %s", method, u.Path)
	}

	c.logger.Debug("rest request",
		"method", method,
		"path", u.Path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		httpErr := &HTTPError{Method: method, Path: u.Path, StatusCode: resp.StatusCode}
		var env envelope
		if json.Unmarshal(body, &env) == nil {
			httpErr.Message = env.Message
		}
		return nil, httpErr
	}
	return body, nil
}

// unwrap checks the envelope and returns its data. An empty body, as sent
// with 204, yields no data.
func unwrap(method string, u *url.URL, body []byte) (json.RawMessage, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, errors.Wrapf(err, "decode %s %s", method, u.Path)
	}
	if !env.Success {
		return nil, errors.Wrapf(ErrUnsuccessful, "%s %s: %s", method, u.Path, env.Message)
	}
	return env.Data, nil
}

// decode unwraps the envelope into out.
func decode(method string, u *url.URL, body []byte, out any) error {
	data, err := unwrap(method, u, body)
	if err != nil {
		return err
	}
	if out == nil || len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrapf(err, "decode %s %s data", method, u.Path)
	}
	return nil
}

func responseKey(u *url.URL) string {
	return http.MethodGet + " " + u.String()
}
