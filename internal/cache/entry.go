// Package cache stores response snapshots in named generations. A
// generation is the unit of invalidation: entries never expire on their own,
// the whole generation is evicted at once.
package cache

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// SourceHeader is set on every response served from the cache, naming the
// generation it came from.
const SourceHeader = "X-Offline-Cache"

// ErrNotCacheable is returned when asked to store a non-2xx, partial or
// ranged response.
var ErrNotCacheable = errors.New("response is not cacheable")

// ErrTooLarge is returned when a response body exceeds the entry size limit.
// It matches ErrNotCacheable.
var ErrTooLarge = fmt.Errorf("%w: body exceeds size limit", ErrNotCacheable)

// Entry is a stored response snapshot.
type Entry struct {
	Key        string      `json:"key"`
	Status     int         `json:"status"`
	Header     http.Header `json:"header"`
	Body       []byte      `json:"body"`
	StoredAt   time.Time   `json:"stored_at"`
	Generation string      `json:"-"`
}

// KeyFor returns the request identity: method and absolute URL. Matching is
// exact; there is no prefix or Vary handling.
func KeyFor(req *http.Request) string {
	return Key(req.Method, absoluteURL(req))
}

// Key builds a request identity from its parts.
func Key(method, url string) string {
	if method == "" {
		method = http.MethodGet
	}
	return method + " " + url
}

func absoluteURL(req *http.Request) string {
	u := *req.URL
	if u.Host == "" {
		u.Host = req.Host
	}
	if u.Scheme == "" {
		u.Scheme = "http"
		if req.TLS != nil {
			u.Scheme = "https"
		}
	}
	u.Fragment = ""
	return u.String()
}

// Cacheable reports whether a response status may be stored. Partial
// content is never stored.
func Cacheable(status int) bool {
	return status >= 200 && status <= 299 && status != http.StatusPartialContent
}

// Snapshot reads resp's body into an Entry and replaces resp.Body so the
// caller can still return resp. Ranged requests and non-cacheable statuses
// are left untouched and return ErrNotCacheable. With maxBytes > 0, a body
// larger than maxBytes returns ErrTooLarge and resp.Body still yields the
// whole body. A read error is replayed to the caller after the bytes read.
func Snapshot(req *http.Request, resp *http.Response, maxBytes int64) (*Entry, error) {
	if req.Header.Get("Range") != "" || !Cacheable(resp.StatusCode) {
		return nil, ErrNotCacheable
	}
	if maxBytes > 0 && resp.ContentLength > maxBytes {
		return nil, ErrTooLarge
	}

	var src io.Reader = resp.Body
	if maxBytes > 0 {
		src = io.LimitReader(resp.Body, maxBytes+1)
	}
	body, err := io.ReadAll(src)
	if err != nil {
		resp.Body = readCloser{io.MultiReader(bytes.NewReader(body), errReader{err}), resp.Body}
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if maxBytes > 0 && int64(len(body)) > maxBytes {
		resp.Body = readCloser{io.MultiReader(bytes.NewReader(body), resp.Body), resp.Body}
		return nil, ErrTooLarge
	}
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))

	return &Entry{
		Key:    KeyFor(req),
		Status: resp.StatusCode,
		Header: resp.Header.Clone(),
		Body:   body,
	}, nil
}

type readCloser struct {
	io.Reader
	io.Closer
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

// Response builds a fresh *http.Response for req from the entry.
func (e *Entry) Response(req *http.Request) *http.Response {
	header := e.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	header.Set(SourceHeader, e.Generation)
	header.Set("Content-Length", strconv.Itoa(len(e.Body)))

	return &http.Response{
		Status:        fmt.Sprintf("%d %s", e.Status, http.StatusText(e.Status)),
		StatusCode:    e.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
		Request:       req,
	}
}
