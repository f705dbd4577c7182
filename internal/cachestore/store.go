// Package cachestore holds named buckets of HTTP response snapshots keyed by
// request identity. It plays the part of the browser's Cache Storage for the
// offline cache manager.
package cachestore

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ajspantry/pantry-offline/internal/errors"
)

var (
	// ErrNotFound is returned by Bucket.Match when no entry exists for a key.
	ErrNotFound = errors.NewStd("cache entry not found")
	// ErrNotCacheable is returned by Bucket.Put for keys that may not be stored.
	ErrNotCacheable = errors.NewStd("only GET requests can be cached")
)

// RequestKey identifies a cached request: method plus absolute URL without
// fragment.
type RequestKey struct {
	Method string
	URL    string
}

// String renders the key as "GET https://host/path".
func (k RequestKey) String() string {
	return k.Method + " " + k.URL
}

// Cacheable reports whether the key may be written to a bucket.
func (k RequestKey) Cacheable() bool {
	return k.Method == http.MethodGet
}

// KeyFor derives the key for an outgoing request.
func KeyFor(req *http.Request) RequestKey {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	return RequestKey{Method: method, URL: normalizeURL(req.URL)}
}

// KeyForURL derives a GET key for a URL string.
func KeyForURL(raw string) (RequestKey, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return RequestKey{}, err
	}
	return RequestKey{Method: http.MethodGet, URL: normalizeURL(u)}, nil
}

func normalizeURL(u *url.URL) string {
	c := *u
	c.Fragment = ""
	c.RawFragment = ""
	if c.Path == "" {
		c.Path = "/"
	}
	return c.String()
}

// Snapshot is a stored response: status, headers and the complete body.
type Snapshot struct {
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// Size is the body length in bytes.
func (s *Snapshot) Size() int64 {
	return int64(len(s.Body))
}

// Response materializes a fresh *http.Response from the snapshot. Every call
// returns an independent body reader.
func (s *Snapshot) Response(req *http.Request) *http.Response {
	header := s.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	header.Del("Set-Cookie")
	header.Set("Content-Length", strconv.Itoa(len(s.Body)))
	return &http.Response{
		Status:        strconv.Itoa(s.Status) + " " + http.StatusText(s.Status),
		StatusCode:    s.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(s.Body)),
		ContentLength: int64(len(s.Body)),
		Request:       req,
	}
}

// Clone returns a deep copy.
func (s *Snapshot) Clone() *Snapshot {
	return &Snapshot{
		Status:   s.Status,
		Header:   s.Header.Clone(),
		Body:     bytes.Clone(s.Body),
		StoredAt: s.StoredAt,
	}
}

// Duplicate reads resp's body once and returns two independent readers over
// it: resp itself is rewound for the caller and the returned snapshot owns a
// separate copy for storage. resp.Body is replaced; the original body is
// closed. The snapshot drops Set-Cookie, since stored responses are replayed
// to every client.
func Duplicate(resp *http.Response) (*Snapshot, error) {
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	header := resp.Header.Clone()
	if header != nil {
		header.Del("Set-Cookie")
	}
	return &Snapshot{
		Status:   resp.StatusCode,
		Header:   header,
		Body:     bytes.Clone(body),
		StoredAt: time.Now(),
	}, nil
}

// Bucket is a single named cache.
type Bucket interface {
	Name() string
	// Match returns the snapshot stored for key, or ErrNotFound.
	Match(ctx context.Context, key RequestKey) (*Snapshot, error)
	// Put stores snap under key, replacing any existing entry.
	Put(ctx context.Context, key RequestKey, snap *Snapshot) error
	// Delete removes the entry for key, reporting whether one existed.
	Delete(ctx context.Context, key RequestKey) (bool, error)
	// Keys lists stored keys sorted by URL.
	Keys(ctx context.Context) ([]RequestKey, error)
}

// Storage manages the set of named buckets.
type Storage interface {
	// Open returns the named bucket, creating it if needed.
	Open(ctx context.Context, name string) (Bucket, error)
	Has(ctx context.Context, name string) (bool, error)
	// Keys lists bucket names in sorted order.
	Keys(ctx context.Context) ([]string, error)
	// Delete removes a bucket and all of its entries.
	Delete(ctx context.Context, name string) (bool, error)
}

// Stats summarizes a bucket.
type Stats struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
	Bytes   int64  `json:"bytes"`
}

// Summarize counts entries and body bytes in a bucket.
func Summarize(ctx context.Context, b Bucket) (Stats, error) {
	keys, err := b.Keys(ctx)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{Name: b.Name(), Entries: len(keys)}
	for _, k := range keys {
		snap, err := b.Match(ctx, k)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return Stats{}, err
		}
		stats.Bytes += snap.Size()
	}
	return stats, nil
}

func notCacheable(key RequestKey) error {
	return errors.New(ErrNotCacheable).
		Component("cachestore").
		Category(errors.CategoryValidation).
		Context("key", key.String()).
		Build()
}
