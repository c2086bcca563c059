package oembed

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/golang-lru/v2/simplelru"
	"golang.org/x/sync/singleflight"

	"github.com/starford/marksite/internal/logfields"
	"github.com/starford/marksite/internal/metrics"
)

// ErrDisabled is returned by a cache configured with a zero timeout or size.
var ErrDisabled = errors.New("oembed: disabled")

// Config bounds the cache.
type Config struct {
	Timeout  time.Duration
	MaxBytes int64
}

// Entry is one cached result. Entries are replaced, never modified.
type Entry struct {
	URL       string
	Metadata  *Metadata
	SizeBytes int64
	FetchedAt time.Time
}

// Cache is a byte-bounded LRU in front of a Fetcher. Concurrent misses for
// the same URL share a single fetch, and no lock is held during network I/O.
type Cache struct {
	cfg      Config
	fetcher  Fetcher
	logger   *slog.Logger
	recorder metrics.Recorder

	mu      sync.Mutex
	entries *simplelru.LRU[string, *Entry]
	used    int64

	inflight singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

func WithLogger(l *slog.Logger) Option       { return func(c *Cache) { c.logger = l } }
func WithRecorder(r metrics.Recorder) Option { return func(c *Cache) { c.recorder = r } }

func New(cfg Config, fetcher Fetcher, opts ...Option) *Cache {
	c := &Cache{
		cfg:      cfg,
		fetcher:  fetcher,
		logger:   slog.Default(),
		recorder: metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(c)
	}
	// Capacity is governed by bytes, so the entry count bound is never reached.
	c.entries, _ = simplelru.NewLRU[string, *Entry](math.MaxInt32, c.onEvict)
	return c
}

// Enabled reports whether lookups may reach the network.
func (c *Cache) Enabled() bool {
	return c.cfg.Timeout > 0 && c.cfg.MaxBytes > 0 && c.fetcher != nil
}

// GetOrFetch returns metadata for rawURL, fetching it at most once per
// normalized URL across concurrent callers. A disabled cache returns
// ErrDisabled without touching the network.
func (c *Cache) GetOrFetch(ctx context.Context, rawURL string) (*Metadata, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}
	key := NormalizeURL(rawURL)
	if e, ok := c.get(key); ok {
		c.recorder.IncOembed(metrics.ResultHit)
		return e.Metadata, nil
	}

	v, err, _ := c.inflight.Do(key, func() (any, error) {
		if e, ok := c.peek(key); ok {
			return e.Metadata, nil
		}
		c.recorder.IncOembed(metrics.ResultMiss)
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.Timeout)
		defer cancel()

		md, err := c.fetcher.Fetch(fctx, key)
		if err != nil {
			c.recorder.IncOembed(metrics.ResultError)
			c.logger.Debug("oembed: fetch failed", logfields.URL(key), logfields.Error(err))
			return nil, err
		}
		c.insert(key, md)
		return md, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Metadata), nil
}

func (c *Cache) get(key string) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Get(key)
}

func (c *Cache) peek(key string) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Peek(key)
}

func (c *Cache) insert(key string, md *Metadata) {
	size := md.Size() + int64(len(key))
	if size > c.cfg.MaxBytes {
		c.logger.Debug("oembed: entry exceeds cache budget, not cached",
			logfields.URL(key), slog.String("size", humanize.IBytes(uint64(size))))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Remove(key)
	for c.used+size > c.cfg.MaxBytes {
		if _, _, ok := c.entries.RemoveOldest(); !ok {
			break
		}
	}
	c.entries.Add(key, &Entry{URL: key, Metadata: md, SizeBytes: size, FetchedAt: time.Now()})
	c.used += size
	c.recorder.SetOembedBytes(c.used)
}

// onEvict runs under c.mu from Remove, RemoveOldest and Add.
func (c *Cache) onEvict(_ string, e *Entry) {
	c.used -= e.SizeBytes
	c.recorder.IncOembed(metrics.ResultEvicted)
}

// Stats reports the number of entries and bytes held.
func (c *Cache) Stats() (entries int, bytes int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len(), c.used
}
