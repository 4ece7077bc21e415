// Package thumbnail caches generated preview images. Concurrent misses are
// serialized through a single generation gate so identical requests are
// generated once; entries expire after a sliding idle window and the cache
// holds at most a fixed number of entries.
package thumbnail

import (
	"bytes"
	"container/list"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"mediaconv/internal/logging"
	"mediaconv/internal/metrics"
	"mediaconv/internal/services"
)

// ErrClosed is returned by Get after Close.
var ErrClosed = errors.New("thumbnail cache closed")

// Key identifies one thumbnail.
type Key struct {
	Path     string
	Width    int
	Height   int
	Position time.Duration
}

// Generator produces encoded image bytes for a media position.
type Generator interface {
	Generate(ctx context.Context, path string, position time.Duration, width, height int) ([]byte, error)
}

// Options tunes the cache.
type Options struct {
	MaxEntries        int
	SlidingExpiration time.Duration
	Logger            *slog.Logger
	Metrics           *metrics.Metrics
	// Now overrides the clock in tests.
	Now func() time.Time
}

type entry struct {
	key        Key
	data       []byte
	lastAccess time.Time
}

// Cache is a size-bounded LRU of thumbnail bytes with sliding expiration.
type Cache struct {
	generator  Generator
	maxEntries int
	ttl        time.Duration
	now        func() time.Time
	logger     *slog.Logger
	metrics    *metrics.Metrics

	gate      *semaphore.Weighted
	closed    context.Context
	closeFunc context.CancelFunc

	mu      sync.Mutex
	entries map[Key]*list.Element
	order   *list.List
}

// New constructs a cache around generator.
func New(generator Generator, opts Options) *Cache {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = 256
	}
	if opts.SlidingExpiration <= 0 {
		opts.SlidingExpiration = 10 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	closed, closeFunc := context.WithCancel(context.Background())
	return &Cache{
		generator:  generator,
		maxEntries: opts.MaxEntries,
		ttl:        opts.SlidingExpiration,
		now:        opts.Now,
		logger:     logging.NewComponentLogger(opts.Logger, "thumbnails"),
		metrics:    opts.Metrics,
		gate:       semaphore.NewWeighted(1),
		closed:     closed,
		closeFunc:  closeFunc,
		entries:    make(map[Key]*list.Element),
		order:      list.New(),
	}
}

// Get returns a fresh reader over the thumbnail for key, generating it on a
// miss. Only one generation runs at a time; callers waiting on the gate
// re-check the cache before generating. Generation errors are not cached.
func (c *Cache) Get(ctx context.Context, key Key) (*bytes.Reader, error) {
	if c.closed.Err() != nil {
		return nil, ErrClosed
	}
	if data, ok := c.lookup(key); ok {
		c.metrics.ThumbnailLookup(metrics.LookupHit)
		return bytes.NewReader(data), nil
	}
	c.metrics.ThumbnailLookup(metrics.LookupMiss)

	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.closed, cancel)
	defer stop()

	if err := c.gate.Acquire(opCtx, 1); err != nil {
		return nil, c.abortErr(ctx, err)
	}
	defer c.gate.Release(1)

	if data, ok := c.lookup(key); ok {
		c.metrics.ThumbnailLookup(metrics.LookupShared)
		return bytes.NewReader(data), nil
	}
	if c.closed.Err() != nil {
		return nil, ErrClosed
	}

	started := time.Now()
	data, err := c.generator.Generate(opCtx, key.Path, key.Position, key.Width, key.Height)
	c.metrics.ThumbnailGenerated(time.Since(started), err)
	if err != nil {
		if opCtx.Err() != nil {
			return nil, c.abortErr(ctx, err)
		}
		logging.WarnWithContext(c.logger, "thumbnail generation failed", "thumbnail_failed",
			logging.String("path", key.Path),
			logging.Duration("position", key.Position),
			logging.Int("width", key.Width),
			logging.Int("height", key.Height),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, services.FailureHint(err)),
			logging.String(logging.FieldImpact, "no thumbnail returned; the next request retries"),
		)
		return nil, err
	}
	c.store(key, data)
	return bytes.NewReader(data), nil
}

// abortErr maps an interrupted wait or generation to the caller's context
// error or ErrClosed.
func (c *Cache) abortErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if c.closed.Err() != nil {
		return ErrClosed
	}
	return err
}

func (c *Cache) lookup(key Key) ([]byte, bool) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	e := elem.Value.(*entry)
	if now.Sub(e.lastAccess) > c.ttl {
		c.removeLocked(elem)
		return nil, false
	}
	e.lastAccess = now
	c.order.MoveToFront(elem)
	return e.data, true
}

func (c *Cache) store(key Key, data []byte) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Err() != nil {
		return
	}
	if elem, ok := c.entries[key]; ok {
		e := elem.Value.(*entry)
		e.data = data
		e.lastAccess = now
		c.order.MoveToFront(elem)
		return
	}
	c.entries[key] = c.order.PushFront(&entry{key: key, data: data, lastAccess: now})

	// Expired entries go first, then least recently used ones.
	for elem := c.order.Back(); elem != nil; {
		prev := elem.Prev()
		if now.Sub(elem.Value.(*entry).lastAccess) > c.ttl {
			c.removeLocked(elem)
		}
		elem = prev
	}
	for c.order.Len() > c.maxEntries {
		c.removeLocked(c.order.Back())
	}
}

func (c *Cache) removeLocked(elem *list.Element) {
	c.order.Remove(elem)
	delete(c.entries, elem.Value.(*entry).key)
}

// Len reports the number of cached entries, including ones that have
// expired but not yet been evicted.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Close cancels waiters and in-flight generation and drops all entries.
// It is safe to call more than once.
func (c *Cache) Close() {
	c.closeFunc()
	c.mu.Lock()
	c.entries = make(map[Key]*list.Element)
	c.order.Init()
	c.mu.Unlock()
}
