// Package audiocache keeps downloaded audio files on local disk.
//
// The table is owned by a single goroutine and mutated only through messages
// sent to it, so there is never more than one AudioFile per video id. Entries
// are evicted least-recently-used once Capacity is exceeded and after TTL of
// inactivity. Evicted entries stay usable by requests that still hold them;
// their files are deleted when the last holder releases.
package audiocache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"go.uber.org/zap"
)

const (
	DefaultCapacity = 30
	DefaultTTL      = 10 * time.Minute

	sweepInterval = time.Minute
)

// ErrClosed is returned by operations on a closed cache.
var ErrClosed = errors.New("audiocache: cache closed")

// Config configures a Cache.
type Config struct {
	// Dir is the cache directory. It is wiped on New.
	Dir string

	// Capacity is the maximum number of resident entries.
	Capacity int

	// TTL evicts entries not accessed for this long.
	TTL time.Duration

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

type entry struct {
	file       *AudioFile
	lastAccess time.Time
}

// Cache is the audio file table.
type Cache struct {
	dir    string
	ttl    time.Duration
	now    func() time.Time
	logger *zap.SugaredLogger

	// owned by run
	files *simplelru.LRU[string, *entry]

	reqs      chan func()
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New wipes cfg.Dir, recreates it and starts the cache goroutine.
func New(cfg Config, logger *zap.SugaredLogger) (*Cache, error) {
	if cfg.Dir == "" {
		return nil, errors.New("audiocache: directory is required")
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	if err := os.RemoveAll(cfg.Dir); err != nil {
		return nil, fmt.Errorf("audiocache: wipe %s: %w", cfg.Dir, err)
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("audiocache: create %s: %w", cfg.Dir, err)
	}

	c := &Cache{
		dir:    cfg.Dir,
		ttl:    cfg.TTL,
		now:    cfg.Now,
		logger: logger,
		reqs:   make(chan func()),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	files, err := simplelru.NewLRU[string, *entry](cfg.Capacity, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("audiocache: %w", err)
	}
	c.files = files

	go c.run()
	return c, nil
}

// Dir returns the cache directory.
func (c *Cache) Dir() string { return c.dir }

func (c *Cache) run() {
	defer close(c.done)

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case fn := <-c.reqs:
			c.expire()
			fn()
		case <-ticker.C:
			c.expire()
		case <-c.quit:
			c.files.Purge()
			return
		}
	}
}

func (c *Cache) onEvict(id string, e *entry) {
	c.logger.Debugw("evicting cached audio", "videoID", id, "state", e.file.State().String())
	e.file.Release()
}

// expire drops idle entries from the tail of the LRU list.
func (c *Cache) expire() {
	cutoff := c.now().Add(-c.ttl)
	for {
		_, e, ok := c.files.GetOldest()
		if !ok || e.lastAccess.After(cutoff) {
			return
		}
		c.files.RemoveOldest()
	}
}

// do runs fn on the cache goroutine and waits for it.
func (c *Cache) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	msg := func() {
		fn()
		close(finished)
	}

	select {
	case c.reqs <- msg:
	case <-c.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	<-finished
	return nil
}

// GetOrAllocate returns the entry for id, creating a New one on a miss.
// The returned AudioFile carries a reference the caller must Release.
func (c *Cache) GetOrAllocate(ctx context.Context, id string) (*AudioFile, error) {
	var f *AudioFile
	err := c.do(ctx, func() {
		now := c.now()
		if e, ok := c.files.Get(id); ok {
			e.lastAccess = now
			e.file.acquire()
			f = e.file
			return
		}

		f = newAudioFile(c.dir, id, c.logger)
		f.acquire()
		c.files.Add(id, &entry{file: f, lastAccess: now})
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Remove evicts the entry for id if present. Holders keep their handles and
// the next GetOrAllocate creates a fresh entry.
func (c *Cache) Remove(ctx context.Context, id string) error {
	return c.do(ctx, func() {
		c.files.Remove(id)
	})
}

// Evict removes f if it is still the resident entry for its id. Unlike
// Remove it leaves a newer entry for the same id alone.
func (c *Cache) Evict(ctx context.Context, f *AudioFile) error {
	return c.do(ctx, func() {
		if e, ok := c.files.Peek(f.id); ok && e.file == f {
			c.files.Remove(f.id)
		}
	})
}

// Len returns the number of resident entries.
func (c *Cache) Len(ctx context.Context) (int, error) {
	var n int
	err := c.do(ctx, func() {
		n = c.files.Len()
	})
	return n, err
}

// Close stops the cache goroutine and drops the cache's references.
func (c *Cache) Close() {
	c.closeOnce.Do(func() { close(c.quit) })
	<-c.done
}
