package snapshot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// buildSource abstracts the Builder for the cache.
type buildSource interface {
	Build(ctx context.Context, now time.Time) Snapshot
}

// Cache holds the most recent Snapshot and serves it while fresh. When the
// snapshot has aged past the refresh interval, exactly one caller rebuilds
// it; concurrent callers share that build's result instead of triggering
// their own. A failed build also advances the build time, so retries
// against a failing telemetry source are bounded to once per interval.
type Cache struct {
	builder  buildSource
	interval time.Duration
	logger   *slog.Logger
	clock    func() time.Time

	group singleflight.Group

	mu        sync.RWMutex
	current   Snapshot
	lastBuild time.Time
}

// NewCache constructs a Cache around the given builder.
func NewCache(builder buildSource, interval time.Duration, logger *slog.Logger) (*Cache, error) {
	if builder == nil {
		return nil, fmt.Errorf("builder must not be nil")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("refresh interval must be > 0")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Cache{
		builder:  builder,
		interval: interval,
		logger:   logger.With("component", "snapshot_cache"),
		clock:    time.Now,
	}, nil
}

// Current returns the cached Snapshot, rebuilding it first when stale. All
// callers observing the same staleness window receive the same Snapshot.
func (c *Cache) Current(ctx context.Context) Snapshot {
	if snap, ok := c.fresh(); ok {
		return snap
	}

	value, _, _ := c.group.Do("snapshot", func() (any, error) {
		// A caller that raced a just-finished build re-reads instead of
		// rebuilding inside the same window.
		if snap, ok := c.fresh(); ok {
			return snap, nil
		}

		now := c.clock()
		// The build is shared by every caller in this window; it must not
		// die with whichever request happened to trigger it. The telemetry
		// source bounds the detached build with its own timeout.
		snap := c.builder.Build(context.WithoutCancel(ctx), now)

		c.mu.Lock()
		c.current = snap
		c.lastBuild = now
		c.mu.Unlock()

		if snap.IsError() {
			c.logger.Warn("snapshot rebuild failed", "err", snap.Err)
		}
		return snap, nil
	})

	return value.(Snapshot)
}

// Ready reports whether at least one build has completed.
func (c *Cache) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.lastBuild.IsZero()
}

// Interval returns the configured staleness window.
func (c *Cache) Interval() time.Duration {
	return c.interval
}

func (c *Cache) fresh() (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lastBuild.IsZero() {
		return Snapshot{}, false
	}
	if c.clock().Sub(c.lastBuild) < c.interval {
		return c.current, true
	}
	return Snapshot{}, false
}
