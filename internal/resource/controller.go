package resource

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrCacheBudgetExceeded is returned when a cache reservation does not fit.
var ErrCacheBudgetExceeded = errors.New("resource: cache budget exceeded")

// Config holds the limits of one index instance. Zero values mean
// unlimited, except MaintenanceJobs which defaults to 1.
type Config struct {
	// CacheBytes caps the bytes held by the bitmap cache.
	CacheBytes int64
	// MaintenanceJobs caps concurrent reconcile, backup and restore runs.
	MaintenanceJobs int64
	// TransferBytesPerSec throttles backup archive streams.
	TransferBytesPerSec int64
}

// Usage is a snapshot of the controller's counters.
type Usage struct {
	CacheBytes      int64
	CacheLimit      int64
	MaintenanceJobs int64
	MaintenanceMax  int64
}

// Controller enforces the limits of a Config.
type Controller struct {
	cfg Config

	cacheUsed atomic.Int64

	jobs    *semaphore.Weighted
	running atomic.Int64

	transfer *rate.Limiter
}

// NewController returns a controller for cfg.
func NewController(cfg Config) *Controller {
	if cfg.MaintenanceJobs <= 0 {
		cfg.MaintenanceJobs = 1
	}
	c := &Controller{
		cfg:  cfg,
		jobs: semaphore.NewWeighted(cfg.MaintenanceJobs),
	}
	if cfg.TransferBytesPerSec > 0 {
		c.transfer = rate.NewLimiter(rate.Limit(cfg.TransferBytesPerSec), int(cfg.TransferBytesPerSec))
	}
	return c
}

// ReserveCache accounts n cached bytes and reports whether they fit the
// budget. A rejected reservation changes nothing.
func (c *Controller) ReserveCache(n int64) bool {
	if c == nil || n <= 0 {
		return true
	}
	for {
		used := c.cacheUsed.Load()
		if c.cfg.CacheBytes > 0 && used+n > c.cfg.CacheBytes {
			return false
		}
		if c.cacheUsed.CompareAndSwap(used, used+n) {
			return true
		}
	}
}

// MustReserveCache is ReserveCache returning ErrCacheBudgetExceeded.
func (c *Controller) MustReserveCache(n int64) error {
	if !c.ReserveCache(n) {
		return ErrCacheBudgetExceeded
	}
	return nil
}

// ReleaseCache returns n bytes to the cache budget.
func (c *Controller) ReleaseCache(n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.cacheUsed.Add(-n)
}

// BeginMaintenance waits for a free maintenance slot. The returned func
// frees it and must be called exactly once.
func (c *Controller) BeginMaintenance(ctx context.Context) (end func(), err error) {
	if c == nil {
		return func() {}, nil
	}
	if err := c.jobs.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	c.running.Add(1)
	var done atomic.Bool
	return func() {
		if done.CompareAndSwap(false, true) {
			c.running.Add(-1)
			c.jobs.Release(1)
		}
	}, nil
}

// WaitTransfer blocks until n bytes may be streamed. Requests larger than
// one second of budget are paid in slices.
func (c *Controller) WaitTransfer(ctx context.Context, n int) error {
	if c == nil || c.transfer == nil || n <= 0 {
		return nil
	}
	burst := c.transfer.Burst()
	for n > burst {
		if err := c.transfer.WaitN(ctx, burst); err != nil {
			return err
		}
		n -= burst
	}
	return c.transfer.WaitN(ctx, n)
}

// Usage returns the current counters and limits.
func (c *Controller) Usage() Usage {
	if c == nil {
		return Usage{}
	}
	return Usage{
		CacheBytes:      c.cacheUsed.Load(),
		CacheLimit:      c.cfg.CacheBytes,
		MaintenanceJobs: c.running.Load(),
		MaintenanceMax:  c.cfg.MaintenanceJobs,
	}
}
