// Package scheduler runs the background prune sweeper. Records prune their
// own buckets when they are written, so the sweeper only exists for records
// nobody searches anymore.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/shirkeanjali/medgenix/pkg/metrics"
	"github.com/shirkeanjali/medgenix/pkg/redis"
	"github.com/shirkeanjali/medgenix/pkg/tracing"
)

var (
	// ErrPrunerAlreadyRunning is returned when trying to start a running pruner
	ErrPrunerAlreadyRunning = errors.New("pruner already running")
)

const (
	// DefaultPollInterval is the default interval between prune sweeps
	DefaultPollInterval = 12 * time.Hour

	// DefaultLockTTL is how long one instance holds the sweep lock
	DefaultLockTTL = 5 * time.Minute

	// lockKey is shared by all instances so only one sweeps at a time
	lockKey = "stats:prune-sweep"
)

// PruneStore deletes out-of-window stat buckets
type PruneStore interface {
	PruneExpired(ctx context.Context, now time.Time) (monthly int64, yearly int64, err error)
}

// Config holds configuration for the pruner
type Config struct {
	PollInterval time.Duration
	LockTTL      time.Duration
}

// Pruner periodically removes expired monthly and yearly buckets
type Pruner struct {
	store  PruneStore
	locker *redis.Locker
	config Config
	logger ectologger.Logger

	stopCh   chan struct{}
	stoppedC chan struct{}
	running  bool
	mu       sync.RWMutex
}

// NewPruner creates a new pruner. The locker may be nil when the service runs
// as a single instance.
func NewPruner(store PruneStore, locker *redis.Locker, config Config, logger ectologger.Logger) *Pruner {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.LockTTL <= 0 {
		config.LockTTL = DefaultLockTTL
	}

	return &Pruner{
		store:    store,
		locker:   locker,
		config:   config,
		logger:   logger,
		stopCh:   make(chan struct{}),
		stoppedC: make(chan struct{}),
	}
}

// Start starts the pruner
func (p *Pruner) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return ErrPrunerAlreadyRunning
	}
	p.running = true
	p.mu.Unlock()

	p.logger.WithContext(ctx).Infof("Starting prune sweeper: poll_interval=%s", p.config.PollInterval)

	go p.pollLoop(ctx)

	return nil
}

// Stop stops the pruner gracefully
func (p *Pruner) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	close(p.stopCh)

	select {
	case <-p.stoppedC:
		p.logger.WithContext(ctx).Info("Prune sweeper stopped gracefully")
	case <-ctx.Done():
		p.logger.WithContext(ctx).Warn("Prune sweeper shutdown timed out")
		return ctx.Err()
	}

	return nil
}

// IsRunning returns whether the pruner is running
func (p *Pruner) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

func (p *Pruner) pollLoop(ctx context.Context) {
	defer close(p.stoppedC)

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	// Run immediately on start
	p.runSweep(ctx)

	for {
		select {
		case <-p.stopCh:
			p.logger.WithContext(ctx).Debug("Prune sweeper poll loop stopping")
			return
		case <-ticker.C:
			p.runSweep(ctx)
		}
	}
}

func (p *Pruner) runSweep(ctx context.Context) {
	ctx, span := tracing.StartSpan(ctx, "Pruner.runSweep")
	defer span.End()

	if p.locker != nil {
		lock, err := p.locker.Acquire(ctx, lockKey, p.config.LockTTL)
		if err != nil {
			if errors.Is(err, redis.ErrLockNotAcquired) {
				p.logger.WithContext(ctx).Debug("Prune sweep skipped, another instance holds the lock")
				return
			}
			p.logger.WithContext(ctx).WithError(err).Warn("Failed to acquire prune sweep lock")
			return
		}
		defer lock.Release(ctx)
	}

	start := time.Now()
	monthly, yearly, err := p.store.PruneExpired(ctx, start.UTC())
	if err != nil {
		p.logger.WithContext(ctx).WithError(err).Error("Prune sweep failed")
		return
	}

	metrics.PruneSweeps.Inc()
	metrics.PrunedBuckets.WithLabelValues("monthly").Add(float64(monthly))
	metrics.PrunedBuckets.WithLabelValues("yearly").Add(float64(yearly))

	p.logger.WithContext(ctx).Infof("Prune sweep completed: monthly=%d yearly=%d duration=%s",
		monthly, yearly, time.Since(start))
}
