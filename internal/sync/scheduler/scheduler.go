// Package scheduler drives the sync engine in the background: periodic
// full sweeps while online and retry-queue drains on a shorter cadence.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/plexa-app/plexa/internal/logging"
	"github.com/plexa-app/plexa/internal/models"
	"github.com/plexa-app/plexa/internal/sync/queue"
)

// Engine is the slice of the sync engine the scheduler drives.
// Coalescing of overlapping sweeps happens inside the engine.
type Engine interface {
	RetryPush(ctx context.Context, id models.UUID) error
}

// Trigger is the engine entry point for a full sweep.
type Trigger func(ctx context.Context) error

// Scheduler runs the sync cadence. Periodic sweeps only fire while the
// app believes it is online; retry drains fire regardless, since they
// are the path that notices connectivity coming back.
type Scheduler struct {
	trigger       Trigger
	engine        Engine
	queue         *queue.RetryQueue
	syncInterval  time.Duration
	queueInterval time.Duration
	syncTimeout   time.Duration

	mu           sync.RWMutex
	running      bool
	online       bool
	lastSyncTime time.Time
	stopCh       chan struct{}
	wg           sync.WaitGroup

	// onOffline is invoked when a sweep reports total network failure,
	// so the app can tear down presence sessions and flip the UI.
	onOffline func()
}

// Config holds the scheduler cadence.
type Config struct {
	SyncInterval  time.Duration
	QueueInterval time.Duration
	SyncTimeout   time.Duration
}

// DefaultConfig returns the standard cadence.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:  15 * time.Minute,
		QueueInterval: 1 * time.Minute,
		SyncTimeout:   5 * time.Minute,
	}
}

// New creates a scheduler. The trigger runs a full sweep; engine handles
// individual retry pushes.
func New(trigger Trigger, engine Engine, q *queue.RetryQueue, cfg *Config) *Scheduler {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Scheduler{
		trigger:       trigger,
		engine:        engine,
		queue:         q,
		syncInterval:  cfg.SyncInterval,
		queueInterval: cfg.QueueInterval,
		syncTimeout:   cfg.SyncTimeout,
		stopCh:        make(chan struct{}),
		online:        true,
	}
}

// Start launches the background loops. Calling Start twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.wg.Add(2)
	go s.syncLoop(ctx)
	go s.drainLoop(ctx)

	logging.Info("sync scheduler started", map[string]interface{}{
		"sync_interval":  s.syncInterval.String(),
		"queue_interval": s.queueInterval.String(),
	})
}

// Stop shuts the loops down and waits for them.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	logging.Info("sync scheduler stopped", nil)
}

// SetOnline flips the connectivity flag. Going online resets exhausted
// retry budgets and kicks an immediate sweep.
func (s *Scheduler) SetOnline(ctx context.Context, online bool) {
	s.mu.Lock()
	was := s.online
	s.online = online
	s.mu.Unlock()

	if was == online {
		return
	}
	logging.Info("connectivity changed", map[string]interface{}{"online": online})

	if online {
		if s.queue != nil {
			s.queue.Reset()
		}
		go s.runSweep(ctx)
	}
}

// SetOfflineHook registers a callback fired when a sweep discovers the
// server is unreachable.
func (s *Scheduler) SetOfflineHook(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onOffline = fn
}

// IsOnline reports the current connectivity belief.
func (s *Scheduler) IsOnline() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.online
}

// IsRunning reports whether the loops are live.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// LastSyncTime returns when the last successful sweep finished, zero if
// none has.
func (s *Scheduler) LastSyncTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSyncTime
}

func (s *Scheduler) syncLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if !s.IsOnline() {
				continue
			}
			s.runSweep(ctx)
		}
	}
}

func (s *Scheduler) drainLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.queueInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.drainQueue(ctx)
		}
	}
}

// runSweep triggers one full sweep with a timeout. The engine coalesces
// concurrent triggers, so a manual sync racing the ticker is harmless.
func (s *Scheduler) runSweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, s.syncTimeout)
	defer cancel()

	if err := s.trigger(sweepCtx); err != nil {
		logging.Warn("periodic sync failed", map[string]interface{}{"error": err.Error()})
		s.mu.RLock()
		hook := s.onOffline
		s.mu.RUnlock()
		if hook != nil {
			hook()
		}
		return
	}

	s.mu.Lock()
	s.lastSyncTime = time.Now()
	s.mu.Unlock()
}

// drainQueue retries every due entity once.
func (s *Scheduler) drainQueue(ctx context.Context) {
	if s.queue == nil || s.engine == nil {
		return
	}
	due := s.queue.Due()
	if len(due) == 0 {
		return
	}

	logging.Debug("draining retry queue", map[string]interface{}{"due": len(due)})

	for _, item := range due {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}

		if err := s.engine.RetryPush(ctx, item.EntityID); err != nil {
			if ferr := s.queue.Failed(item.EntityID, err); ferr != nil {
				logging.Warn("retry bookkeeping failed", map[string]interface{}{
					"entity_id": item.EntityID, "error": ferr.Error(),
				})
			}
			continue
		}
		s.queue.Succeeded(item.EntityID)
	}
}
