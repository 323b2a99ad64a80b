// Package worker runs background maintenance: the replay scheduler keeps
// projections fresh by periodically replaying aggregates that received new
// events since the previous pass.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ignite/adtrack/internal/domain"
	"github.com/ignite/adtrack/internal/pkg/logger"
	"github.com/ignite/adtrack/internal/service/replay"
)

// AggregateLister finds streams with events appended since a point in time.
type AggregateLister interface {
	ActiveAggregates(ctx context.Context, since time.Time) ([]domain.AggregateRef, error)
}

// Replayer rebuilds one aggregate's projection.
type Replayer interface {
	Replay(ctx context.Context, tenantID int64, aggregateID string) (*replay.Result, error)
}

// ReplaySchedulerConfig configures the scheduler.
type ReplaySchedulerConfig struct {
	Interval time.Duration
	// Overlap is subtracted from the previous pass time when listing active
	// aggregates, so events that landed while the last pass ran are not
	// missed. Defaults to one interval.
	Overlap time.Duration
}

// ReplayScheduler periodically replays recently-active aggregates.
type ReplayScheduler struct {
	lister   AggregateLister
	replayer Replayer
	cfg      ReplaySchedulerConfig

	mu       sync.RWMutex
	running  bool
	stop     chan struct{}
	lastPass time.Time

	replays int64
	busy    int64
	failed  int64
}

// NewReplayScheduler creates a scheduler; Start must be called to run it.
func NewReplayScheduler(lister AggregateLister, replayer Replayer, cfg ReplaySchedulerConfig) *ReplayScheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Overlap <= 0 {
		cfg.Overlap = cfg.Interval
	}
	return &ReplayScheduler{lister: lister, replayer: replayer, cfg: cfg}
}

// Start launches the scheduling loop. Calling Start on a running scheduler
// is an error.
func (s *ReplayScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("replay scheduler already running")
	}
	s.running = true
	s.stop = make(chan struct{})
	s.lastPass = time.Now().UTC()
	go s.loop(ctx)
	logger.Info("replay scheduler started", "interval", s.cfg.Interval.String())
	return nil
}

// Stop terminates the loop. Safe to call once after Start.
func (s *ReplayScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.stop)
}

// Running reports whether the loop is active.
func (s *ReplayScheduler) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Stats returns pass counters for monitoring.
func (s *ReplayScheduler) Stats() map[string]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]int64{
		"replays": s.replays,
		"busy":    s.busy,
		"failed":  s.failed,
	}
}

func (s *ReplayScheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.RunPass(ctx)
		}
	}
}

// RunPass replays every aggregate active since the previous pass. It is
// exported so operators can trigger a pass out of cycle.
func (s *ReplayScheduler) RunPass(ctx context.Context) {
	s.mu.Lock()
	since := s.lastPass.Add(-s.cfg.Overlap)
	s.lastPass = time.Now().UTC()
	s.mu.Unlock()

	refs, err := s.lister.ActiveAggregates(ctx, since)
	if err != nil {
		logger.Error("replay scheduler listing failed", "error", err)
		return
	}

	for _, ref := range refs {
		if err := s.replayOne(ctx, ref); err != nil {
			return // context canceled, bail out of the pass
		}
	}
}

func (s *ReplayScheduler) replayOne(ctx context.Context, ref domain.AggregateRef) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	_, err := s.replayer.Replay(ctx, ref.TenantID, ref.AggregateID)
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case err == nil:
		s.replays++
	case errors.Is(err, replay.ErrReplayInProgress):
		// Someone else is already rebuilding it, which is just as good.
		s.busy++
	default:
		s.failed++
		logger.Warn("scheduled replay failed",
			"tenant_id", ref.TenantID,
			"aggregate_id", ref.AggregateID,
			"error", fmt.Sprintf("%v", err))
	}
	return nil
}
