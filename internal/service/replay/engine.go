// Package replay rebuilds the campaign metrics projection by folding an
// aggregate's ordered event stream from scratch. The projection is
// disposable: replay is safe to re-run at any time as a repair tool because
// the fold depends only on event payloads and timestamps.
package replay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/adtrack/internal/domain"
	"github.com/ignite/adtrack/internal/pkg/distlock"
	"github.com/ignite/adtrack/internal/pkg/logger"
	"github.com/shopspring/decimal"
)

// ErrReplayInProgress means another replay holds the aggregate's lock.
// Callers should retry after the running replay finishes.
var ErrReplayInProgress = errors.New("replay already in progress for this aggregate")

const lockScope = "replay"

// EventSource reads an aggregate's full stream in sequence order.
type EventSource interface {
	ReadOrdered(ctx context.Context, tenantID int64, aggregateID string) ([]domain.Event, error)
}

// MetricsStore atomically replaces an aggregate's projection rows. The
// replay engine is the only writer of the projection.
type MetricsStore interface {
	ReplaceAggregateRows(ctx context.Context, tenantID int64, campaignID string, rows []domain.MetricsRow) error
}

// Engine folds event streams into the metrics projection.
type Engine struct {
	source  EventSource
	store   MetricsStore
	locks   distlock.Factory
	lockTTL time.Duration
}

// NewEngine creates a replay engine. lockTTL bounds how long a crashed
// replay can block its aggregate; it should comfortably exceed the longest
// expected replay.
func NewEngine(source EventSource, store MetricsStore, locks distlock.Factory, lockTTL time.Duration) *Engine {
	if lockTTL <= 0 {
		lockTTL = 2 * time.Minute
	}
	return &Engine{source: source, store: store, locks: locks, lockTTL: lockTTL}
}

// Replay reads the aggregate's ordered stream and atomically replaces its
// projection rows with the freshly folded set. Replays of the same aggregate
// are serialized by a distributed lock so one replay's insert can never be
// wiped by another's delete; different aggregates replay in parallel.
//
// The stream is read as a snapshot: events appended after the read simply
// are not folded, and callers needing a complete picture re-run replay once
// ingestion quiesces.
//
// An aggregate with zero events is a no-op that reports zero — it does NOT
// clear prior rows, so a replay pointed at a mistyped campaign id cannot
// destroy a live projection.
func (e *Engine) Replay(ctx context.Context, tenantID int64, aggregateID string) (*Result, error) {
	lock := e.locks(distlock.AggregateKey(lockScope, tenantID, aggregateID), e.lockTTL)
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire replay lock: %w", err)
	}
	if !acquired {
		return nil, ErrReplayInProgress
	}
	// Release with a detached context so cancellation mid-replay still frees
	// the aggregate for the next run.
	defer lock.Release(context.WithoutCancel(ctx))

	started := time.Now()
	events, err := e.source.ReadOrdered(ctx, tenantID, aggregateID)
	if err != nil {
		return nil, fmt.Errorf("%w: read event stream: %v", domain.ErrStoreUnavailable, err)
	}
	if len(events) == 0 {
		logger.Info("replay found no events",
			"tenant_id", tenantID,
			"aggregate_id", aggregateID)
		return emptyResult(), nil
	}

	st := fold(events)
	if err := e.store.ReplaceAggregateRows(ctx, tenantID, aggregateID, st.rows(tenantID, aggregateID)); err != nil {
		return nil, fmt.Errorf("%w: replace projection: %v", domain.ErrStoreUnavailable, err)
	}

	res := st.result()
	logger.Info("replay complete",
		"tenant_id", tenantID,
		"aggregate_id", aggregateID,
		"events_processed", res.EventsProcessed,
		"events_skipped", res.EventsSkipped,
		"days", len(res.Days),
		"elapsed", time.Since(started).Round(time.Millisecond).String())
	return res, nil
}

func emptyResult() *Result {
	return &Result{
		Totals: Totals{Spend: decimal.Zero},
		Days:   map[string]DayMetrics{},
	}
}
