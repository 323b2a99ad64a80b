package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ignite/adtrack/internal/domain"
	"github.com/ignite/adtrack/internal/service/replay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLister struct {
	refs []domain.AggregateRef
	err  error
}

func (s *stubLister) ActiveAggregates(context.Context, time.Time) ([]domain.AggregateRef, error) {
	return s.refs, s.err
}

type stubReplayer struct {
	mu     sync.Mutex
	calls  []domain.AggregateRef
	errFor map[string]error
}

func (s *stubReplayer) Replay(_ context.Context, tenantID int64, aggregateID string) (*replay.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, domain.AggregateRef{TenantID: tenantID, AggregateID: aggregateID})
	if err, ok := s.errFor[aggregateID]; ok {
		return nil, err
	}
	return &replay.Result{}, nil
}

func TestSchedulerStartStop(t *testing.T) {
	s := NewReplayScheduler(&stubLister{}, &stubReplayer{}, ReplaySchedulerConfig{Interval: time.Hour})

	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.Running())

	// Double start should error.
	assert.Error(t, s.Start(context.Background()))

	s.Stop()
	assert.False(t, s.Running())
	// Stop is idempotent.
	s.Stop()
}

func TestRunPassReplaysActiveAggregates(t *testing.T) {
	lister := &stubLister{refs: []domain.AggregateRef{
		{TenantID: 1, AggregateID: "campaign-1"},
		{TenantID: 2, AggregateID: "campaign-9"},
	}}
	replayer := &stubReplayer{}
	s := NewReplayScheduler(lister, replayer, ReplaySchedulerConfig{Interval: time.Hour})

	s.RunPass(context.Background())

	require.Len(t, replayer.calls, 2)
	assert.Equal(t, int64(2), s.Stats()["replays"])
}

func TestRunPassCountsBusyAndFailed(t *testing.T) {
	lister := &stubLister{refs: []domain.AggregateRef{
		{TenantID: 1, AggregateID: "busy"},
		{TenantID: 1, AggregateID: "broken"},
		{TenantID: 1, AggregateID: "ok"},
	}}
	replayer := &stubReplayer{errFor: map[string]error{
		"busy":   replay.ErrReplayInProgress,
		"broken": errors.New("db down"),
	}}
	s := NewReplayScheduler(lister, replayer, ReplaySchedulerConfig{Interval: time.Hour})

	s.RunPass(context.Background())

	stats := s.Stats()
	assert.Equal(t, int64(1), stats["replays"])
	assert.Equal(t, int64(1), stats["busy"])
	assert.Equal(t, int64(1), stats["failed"])
}

func TestRunPassStopsWhenContextCanceled(t *testing.T) {
	lister := &stubLister{refs: []domain.AggregateRef{
		{TenantID: 1, AggregateID: "campaign-1"},
		{TenantID: 1, AggregateID: "campaign-2"},
	}}
	replayer := &stubReplayer{}
	s := NewReplayScheduler(lister, replayer, ReplaySchedulerConfig{Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.RunPass(ctx)

	assert.Empty(t, replayer.calls)
}
