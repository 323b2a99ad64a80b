package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/adtrack/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memRepo is an in-memory Repository with the same atomicity contract as the
// Postgres implementation: one mutex guards sequence allocation and insert.
type memRepo struct {
	mu      sync.Mutex
	seqs    map[string]int64
	events  []domain.Event
	failing bool
}

func newMemRepo() *memRepo {
	return &memRepo{seqs: make(map[string]int64)}
}

func (m *memRepo) key(tenantID int64, aggregateID string) string {
	return fmt.Sprintf("%d/%s", tenantID, aggregateID)
}

func (m *memRepo) Append(_ context.Context, tenantID int64, aggregateID string, eventType domain.EventType, payload map[string]any) (*domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return nil, errors.New("connection refused")
	}
	k := m.key(tenantID, aggregateID)
	m.seqs[k]++
	ev := domain.Event{
		ID:             uuid.New(),
		TenantID:       tenantID,
		AggregateID:    aggregateID,
		EventType:      eventType,
		Payload:        payload,
		SequenceNumber: m.seqs[k],
		Timestamp:      time.Now().UTC(),
	}
	m.events = append(m.events, ev)
	return &ev, nil
}

func (m *memRepo) ReadOrdered(_ context.Context, tenantID int64, aggregateID string) ([]domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Event
	for _, ev := range m.events {
		if ev.TenantID == tenantID && ev.AggregateID == aggregateID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *memRepo) ReadTail(_ context.Context, tenantID int64, aggregateID string, limit int) ([]domain.Event, error) {
	ordered, _ := m.ReadOrdered(context.Background(), tenantID, aggregateID)
	var out []domain.Event
	for i := len(ordered) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, ordered[i])
	}
	return out, nil
}

func (m *memRepo) DeleteOlderThan(_ context.Context, tenantID int64, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []domain.Event
	var deleted int64
	for _, ev := range m.events {
		if ev.TenantID == tenantID && ev.Timestamp.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, ev)
	}
	m.events = kept
	return deleted, nil
}

func (m *memRepo) CountByType(_ context.Context, tenantID int64) (map[domain.EventType]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[domain.EventType]int64)
	for _, ev := range m.events {
		if ev.TenantID == tenantID {
			out[ev.EventType]++
		}
	}
	return out, nil
}

type capturePublisher struct {
	mu     sync.Mutex
	events []*domain.Event
	err    error
}

func (p *capturePublisher) Publish(_ context.Context, ev *domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func TestAppendAssignsSequentialNumbers(t *testing.T) {
	svc := New(newMemRepo(), nil)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		ev, err := svc.Append(ctx, 1, "campaign-1", domain.EventClickRegistered, map[string]any{"user_id": "7"})
		require.NoError(t, err)
		assert.Equal(t, int64(i), ev.SequenceNumber)
	}

	// A different aggregate starts at 1 again.
	ev, err := svc.Append(ctx, 1, "campaign-2", domain.EventClickRegistered, map[string]any{"user_id": "7"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), ev.SequenceNumber)
}

func TestConcurrentAppendsProduceGapFreeSequence(t *testing.T) {
	repo := newMemRepo()
	svc := New(repo, nil)
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := svc.Append(ctx, 1, "campaign-1", domain.EventImpressionCreated,
				map[string]any{"cost": "0.10", "user_id": "7"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	events, err := repo.ReadOrdered(ctx, 1, "campaign-1")
	require.NoError(t, err)
	require.Len(t, events, n)

	seen := make(map[int64]bool, n)
	for _, ev := range events {
		assert.False(t, seen[ev.SequenceNumber], "duplicate sequence %d", ev.SequenceNumber)
		seen[ev.SequenceNumber] = true
	}
	for want := int64(1); want <= n; want++ {
		assert.True(t, seen[want], "missing sequence %d", want)
	}
}

func TestAppendRejectsInvalidPayloadBeforeStore(t *testing.T) {
	repo := newMemRepo()
	svc := New(repo, nil)

	_, err := svc.Append(context.Background(), 1, "campaign-1", domain.EventImpressionCreated,
		map[string]any{"user_id": "7"}) // missing cost
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Empty(t, repo.events, "rejected event must never reach the store")

	_, err = svc.Append(context.Background(), 1, "", domain.EventClickRegistered,
		map[string]any{"user_id": "7"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestAppendMapsStoreFailure(t *testing.T) {
	repo := newMemRepo()
	repo.failing = true
	svc := New(repo, nil)

	_, err := svc.Append(context.Background(), 1, "campaign-1", domain.EventClickRegistered,
		map[string]any{"user_id": "7"})
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestAppendPublishesAfterDurableWrite(t *testing.T) {
	pub := &capturePublisher{}
	svc := New(newMemRepo(), pub)

	ev, err := svc.Append(context.Background(), 1, "campaign-1", domain.EventConversionTracked,
		map[string]any{"user_id": "9", "conversion_value": "25.00"})
	require.NoError(t, err)

	require.Len(t, pub.events, 1)
	assert.Equal(t, ev.ID, pub.events[0].ID)
}

func TestAppendSucceedsWhenPublishFails(t *testing.T) {
	pub := &capturePublisher{err: errors.New("redis down")}
	svc := New(newMemRepo(), pub)

	ev, err := svc.Append(context.Background(), 1, "campaign-1", domain.EventClickRegistered,
		map[string]any{"user_id": "7"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), ev.SequenceNumber)
}

func TestTailClampsLimit(t *testing.T) {
	repo := newMemRepo()
	svc := New(repo, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := svc.Append(ctx, 1, "campaign-1", domain.EventClickRegistered, map[string]any{"user_id": "7"})
		require.NoError(t, err)
	}

	tail, err := svc.Tail(ctx, 1, "campaign-1", 2)
	require.NoError(t, err)
	assert.Len(t, tail, 2)
	assert.Equal(t, int64(5), tail[0].SequenceNumber, "newest first")

	// Zero limit falls back to the default, which covers all 5 here.
	tail, err = svc.Tail(ctx, 1, "campaign-1", 0)
	require.NoError(t, err)
	assert.Len(t, tail, 5)

	// Oversized limits are clamped rather than rejected.
	tail, err = svc.Tail(ctx, 1, "campaign-1", 10_000)
	require.NoError(t, err)
	assert.Len(t, tail, 5)
}

func TestStatsIncludesZeroedKnownTypes(t *testing.T) {
	repo := newMemRepo()
	svc := New(repo, nil)
	ctx := context.Background()

	_, err := svc.Append(ctx, 1, "campaign-1", domain.EventClickRegistered, map[string]any{"user_id": "7"})
	require.NoError(t, err)

	stats, err := svc.Stats(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats[domain.EventClickRegistered])
	assert.Equal(t, int64(0), stats[domain.EventImpressionCreated])
	assert.Equal(t, int64(0), stats[domain.EventConversionTracked])
}

func TestCleanupDeletesOnlyOldTenantEvents(t *testing.T) {
	repo := newMemRepo()
	svc := New(repo, nil)
	ctx := context.Background()

	_, err := svc.Append(ctx, 1, "campaign-1", domain.EventClickRegistered, map[string]any{"user_id": "7"})
	require.NoError(t, err)
	repo.events[0].Timestamp = time.Now().UTC().AddDate(0, 0, -60)

	_, err = svc.Append(ctx, 1, "campaign-1", domain.EventClickRegistered, map[string]any{"user_id": "8"})
	require.NoError(t, err)

	deleted, err := svc.Cleanup(ctx, 1, 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	remaining, err := repo.ReadOrdered(ctx, 1, "campaign-1")
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	// Retention leaves the sequence counter alone: the survivor keeps seq 2.
	assert.Equal(t, int64(2), remaining[0].SequenceNumber)
}
