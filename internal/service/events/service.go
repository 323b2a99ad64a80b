// Package events exposes the append-only campaign event log: append with
// gap-free per-aggregate sequencing, bounded tail reads, per-type counts,
// and age-based retention. Replay and integrity checks build on the same
// repository but live in their own packages.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/adtrack/internal/domain"
	"github.com/ignite/adtrack/internal/pkg/logger"
)

const (
	defaultTailLimit = 100
	maxTailLimit     = 1000
)

// Repository is the durable event store. Append must allocate the next
// sequence number and persist the event atomically: a claimed sequence
// without a stored event must be impossible on the happy path (a crashed
// process can still leave a gap, which the integrity validator surfaces).
type Repository interface {
	Append(ctx context.Context, tenantID int64, aggregateID string, eventType domain.EventType, payload map[string]any) (*domain.Event, error)
	ReadOrdered(ctx context.Context, tenantID int64, aggregateID string) ([]domain.Event, error)
	ReadTail(ctx context.Context, tenantID int64, aggregateID string, limit int) ([]domain.Event, error)
	DeleteOlderThan(ctx context.Context, tenantID int64, cutoff time.Time) (int64, error)
	CountByType(ctx context.Context, tenantID int64) (map[domain.EventType]int64, error)
}

// Publisher receives successfully appended events for realtime fan-out.
type Publisher interface {
	Publish(ctx context.Context, ev *domain.Event) error
}

// Service coordinates validation, durable append, and fan-out.
type Service struct {
	repo Repository
	pub  Publisher // optional
}

// New creates an event service. pub may be nil when realtime fan-out is not
// configured.
func New(repo Repository, pub Publisher) *Service {
	return &Service{repo: repo, pub: pub}
}

// Append validates the payload for its event type, persists the event with
// the next sequence number, and publishes it for realtime consumers.
// Publishing is best-effort: the event is durable once the repository
// returns, and a fan-out failure never fails the append.
func (s *Service) Append(ctx context.Context, tenantID int64, aggregateID string, eventType domain.EventType, payload map[string]any) (*domain.Event, error) {
	if aggregateID == "" {
		return nil, fmt.Errorf("%w: aggregate_id is required", ErrValidation)
	}
	if err := domain.ValidatePayload(eventType, payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	ev, err := s.repo.Append(ctx, tenantID, aggregateID, eventType, payload)
	if err != nil {
		logger.Error("event append failed",
			"tenant_id", tenantID,
			"aggregate_id", aggregateID,
			"event_type", string(eventType),
			"error", err)
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if s.pub != nil {
		if err := s.pub.Publish(ctx, ev); err != nil {
			logger.Warn("realtime publish failed",
				"aggregate_id", aggregateID,
				"sequence", ev.SequenceNumber,
				"error", err)
		}
	}

	logger.Debug("event appended",
		"tenant_id", tenantID,
		"aggregate_id", aggregateID,
		"event_type", string(eventType),
		"sequence", ev.SequenceNumber)
	return ev, nil
}

// Tail returns the most recent events for an aggregate, newest first.
// The limit is clamped to [1, 1000]; zero or negative means the default.
func (s *Service) Tail(ctx context.Context, tenantID int64, aggregateID string, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = defaultTailLimit
	}
	if limit > maxTailLimit {
		limit = maxTailLimit
	}
	events, err := s.repo.ReadTail(ctx, tenantID, aggregateID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return events, nil
}

// Stats returns per-type event counts for a tenant, with all known types
// present even when zero.
func (s *Service) Stats(ctx context.Context, tenantID int64) (map[domain.EventType]int64, error) {
	counts, err := s.repo.CountByType(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	for _, et := range domain.KnownEventTypes() {
		if _, ok := counts[et]; !ok {
			counts[et] = 0
		}
	}
	return counts, nil
}

// Cleanup deletes events older than retention for a tenant and returns the
// number removed. Sequence counters are untouched: new appends keep
// counting upward and the validator will report the retained range's lower
// bound as a gap, which is the expected audit trail for retention.
func (s *Service) Cleanup(ctx context.Context, tenantID int64, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	n, err := s.repo.DeleteOlderThan(ctx, tenantID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	logger.Info("event cleanup complete",
		"tenant_id", tenantID,
		"deleted", n,
		"cutoff", cutoff.Format(time.RFC3339))
	return n, nil
}
