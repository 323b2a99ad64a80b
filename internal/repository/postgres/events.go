package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/adtrack/internal/domain"
)

// EventRepo implements events.Repository against PostgreSQL.
//
// Sequence allocation and the event insert happen inside one transaction:
// the upsert on ad_sequence_counters takes a row lock scoped to the
// (tenant_id, aggregate_id) counter row, so concurrent appenders to the same
// aggregate serialize on that row while different aggregates never contend.
// If the insert fails the counter increment rolls back with it, so a
// sequence number is never consumed without its event being stored.
type EventRepo struct{ db *sql.DB }

// NewEventRepo creates a Postgres-backed event repository.
func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{db: db} }

func (r *EventRepo) Append(ctx context.Context, tenantID int64, aggregateID string, eventType domain.EventType, payload map[string]any) (*domain.Event, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO ad_sequence_counters (tenant_id, aggregate_id, last_sequence)
		VALUES ($1, $2, 1)
		ON CONFLICT (tenant_id, aggregate_id)
		DO UPDATE SET last_sequence = ad_sequence_counters.last_sequence + 1
		RETURNING last_sequence
	`, tenantID, aggregateID).Scan(&seq)
	if err != nil {
		return nil, fmt.Errorf("allocate sequence: %w", err)
	}

	ev := &domain.Event{
		ID:             uuid.New(),
		TenantID:       tenantID,
		AggregateID:    aggregateID,
		EventType:      eventType,
		Payload:        payload,
		SequenceNumber: seq,
		Timestamp:      time.Now().UTC(),
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ad_events (id, tenant_id, aggregate_id, event_type, payload, sequence_number, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, ev.ID, ev.TenantID, ev.AggregateID, ev.EventType, body, ev.SequenceNumber, ev.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit append: %w", err)
	}
	return ev, nil
}

// ReadOrdered returns the full stream for an aggregate, ascending by
// sequence number (timestamp as tie-break). A single SELECT gives a
// consistent snapshot; events appended after it are simply not seen.
func (r *EventRepo) ReadOrdered(ctx context.Context, tenantID int64, aggregateID string) ([]domain.Event, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tenant_id, aggregate_id, event_type, payload, sequence_number, occurred_at
		FROM ad_events
		WHERE tenant_id = $1 AND aggregate_id = $2
		ORDER BY sequence_number ASC, occurred_at ASC
	`, tenantID, aggregateID)
	if err != nil {
		return nil, fmt.Errorf("read ordered: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ReadTail returns the most recent limit events, newest first.
func (r *EventRepo) ReadTail(ctx context.Context, tenantID int64, aggregateID string, limit int) ([]domain.Event, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tenant_id, aggregate_id, event_type, payload, sequence_number, occurred_at
		FROM ad_events
		WHERE tenant_id = $1 AND aggregate_id = $2
		ORDER BY occurred_at DESC, sequence_number DESC
		LIMIT $3
	`, tenantID, aggregateID, limit)
	if err != nil {
		return nil, fmt.Errorf("read tail: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// DeleteOlderThan removes events appended before cutoff for a tenant and
// returns the number deleted. Counter rows are left in place so sequence
// numbers keep increasing; the resulting historic gap is visible to the
// integrity validator, which is how retention is meant to show up there.
func (r *EventRepo) DeleteOlderThan(ctx context.Context, tenantID int64, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM ad_events WHERE tenant_id = $1 AND occurred_at < $2
	`, tenantID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete events: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// CountByType returns per-type event counts for a tenant.
func (r *EventRepo) CountByType(ctx context.Context, tenantID int64) (map[domain.EventType]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT event_type, COUNT(*)
		FROM ad_events
		WHERE tenant_id = $1
		GROUP BY event_type
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("count by type: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.EventType]int64)
	for rows.Next() {
		var et domain.EventType
		var n int64
		if err := rows.Scan(&et, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		out[et] = n
	}
	return out, rows.Err()
}

// ActiveAggregates lists (tenant, aggregate) pairs with events appended at
// or after since. The replay scheduler uses this to find streams whose
// projections are stale.
func (r *EventRepo) ActiveAggregates(ctx context.Context, since time.Time) ([]domain.AggregateRef, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT tenant_id, aggregate_id
		FROM ad_events
		WHERE occurred_at >= $1
	`, since)
	if err != nil {
		return nil, fmt.Errorf("active aggregates: %w", err)
	}
	defer rows.Close()

	var out []domain.AggregateRef
	for rows.Next() {
		var ref domain.AggregateRef
		if err := rows.Scan(&ref.TenantID, &ref.AggregateID); err != nil {
			return nil, fmt.Errorf("scan aggregate ref: %w", err)
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}

func scanEvents(rows *sql.Rows) ([]domain.Event, error) {
	var out []domain.Event
	for rows.Next() {
		var ev domain.Event
		var body []byte
		if err := rows.Scan(&ev.ID, &ev.TenantID, &ev.AggregateID, &ev.EventType, &body, &ev.SequenceNumber, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if len(body) > 0 {
			if err := json.Unmarshal(body, &ev.Payload); err != nil {
				// A row with undecodable payload still participates in
				// sequencing; replay will count it as skipped.
				ev.Payload = nil
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
