// Package realtime fans appended events out to live dashboard consumers
// over Redis pub/sub. Delivery is fire-and-forget: the event log is the
// source of truth and anything missed here is recoverable by replay, so a
// publish failure must never fail an append.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ignite/adtrack/internal/domain"
	"github.com/redis/go-redis/v9"
)

// Publisher publishes appended events to per-tenant Redis channels.
type Publisher struct {
	client *redis.Client
}

// NewPublisher creates a Redis-backed event publisher.
func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// Channel returns the pub/sub channel for a (tenant, aggregate) stream.
// Subscribers can PSUBSCRIBE events.tenant.{id}.* to watch a whole tenant.
func Channel(tenantID int64, aggregateID string) string {
	return fmt.Sprintf("events.tenant.%d.%s", tenantID, aggregateID)
}

// Publish sends the event JSON to its stream channel.
func (p *Publisher) Publish(ctx context.Context, ev *domain.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := p.client.Publish(ctx, Channel(ev.TenantID, ev.AggregateID), body).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}
