package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventType enumerates the kinds of ad engagement events in the log.
// The wire names are stable; replay must skip (never reject) types it does
// not recognize so that old readers keep working as new kinds are added.
type EventType string

const (
	EventImpressionCreated EventType = "impression_created"
	EventClickRegistered   EventType = "click_registered"
	EventConversionTracked EventType = "conversion_tracked"
)

// KnownEventTypes lists the event types the append API accepts.
func KnownEventTypes() []EventType {
	return []EventType{EventImpressionCreated, EventClickRegistered, EventConversionTracked}
}

// IsKnown reports whether t is an event type this version understands.
func (t EventType) IsKnown() bool {
	switch t {
	case EventImpressionCreated, EventClickRegistered, EventConversionTracked:
		return true
	}
	return false
}

// Event is one immutable fact in a campaign's history. SequenceNumber is the
// authoritative ordering key within a (tenant, aggregate) stream; Timestamp
// is a wall-clock tie-break only.
type Event struct {
	ID             uuid.UUID      `json:"id"`
	TenantID       int64          `json:"tenant_id"`
	AggregateID    string         `json:"aggregate_id"`
	EventType      EventType      `json:"event_type"`
	Payload        map[string]any `json:"payload"`
	SequenceNumber int64          `json:"sequence_number"`
	Timestamp      time.Time      `json:"timestamp"`
}

// AggregateRef identifies one event stream.
type AggregateRef struct {
	TenantID    int64  `json:"tenant_id"`
	AggregateID string `json:"aggregate_id"`
}

// requiredPayloadFields maps each known event type to the payload fields that
// must be present for the event to be accepted at append time.
var requiredPayloadFields = map[EventType][]string{
	EventImpressionCreated: {"cost", "user_id"},
	EventClickRegistered:   {"user_id"},
	EventConversionTracked: {"user_id"},
}

// ValidatePayload checks that payload carries the required fields for the
// given event type and that money fields parse as decimals. It does not
// reject extra fields; payloads are open maps for forward compatibility.
func ValidatePayload(eventType EventType, payload map[string]any) error {
	required, ok := requiredPayloadFields[eventType]
	if !ok {
		return fmt.Errorf("unknown event type %q", eventType)
	}
	for _, field := range required {
		v, present := payload[field]
		if !present || v == nil {
			return fmt.Errorf("payload missing required field %q for %s", field, eventType)
		}
	}
	for _, field := range []string{"cost", "conversion_value"} {
		if v, present := payload[field]; present && v != nil {
			if _, err := DecimalField(payload, field); err != nil {
				return fmt.Errorf("payload field %q: %v", field, err)
			}
		}
	}
	return nil
}

// DecimalField extracts a currency amount from a payload field. JSON decoding
// yields float64 for numbers, but producers are encouraged to send amounts as
// strings so no precision is lost in transit; both are accepted.
func DecimalField(payload map[string]any, field string) (decimal.Decimal, error) {
	switch v := payload[field].(type) {
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Zero, fmt.Errorf("not a decimal: %q", v)
		}
		return d, nil
	case float64:
		return decimal.NewFromFloat(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case json.Number:
		d, err := decimal.NewFromString(v.String())
		if err != nil {
			return decimal.Zero, fmt.Errorf("not a decimal: %q", v.String())
		}
		return d, nil
	default:
		return decimal.Zero, fmt.Errorf("unsupported type %T", payload[field])
	}
}

// UserIDField extracts a user identifier from a payload field as a string,
// normalizing JSON numbers so "7" and 7 dedupe to the same user.
func UserIDField(payload map[string]any, field string) (string, bool) {
	switch v := payload[field].(type) {
	case string:
		if v == "" {
			return "", false
		}
		return v, true
	case float64:
		return fmt.Sprintf("%.0f", v), true
	case int:
		return fmt.Sprintf("%d", v), true
	case int64:
		return fmt.Sprintf("%d", v), true
	case json.Number:
		return v.String(), true
	default:
		return "", false
	}
}
