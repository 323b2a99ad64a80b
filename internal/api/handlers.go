package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ignite/adtrack/internal/domain"
	"github.com/ignite/adtrack/internal/repository/postgres"
	"github.com/ignite/adtrack/internal/service/events"
	"github.com/ignite/adtrack/internal/service/integrity"
	"github.com/ignite/adtrack/internal/service/replay"
)

// EventService is the write/read surface of the event log the API exposes.
type EventService interface {
	Append(ctx context.Context, tenantID int64, aggregateID string, eventType domain.EventType, payload map[string]any) (*domain.Event, error)
	Tail(ctx context.Context, tenantID int64, aggregateID string, limit int) ([]domain.Event, error)
	Stats(ctx context.Context, tenantID int64) (map[domain.EventType]int64, error)
	Cleanup(ctx context.Context, tenantID int64, retention time.Duration) (int64, error)
}

// Rebuilder replays a campaign's event stream into its projection.
type Rebuilder interface {
	Replay(ctx context.Context, tenantID int64, aggregateID string) (*replay.Result, error)
}

// SequenceValidator audits a stream for sequence gaps.
type SequenceValidator interface {
	ValidateSequence(ctx context.Context, tenantID int64, aggregateID string) (*integrity.Report, error)
}

// MetricsReader serves projection rows for dashboard queries.
type MetricsReader interface {
	Query(ctx context.Context, tenantID int64, f postgres.QueryFilter) ([]domain.MetricsRow, error)
}

// Handlers contains all HTTP handlers
type Handlers struct {
	events    EventService
	rebuilder Rebuilder
	validator SequenceValidator
	metrics   MetricsReader
}

// NewHandlers creates a new Handlers instance
func NewHandlers(evts EventService, rebuilder Rebuilder, validator SequenceValidator, metrics MetricsReader) *Handlers {
	return &Handlers{
		events:    evts,
		rebuilder: rebuilder,
		validator: validator,
		metrics:   metrics,
	}
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError writes a JSON error body with the given status code.
func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// respondServiceError maps service-layer sentinel errors onto HTTP statuses.
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, events.ErrValidation):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, replay.ErrReplayInProgress):
		respondError(w, http.StatusConflict, "replay already in progress for this campaign")
	case errors.Is(err, events.ErrStoreUnavailable):
		respondError(w, http.StatusServiceUnavailable, "event store unavailable")
	default:
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}
