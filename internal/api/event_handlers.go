package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/adtrack/internal/domain"
)

// defaultRetentionDays bounds cleanup when the caller does not pass ?days=.
const defaultRetentionDays = 30

// RecordImpression appends an impression_created event.
//
//	POST /api/events/impressions
//	Body: {"campaign_id": "...", "ad_id": "...", "user_id": "...", "cost": "0.25"}
func (h *Handlers) RecordImpression(w http.ResponseWriter, r *http.Request) {
	h.ingest(w, r, domain.EventImpressionCreated)
}

// RecordClick appends a click_registered event.
//
//	POST /api/events/clicks
func (h *Handlers) RecordClick(w http.ResponseWriter, r *http.Request) {
	h.ingest(w, r, domain.EventClickRegistered)
}

// RecordConversion appends a conversion_tracked event.
//
//	POST /api/events/conversions
func (h *Handlers) RecordConversion(w http.ResponseWriter, r *http.Request) {
	h.ingest(w, r, domain.EventConversionTracked)
}

// ingest decodes a flat event body, peels off campaign_id, and hands the
// remaining fields to the event service as the payload.
func (h *Handlers) ingest(w http.ResponseWriter, r *http.Request, eventType domain.EventType) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	campaignID, _ := body["campaign_id"].(string)
	delete(body, "campaign_id")

	evt, err := h.events.Append(r.Context(), tenantID(r), campaignID, eventType, body)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"event_id":        evt.ID,
		"event_type":      evt.EventType,
		"campaign_id":     evt.AggregateID,
		"sequence_number": evt.SequenceNumber,
		"timestamp":       evt.Timestamp,
	})
}

// GetCampaignEvents returns the most recent events for a campaign, newest
// first.
//
//	GET /api/campaigns/{campaignID}/events?limit=100
func (h *Handlers) GetCampaignEvents(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignID")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid limit parameter")
			return
		}
		limit = n
	}

	evts, err := h.events.Tail(r.Context(), tenantID(r), campaignID, limit)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"campaign_id": campaignID,
		"count":       len(evts),
		"events":      evts,
	})
}

// GetEventStats returns per-type event counts for the tenant.
//
//	GET /api/events/stats
func (h *Handlers) GetEventStats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.events.Stats(r.Context(), tenantID(r))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	var total int64
	stats := make(map[string]int64, len(counts))
	for eventType, n := range counts {
		stats[string(eventType)] = n
		total += n
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"tenant_id": tenantID(r),
		"stats":     stats,
		"total":     total,
	})
}

// CleanupEvents deletes the tenant's events older than the retention window.
// Sequence counters are kept so future appends never reuse a sequence number.
//
//	DELETE /api/events/cleanup?days=30
func (h *Handlers) CleanupEvents(w http.ResponseWriter, r *http.Request) {
	days := defaultRetentionDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "days must be a positive integer")
			return
		}
		days = n
	}

	deleted, err := h.events.Cleanup(r.Context(), tenantID(r), time.Duration(days)*24*time.Hour)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"tenant_id":      tenantID(r),
		"deleted_events": deleted,
		"retention_days": days,
	})
}
