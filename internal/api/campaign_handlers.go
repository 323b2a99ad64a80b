package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/adtrack/internal/repository/postgres"
)

// RebuildCampaign replays the campaign's full event stream and swaps in the
// rebuilt projection. Returns 409 when another replay holds the campaign lock.
//
//	POST /api/campaigns/{campaignID}/rebuild
func (h *Handlers) RebuildCampaign(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignID")
	if campaignID == "" {
		respondError(w, http.StatusBadRequest, "missing campaign ID")
		return
	}

	result, err := h.rebuilder.Replay(r.Context(), tenantID(r), campaignID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"campaign_id": campaignID,
		"result":      result,
	})
}

// ValidateCampaign audits the campaign's event stream for sequence gaps.
//
//	GET /api/campaigns/{campaignID}/validate
func (h *Handlers) ValidateCampaign(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignID")

	report, err := h.validator.ValidateSequence(r.Context(), tenantID(r), campaignID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"campaign_id": campaignID,
		"report":      report,
	})
}

// GetCampaignMetrics returns daily projection rows for a campaign, optionally
// bounded by from/to dates (YYYY-MM-DD, inclusive).
//
//	GET /api/campaigns/{campaignID}/metrics?from=2026-01-01&to=2026-01-31
func (h *Handlers) GetCampaignMetrics(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignID")

	filter := postgres.QueryFilter{CampaignID: campaignID}
	if raw := r.URL.Query().Get("from"); raw != "" {
		from, err := time.ParseInLocation("2006-01-02", raw, time.UTC)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid from date, expected YYYY-MM-DD")
			return
		}
		filter.From = from
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		to, err := time.ParseInLocation("2006-01-02", raw, time.UTC)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid to date, expected YYYY-MM-DD")
			return
		}
		filter.To = to
	}

	rows, err := h.metrics.Query(r.Context(), tenantID(r), filter)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"campaign_id": campaignID,
		"count":       len(rows),
		"metrics":     rows,
	})
}
