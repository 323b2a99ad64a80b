package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/adtrack/internal/domain"
	"github.com/ignite/adtrack/internal/repository/postgres"
	"github.com/ignite/adtrack/internal/service/events"
	"github.com/ignite/adtrack/internal/service/integrity"
	"github.com/ignite/adtrack/internal/service/replay"
)

type fakeEventService struct {
	appendErr     error
	lastTenant    int64
	lastAggregate string
	lastType      domain.EventType
	lastPayload   map[string]any
	tail          []domain.Event
	deleted       int64
}

func (f *fakeEventService) Append(_ context.Context, tenantID int64, aggregateID string, eventType domain.EventType, payload map[string]any) (*domain.Event, error) {
	if f.appendErr != nil {
		return nil, f.appendErr
	}
	f.lastTenant = tenantID
	f.lastAggregate = aggregateID
	f.lastType = eventType
	f.lastPayload = payload
	return &domain.Event{
		ID:             uuid.New(),
		TenantID:       tenantID,
		AggregateID:    aggregateID,
		EventType:      eventType,
		Payload:        payload,
		SequenceNumber: 7,
		Timestamp:      time.Now().UTC(),
	}, nil
}

func (f *fakeEventService) Tail(_ context.Context, _ int64, _ string, _ int) ([]domain.Event, error) {
	return f.tail, nil
}

func (f *fakeEventService) Stats(_ context.Context, _ int64) (map[domain.EventType]int64, error) {
	return map[domain.EventType]int64{
		domain.EventImpressionCreated: 10,
		domain.EventClickRegistered:   3,
		domain.EventConversionTracked: 1,
	}, nil
}

func (f *fakeEventService) Cleanup(_ context.Context, _ int64, _ time.Duration) (int64, error) {
	return f.deleted, nil
}

type fakeRebuilder struct {
	err    error
	result *replay.Result
}

func (f *fakeRebuilder) Replay(context.Context, int64, string) (*replay.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeValidator struct {
	report *integrity.Report
	err    error
}

func (f *fakeValidator) ValidateSequence(context.Context, int64, string) (*integrity.Report, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.report, nil
}

type fakeMetrics struct {
	rows       []domain.MetricsRow
	lastFilter postgres.QueryFilter
}

func (f *fakeMetrics) Query(_ context.Context, _ int64, filter postgres.QueryFilter) ([]domain.MetricsRow, error) {
	f.lastFilter = filter
	return f.rows, nil
}

func newTestRouter(evts EventService, reb Rebuilder, val SequenceValidator, met MetricsReader) http.Handler {
	h := NewHandlers(evts, reb, val, met)
	hc := NewHealthChecker(nil, nil, nil)
	return SetupRoutes(h, hc)
}

func doRequest(t *testing.T, router http.Handler, method, path, body string, tenant string) *httptest.ResponseRecorder {
	t.Helper()
	var reqBody *strings.Reader
	if body == "" {
		reqBody = strings.NewReader("")
	} else {
		reqBody = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reqBody)
	if tenant != "" {
		req.Header.Set("X-Tenant-ID", tenant)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRecordImpression(t *testing.T) {
	svc := &fakeEventService{}
	router := newTestRouter(svc, &fakeRebuilder{}, &fakeValidator{}, &fakeMetrics{})

	body := `{"campaign_id":"camp-1","ad_id":"ad-9","user_id":"u-42","cost":"0.25"}`
	rec := doRequest(t, router, http.MethodPost, "/api/events/impressions", body, "5")

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "impression_created", resp["event_type"])
	assert.Equal(t, "camp-1", resp["campaign_id"])
	assert.Equal(t, float64(7), resp["sequence_number"])

	assert.Equal(t, int64(5), svc.lastTenant)
	assert.Equal(t, "camp-1", svc.lastAggregate)
	assert.Equal(t, domain.EventImpressionCreated, svc.lastType)
	// campaign_id is routing data, not payload
	assert.NotContains(t, svc.lastPayload, "campaign_id")
	assert.Equal(t, "0.25", svc.lastPayload["cost"])
}

func TestRecordClickValidationError(t *testing.T) {
	svc := &fakeEventService{
		appendErr: fmt.Errorf("%w: payload missing required field \"user_id\"", events.ErrValidation),
	}
	router := newTestRouter(svc, &fakeRebuilder{}, &fakeValidator{}, &fakeMetrics{})

	rec := doRequest(t, router, http.MethodPost, "/api/events/clicks", `{"campaign_id":"camp-1"}`, "5")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "user_id")
}

func TestRecordConversionStoreDown(t *testing.T) {
	svc := &fakeEventService{
		appendErr: fmt.Errorf("%w: connection refused", events.ErrStoreUnavailable),
	}
	router := newTestRouter(svc, &fakeRebuilder{}, &fakeValidator{}, &fakeMetrics{})

	body := `{"campaign_id":"camp-1","user_id":"u-1"}`
	rec := doRequest(t, router, http.MethodPost, "/api/events/conversions", body, "5")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestIngestRejectsBadJSON(t *testing.T) {
	router := newTestRouter(&fakeEventService{}, &fakeRebuilder{}, &fakeValidator{}, &fakeMetrics{})

	rec := doRequest(t, router, http.MethodPost, "/api/events/impressions", `{not json`, "5")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTenantHeaderRequired(t *testing.T) {
	router := newTestRouter(&fakeEventService{}, &fakeRebuilder{}, &fakeValidator{}, &fakeMetrics{})

	rec := doRequest(t, router, http.MethodGet, "/api/events/stats", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "X-Tenant-ID")

	rec = doRequest(t, router, http.MethodGet, "/api/events/stats", "", "not-a-number")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, router, http.MethodGet, "/api/events/stats", "", "-3")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRebuildCampaign(t *testing.T) {
	reb := &fakeRebuilder{result: &replay.Result{EventsProcessed: 12}}
	router := newTestRouter(&fakeEventService{}, reb, &fakeValidator{}, &fakeMetrics{})

	rec := doRequest(t, router, http.MethodPost, "/api/campaigns/camp-1/rebuild", "", "5")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		CampaignID string         `json:"campaign_id"`
		Result     *replay.Result `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "camp-1", resp.CampaignID)
	assert.Equal(t, 12, resp.Result.EventsProcessed)
}

func TestRebuildCampaignBusy(t *testing.T) {
	reb := &fakeRebuilder{err: replay.ErrReplayInProgress}
	router := newTestRouter(&fakeEventService{}, reb, &fakeValidator{}, &fakeMetrics{})

	rec := doRequest(t, router, http.MethodPost, "/api/campaigns/camp-1/rebuild", "", "5")

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRebuildCampaignStoreDown(t *testing.T) {
	reb := &fakeRebuilder{
		err: fmt.Errorf("%w: replace projection: connection refused", domain.ErrStoreUnavailable),
	}
	router := newTestRouter(&fakeEventService{}, reb, &fakeValidator{}, &fakeMetrics{})

	rec := doRequest(t, router, http.MethodPost, "/api/campaigns/camp-1/rebuild", "", "5")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestValidateCampaignStoreDown(t *testing.T) {
	val := &fakeValidator{
		err: fmt.Errorf("%w: read event stream: connection refused", domain.ErrStoreUnavailable),
	}
	router := newTestRouter(&fakeEventService{}, &fakeRebuilder{}, val, &fakeMetrics{})

	rec := doRequest(t, router, http.MethodGet, "/api/campaigns/camp-1/validate", "", "5")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetCampaignEvents(t *testing.T) {
	svc := &fakeEventService{tail: []domain.Event{
		{ID: uuid.New(), AggregateID: "camp-1", EventType: domain.EventClickRegistered, SequenceNumber: 2},
		{ID: uuid.New(), AggregateID: "camp-1", EventType: domain.EventImpressionCreated, SequenceNumber: 1},
	}}
	router := newTestRouter(svc, &fakeRebuilder{}, &fakeValidator{}, &fakeMetrics{})

	rec := doRequest(t, router, http.MethodGet, "/api/campaigns/camp-1/events?limit=10", "", "5")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Count  int            `json:"count"`
		Events []domain.Event `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, int64(2), resp.Events[0].SequenceNumber)
}

func TestGetCampaignEventsBadLimit(t *testing.T) {
	router := newTestRouter(&fakeEventService{}, &fakeRebuilder{}, &fakeValidator{}, &fakeMetrics{})

	rec := doRequest(t, router, http.MethodGet, "/api/campaigns/camp-1/events?limit=abc", "", "5")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestValidateCampaign(t *testing.T) {
	val := &fakeValidator{report: &integrity.Report{
		Valid:        false,
		Gaps:         []integrity.Gap{{Expected: 3, Found: 5, EventID: uuid.New()}},
		TotalEvents:  4,
		LastSequence: 6,
	}}
	router := newTestRouter(&fakeEventService{}, &fakeRebuilder{}, val, &fakeMetrics{})

	rec := doRequest(t, router, http.MethodGet, "/api/campaigns/camp-1/validate", "", "5")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Report *integrity.Report `json:"report"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Report.Valid)
	require.Len(t, resp.Report.Gaps, 1)
	assert.Equal(t, int64(3), resp.Report.Gaps[0].Expected)
}

func TestGetCampaignMetricsDateFilter(t *testing.T) {
	met := &fakeMetrics{}
	router := newTestRouter(&fakeEventService{}, &fakeRebuilder{}, &fakeValidator{}, met)

	rec := doRequest(t, router, http.MethodGet, "/api/campaigns/camp-1/metrics?from=2026-01-01&to=2026-01-31", "", "5")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "camp-1", met.lastFilter.CampaignID)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), met.lastFilter.From)
	assert.Equal(t, time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC), met.lastFilter.To)

	rec = doRequest(t, router, http.MethodGet, "/api/campaigns/camp-1/metrics?from=January", "", "5")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetEventStats(t *testing.T) {
	router := newTestRouter(&fakeEventService{}, &fakeRebuilder{}, &fakeValidator{}, &fakeMetrics{})

	rec := doRequest(t, router, http.MethodGet, "/api/events/stats", "", "5")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Stats map[string]int64 `json:"stats"`
		Total int64            `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(10), resp.Stats["impression_created"])
	assert.Equal(t, int64(14), resp.Total)
}

func TestCleanupEvents(t *testing.T) {
	svc := &fakeEventService{deleted: 42}
	router := newTestRouter(svc, &fakeRebuilder{}, &fakeValidator{}, &fakeMetrics{})

	rec := doRequest(t, router, http.MethodDelete, "/api/events/cleanup?days=7", "", "5")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Deleted       int64 `json:"deleted_events"`
		RetentionDays int   `json:"retention_days"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(42), resp.Deleted)
	assert.Equal(t, 7, resp.RetentionDays)

	rec = doRequest(t, router, http.MethodDelete, "/api/events/cleanup?days=0", "", "5")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthLiveness(t *testing.T) {
	router := newTestRouter(&fakeEventService{}, &fakeRebuilder{}, &fakeValidator{}, &fakeMetrics{})

	rec := doRequest(t, router, http.MethodGet, "/health/live", "", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "alive")
}

func TestHealthReadyWithoutDatabase(t *testing.T) {
	router := newTestRouter(&fakeEventService{}, &fakeRebuilder{}, &fakeValidator{}, &fakeMetrics{})

	rec := doRequest(t, router, http.MethodGet, "/health/ready", "", "")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
