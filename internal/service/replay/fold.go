package replay

import (
	"sort"
	"time"

	"github.com/ignite/adtrack/internal/domain"
	"github.com/ignite/adtrack/internal/pkg/logger"
	"github.com/shopspring/decimal"
)

// DayMetrics is the folded state of one UTC day of a campaign's stream.
type DayMetrics struct {
	Impressions int64           `json:"impressions"`
	Clicks      int64           `json:"clicks"`
	Conversions int64           `json:"conversions"`
	Spend       decimal.Decimal `json:"spend"`
	UniqueUsers int64           `json:"unique_users"`
}

// Totals is the whole-stream rollup. UniqueUsers here is the cardinality of
// the union across days, not the sum of per-day counts.
type Totals struct {
	Impressions int64           `json:"impressions"`
	Clicks      int64           `json:"clicks"`
	Conversions int64           `json:"conversions"`
	Spend       decimal.Decimal `json:"spend"`
	UniqueUsers int64           `json:"unique_users"`
}

// Result reports one replay run. EventsProcessed counts every event seen,
// including unknown types; EventsSkipped counts events whose payloads could
// not be interpreted and therefore contributed nothing to any bucket.
type Result struct {
	EventsProcessed int                   `json:"events_processed"`
	EventsSkipped   int                   `json:"events_skipped"`
	Totals          Totals                `json:"totals"`
	Days            map[string]DayMetrics `json:"metrics_by_date"`
}

type dayBucket struct {
	impressions int64
	clicks      int64
	conversions int64
	spend       decimal.Decimal
	users       map[string]struct{}
}

type foldState struct {
	days       map[string]*dayBucket
	totalUsers map[string]struct{}
	processed  int
	skipped    int
}

// fold replays an ordered event stream into per-day buckets. It is a pure
// function of the events: no wall clock, no randomness, no stored state, so
// folding the same stream twice yields identical output.
func fold(events []domain.Event) *foldState {
	st := &foldState{
		days:       make(map[string]*dayBucket),
		totalUsers: make(map[string]struct{}),
	}

	for i := range events {
		ev := &events[i]
		st.processed++

		switch ev.EventType {
		case domain.EventImpressionCreated:
			st.applyImpression(ev)
		case domain.EventClickRegistered:
			st.applyClick(ev)
		case domain.EventConversionTracked:
			st.applyConversion(ev)
		default:
			// Forward compatibility: a newer writer may have appended a type
			// this version does not know. Skip it, keep folding.
			logger.Debug("skipping unknown event type",
				"event_type", string(ev.EventType),
				"aggregate_id", ev.AggregateID,
				"sequence", ev.SequenceNumber)
		}
	}
	return st
}

func (st *foldState) bucket(ev *domain.Event) *dayBucket {
	key := domain.DayKey(ev.Timestamp)
	b, ok := st.days[key]
	if !ok {
		b = &dayBucket{spend: decimal.Zero, users: make(map[string]struct{})}
		st.days[key] = b
	}
	return b
}

func (st *foldState) addUser(b *dayBucket, ev *domain.Event) {
	if user, ok := domain.UserIDField(ev.Payload, "user_id"); ok {
		b.users[user] = struct{}{}
		st.totalUsers[user] = struct{}{}
	}
}

func (st *foldState) applyImpression(ev *domain.Event) {
	if ev.Payload == nil {
		st.skip(ev, "nil payload")
		return
	}
	cost := decimal.Zero
	if _, present := ev.Payload["cost"]; present {
		parsed, err := domain.DecimalField(ev.Payload, "cost")
		if err != nil {
			st.skip(ev, "bad cost")
			return
		}
		cost = parsed
	}
	b := st.bucket(ev)
	b.impressions++
	b.spend = b.spend.Add(cost)
	st.addUser(b, ev)
}

func (st *foldState) applyClick(ev *domain.Event) {
	if ev.Payload == nil {
		st.skip(ev, "nil payload")
		return
	}
	b := st.bucket(ev)
	b.clicks++
	st.addUser(b, ev)
}

func (st *foldState) applyConversion(ev *domain.Event) {
	// Conversions are tracked separately from spend; conversion_value is
	// informational and never added to ad spend. An empty payload is still a
	// countable conversion.
	b := st.bucket(ev)
	b.conversions++
	if ev.Payload != nil {
		st.addUser(b, ev)
	}
}

// skip records a malformed event: one warning, no metric contribution, and
// the fold continues. A single bad record must never abort a whole replay.
func (st *foldState) skip(ev *domain.Event, reason string) {
	st.skipped++
	logger.Warn("skipping malformed event during replay",
		"reason", reason,
		"event_type", string(ev.EventType),
		"aggregate_id", ev.AggregateID,
		"sequence", ev.SequenceNumber)
}

// result converts the folded state into the caller-facing report.
func (st *foldState) result() *Result {
	res := &Result{
		EventsProcessed: st.processed,
		EventsSkipped:   st.skipped,
		Totals: Totals{
			Spend:       decimal.Zero,
			UniqueUsers: int64(len(st.totalUsers)),
		},
		Days: make(map[string]DayMetrics, len(st.days)),
	}
	for key, b := range st.days {
		res.Days[key] = DayMetrics{
			Impressions: b.impressions,
			Clicks:      b.clicks,
			Conversions: b.conversions,
			Spend:       b.spend,
			UniqueUsers: int64(len(b.users)),
		}
		res.Totals.Impressions += b.impressions
		res.Totals.Clicks += b.clicks
		res.Totals.Conversions += b.conversions
		res.Totals.Spend = res.Totals.Spend.Add(b.spend)
	}
	return res
}

func parseDayKey(key string) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", key, time.UTC)
}

// rows converts the folded state into projection rows, sorted by date so the
// insert order (and any failure point) is deterministic.
func (st *foldState) rows(tenantID int64, campaignID string) []domain.MetricsRow {
	keys := make([]string, 0, len(st.days))
	for key := range st.days {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]domain.MetricsRow, 0, len(keys))
	for _, key := range keys {
		b := st.days[key]
		date, _ := parseDayKey(key)
		out = append(out, domain.MetricsRow{
			TenantID:    tenantID,
			CampaignID:  campaignID,
			Date:        date,
			Impressions: b.impressions,
			Clicks:      b.clicks,
			Conversions: b.conversions,
			Spend:       b.spend,
			UniqueUsers: int64(len(b.users)),
		})
	}
	return out
}
