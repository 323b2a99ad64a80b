package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MetricsRow is one row of the campaign metrics projection: the fold of a
// single UTC day of a campaign's event stream. The projection is disposable;
// the event log is the source of truth and every row is fully derivable from
// it by replay.
type MetricsRow struct {
	TenantID    int64           `json:"tenant_id"`
	CampaignID  string          `json:"campaign_id"`
	Date        time.Time       `json:"date"` // UTC midnight of the bucket day
	Impressions int64           `json:"impressions"`
	Clicks      int64           `json:"clicks"`
	Conversions int64           `json:"conversions"`
	Spend       decimal.Decimal `json:"spend"`
	UniqueUsers int64           `json:"unique_users"`
}

// Day truncates t to its UTC calendar day, the bucket key used by the
// projection. Replay must bucket by event time, never by wall clock.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DayKey formats a bucket day as YYYY-MM-DD for JSON responses and map keys.
func DayKey(t time.Time) string {
	return Day(t).Format("2006-01-02")
}
