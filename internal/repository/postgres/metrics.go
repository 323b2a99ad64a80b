package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ignite/adtrack/internal/domain"
	"github.com/shopspring/decimal"
)

func decimalFromDB(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}

// MetricsRepo persists the campaign metrics projection. It is written by the
// replay engine only; every other caller is read-only. That single-writer
// rule is what keeps the projection consistent with the event log.
type MetricsRepo struct{ db *sql.DB }

// NewMetricsRepo creates a Postgres-backed metrics repository.
func NewMetricsRepo(db *sql.DB) *MetricsRepo { return &MetricsRepo{db: db} }

// ReplaceAggregateRows deletes every projection row for the aggregate and
// inserts the freshly folded set inside one transaction. Readers observe
// either the old complete set or the new complete set, never a mix; on any
// failure the rollback leaves the old rows intact.
func (r *MetricsRepo) ReplaceAggregateRows(ctx context.Context, tenantID int64, campaignID string, metricsRows []domain.MetricsRow) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		DELETE FROM campaign_metrics WHERE tenant_id = $1 AND campaign_id = $2
	`, tenantID, campaignID)
	if err != nil {
		return fmt.Errorf("delete metrics: %w", err)
	}

	for _, row := range metricsRows {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO campaign_metrics
				(tenant_id, campaign_id, date, impressions, clicks, conversions, spend, unique_users)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, row.TenantID, row.CampaignID, row.Date, row.Impressions, row.Clicks,
			row.Conversions, row.Spend.StringFixed(2), row.UniqueUsers)
		if err != nil {
			return fmt.Errorf("insert metrics row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace: %w", err)
	}
	return nil
}

// QueryFilter narrows a projection read. From/To bound the bucket date
// inclusively; zero values leave that side unbounded.
type QueryFilter struct {
	CampaignID string
	From       time.Time
	To         time.Time
}

// Query returns projection rows for a tenant ordered by campaign and date.
func (r *MetricsRepo) Query(ctx context.Context, tenantID int64, f QueryFilter) ([]domain.MetricsRow, error) {
	q := `
		SELECT tenant_id, campaign_id, date, impressions, clicks, conversions, spend, unique_users
		FROM campaign_metrics
		WHERE tenant_id = $1`
	args := []interface{}{tenantID}
	idx := 2

	if f.CampaignID != "" {
		q += fmt.Sprintf(" AND campaign_id = $%d", idx)
		args = append(args, f.CampaignID)
		idx++
	}
	if !f.From.IsZero() {
		q += fmt.Sprintf(" AND date >= $%d", idx)
		args = append(args, domain.Day(f.From))
		idx++
	}
	if !f.To.IsZero() {
		q += fmt.Sprintf(" AND date <= $%d", idx)
		args = append(args, domain.Day(f.To))
		idx++
	}
	q += " ORDER BY campaign_id, date"

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}
	defer rows.Close()

	var out []domain.MetricsRow
	for rows.Next() {
		var m domain.MetricsRow
		var spend string
		if err := rows.Scan(&m.TenantID, &m.CampaignID, &m.Date, &m.Impressions,
			&m.Clicks, &m.Conversions, &spend, &m.UniqueUsers); err != nil {
			return nil, fmt.Errorf("scan metrics row: %w", err)
		}
		if m.Spend, err = decimalFromDB(spend); err != nil {
			return nil, fmt.Errorf("parse spend: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
