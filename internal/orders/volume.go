package orders

import (
	"context"
	"database/sql"
	"time"

	"github.com/aristath/quant-core/internal/apperr"
	"github.com/shopspring/decimal"
)

// VolumeTracker implements risk.VolumeTracker against the orders database's
// own execution history, so the risk engine's daily-turnover limit is
// checked against what this system actually traded rather than a separate
// feed.
type VolumeTracker struct {
	db *sql.DB
}

// NewVolumeTracker builds a VolumeTracker over an already-migrated orders
// database connection.
func NewVolumeTracker(db *sql.DB) *VolumeTracker {
	return &VolumeTracker{db: db}
}

// DailyTradedNotional sums qty*price across all executions recorded today
// (UTC) for orders belonging to portfolioID.
func (v *VolumeTracker) DailyTradedNotional(ctx context.Context, portfolioID string) (decimal.Decimal, error) {
	startOfDay := time.Now().UTC().Truncate(24 * time.Hour).Unix()

	rows, err := v.db.QueryContext(ctx, `
		SELECT e.qty, e.price
		FROM executions e
		JOIN orders o ON o.id = e.order_id
		WHERE o.portfolio_id = ? AND e.ts >= ?
	`, portfolioID, startOfDay)
	if err != nil {
		return decimal.Zero, apperr.Wrap(apperr.KindUpstream, "query daily executions", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var qtyStr, priceStr string
		if err := rows.Scan(&qtyStr, &priceStr); err != nil {
			return decimal.Zero, apperr.Wrap(apperr.KindIntegrity, "scan execution row", err)
		}
		qty, err := decimal.NewFromString(qtyStr)
		if err != nil {
			return decimal.Zero, apperr.Wrap(apperr.KindIntegrity, "parse execution qty", err)
		}
		price, err := decimal.NewFromString(priceStr)
		if err != nil {
			return decimal.Zero, apperr.Wrap(apperr.KindIntegrity, "parse execution price", err)
		}
		total = total.Add(qty.Mul(price))
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, apperr.Wrap(apperr.KindUpstream, "iterate execution rows", err)
	}
	return total, nil
}
