package predictors

import (
	"context"
	"time"

	"github.com/aristath/quant-core/internal/apperr"
	"github.com/aristath/quant-core/internal/database"
	"github.com/aristath/quant-core/internal/domain"
)

func unixToUTC(sec int64) time.Time { return time.Unix(sec, 0).UTC() }

// SignalStore persists every Signal the Dispatcher emits to the signals
// database, giving the prediction history an audit trail independent of
// whatever consumed the signal downstream (a strategy, a human operator).
type SignalStore struct {
	db *database.DB
}

// NewSignalStore wraps an already-migrated signals database connection.
func NewSignalStore(db *database.DB) *SignalStore {
	return &SignalStore{db: db}
}

// Record inserts one signal row. Signal IDs are caller-assigned and unique,
// so a duplicate Record call is a bug upstream, not something to silently
// tolerate here.
func (s *SignalStore) Record(ctx context.Context, sig domain.Signal) error {
	var targetPrice, stopLoss any
	if sig.TargetPrice != nil {
		targetPrice = *sig.TargetPrice
	}
	if sig.StopLoss != nil {
		stopLoss = *sig.StopLoss
	}
	_, err := s.db.Conn().ExecContext(ctx, `
		INSERT INTO signals (id, predictor_id, symbol, ts, direction, strength, confidence,
			horizon_bars, target_price, stop_loss, expires_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)
	`, sig.ID, sig.PredictorID, sig.Symbol, sig.Ts.Unix(), string(sig.Direction), sig.Strength, sig.Confidence,
		sig.HorizonBars, targetPrice, stopLoss, sig.ExpiresAt.Unix())
	if err != nil {
		return apperr.Wrap(apperr.KindUpstream, "insert signal", err)
	}
	return nil
}

// Recent returns the most recent signals for symbol, newest first, capped at limit.
func (s *SignalStore) Recent(ctx context.Context, symbol string, limit int) ([]domain.Signal, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT id, predictor_id, symbol, ts, direction, strength, confidence, horizon_bars,
			target_price, stop_loss, expires_at
		FROM signals WHERE symbol = ? ORDER BY ts DESC LIMIT ?
	`, symbol, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstream, "query recent signals", err)
	}
	defer rows.Close()

	var out []domain.Signal
	for rows.Next() {
		var sig domain.Signal
		var ts, expiresAt int64
		var targetPrice, stopLoss *float64
		if err := rows.Scan(&sig.ID, &sig.PredictorID, &sig.Symbol, &ts, &sig.Direction, &sig.Strength,
			&sig.Confidence, &sig.HorizonBars, &targetPrice, &stopLoss, &expiresAt); err != nil {
			return nil, apperr.Wrap(apperr.KindIntegrity, "scan signal row", err)
		}
		sig.Ts = unixToUTC(ts)
		sig.ExpiresAt = unixToUTC(expiresAt)
		sig.TargetPrice = targetPrice
		sig.StopLoss = stopLoss
		out = append(out, sig)
	}
	return out, rows.Err()
}
