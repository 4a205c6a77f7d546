package marketdata

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/quant-core/internal/apperr"
	"github.com/aristath/quant-core/internal/database"
	"github.com/aristath/quant-core/internal/domain"
	"github.com/shopspring/decimal"
)

// SQLiteStore is the durable time-series store backing the bars database,
// satisfying the Hub's Store interface. Writes upsert on (symbol, timeframe,
// ts, source): a re-ingest of the same bar replaces the stored row only when
// its received_at is newer, and never duplicates it.
type SQLiteStore struct {
	db *database.DB
}

// NewSQLiteStore wraps an already-opened bars database handle.
func NewSQLiteStore(db *database.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// GetBars returns bars for symbol/timeframe within r, ordered by ts.
func (s *SQLiteStore) GetBars(ctx context.Context, symbol string, tf domain.Timeframe, r domain.BarRange) ([]domain.Bar, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, timeframe, ts, open, high, low, close, volume, source, received_at
		FROM bars
		WHERE symbol = ? AND timeframe = ? AND ts >= ? AND ts <= ?
		ORDER BY ts ASC
	`, symbol, string(tf), r.From.Unix(), r.To.Unix())
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstream, "query bars", err)
	}
	defer rows.Close()

	var out []domain.Bar
	for rows.Next() {
		var b domain.Bar
		var tfStr string
		var ts, receivedAt int64
		var open, high, low, closeStr, volume string
		if err := rows.Scan(&b.Symbol, &tfStr, &ts, &open, &high, &low, &closeStr, &volume, &b.Source, &receivedAt); err != nil {
			return nil, apperr.Wrap(apperr.KindUpstream, "scan bar row", err)
		}
		b.Timeframe = domain.Timeframe(tfStr)
		b.Ts = unixToUTC(ts)
		b.ReceivedAt = unixToUTC(receivedAt)
		b.Open = parseDecimalOrZero(open)
		b.High = parseDecimalOrZero(high)
		b.Low = parseDecimalOrZero(low)
		b.Close = parseDecimalOrZero(closeStr)
		b.Volume = parseDecimalOrZero(volume)
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindUpstream, "iterate bar rows", err)
	}
	return out, nil
}

// PutBars upserts bars within a single transaction. Bars are immutable
// once written in spirit (§3); the upsert exists only to make duplicate
// ingests from overlapping provider fetches idempotent.
func (s *SQLiteStore) PutBars(ctx context.Context, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	return database.WithTransaction(s.db.Conn(), func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO bars (symbol, timeframe, ts, open, high, low, close, volume, source, received_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(symbol, timeframe, ts, source) DO UPDATE SET
				open=excluded.open, high=excluded.high, low=excluded.low,
				close=excluded.close, volume=excluded.volume,
				received_at=excluded.received_at
			WHERE excluded.received_at > bars.received_at
		`)
		if err != nil {
			return fmt.Errorf("prepare bar upsert: %w", err)
		}
		defer stmt.Close()

		for _, b := range bars {
			if _, err := stmt.ExecContext(ctx,
				b.Symbol, string(b.Timeframe), b.Ts.Unix(),
				b.Open.String(), b.High.String(), b.Low.String(), b.Close.String(), b.Volume.String(),
				b.Source, b.ReceivedAt.Unix(),
			); err != nil {
				return fmt.Errorf("upsert bar %s/%s@%d: %w", b.Symbol, b.Timeframe, b.Ts.Unix(), err)
			}
		}
		return nil
	})
}

func unixToUTC(sec int64) time.Time { return time.Unix(sec, 0).UTC() }

func parseDecimalOrZero(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
