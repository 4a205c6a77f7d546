// Package portfolio implements the Portfolio Store (§4.F): the source of
// truth for positions and cash. Every mutation is transactional and writes
// an audit record in the same transaction, using SQLite's ATTACH DATABASE
// to bring the audit ledger's table into the portfolio connection's
// transaction scope (the two live in separate database files per the
// multi-database posture, so a literal single sql.Tx needs them attached
// rather than opened independently).
package portfolio

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/aristath/quant-core/internal/apperr"
	"github.com/aristath/quant-core/internal/audit"
	"github.com/aristath/quant-core/internal/database"
	"github.com/aristath/quant-core/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// auditTable is the ATTACHed-database-qualified audit table name fills are
// recorded into.
const auditTable = "auditdb.audit_records"

// Store is the Portfolio Store.
type Store struct {
	db *database.DB

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	log zerolog.Logger
}

// NewStore opens a Store against an already-migrated portfolio database and
// attaches the audit database at auditDBPath so fills and audit records
// commit atomically.
func NewStore(db *database.DB, auditDBPath string, log zerolog.Logger) (*Store, error) {
	if _, err := db.Conn().Exec(`ATTACH DATABASE ? AS auditdb`, auditDBPath); err != nil {
		return nil, apperr.Wrap(apperr.KindUpstream, "attach audit database", err)
	}
	return &Store{
		db:    db,
		locks: make(map[string]*sync.Mutex),
		log:   log.With().Str("component", "portfolio_store").Logger(),
	}, nil
}

func (s *Store) lockFor(portfolioID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[portfolioID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[portfolioID] = l
	}
	return l
}

// Get returns a snapshot of portfolioID's aggregate, positions included.
func (s *Store) Get(ctx context.Context, portfolioID string) (domain.Portfolio, error) {
	row := s.db.Conn().QueryRowContext(ctx, `
		SELECT id, owner_id, cash, currency, var_limit, max_position_weight, max_leverage, status
		FROM portfolios WHERE id = ?
	`, portfolioID)

	var p domain.Portfolio
	var cash string
	if err := row.Scan(&p.ID, &p.OwnerID, &cash, &p.Currency, &p.VarLimit, &p.MaxPositionWeight, &p.MaxLeverage, &p.Status); err != nil {
		if err == sql.ErrNoRows {
			return domain.Portfolio{}, apperr.New(apperr.KindNotFound, "portfolio "+portfolioID+" not found")
		}
		return domain.Portfolio{}, apperr.Wrap(apperr.KindUpstream, "read portfolio", err)
	}
	p.Cash = parseDecimalOrZero(cash)

	positions, err := s.GetPositions(ctx, portfolioID)
	if err != nil {
		return domain.Portfolio{}, err
	}
	p.Positions = make(map[string]domain.Position, len(positions))
	for _, pos := range positions {
		p.Positions[pos.Symbol] = pos
	}
	return p, nil
}

// GetPositions returns every position held by portfolioID.
func (s *Store) GetPositions(ctx context.Context, portfolioID string) ([]domain.Position, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT symbol, quantity, avg_cost, realized_pl, last_mark, opened_at, updated_at
		FROM positions WHERE portfolio_id = ?
	`, portfolioID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstream, "query positions", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		var pos domain.Position
		var qty, avgCost, realizedPL, lastMark string
		var openedAt, updatedAt int64
		if err := rows.Scan(&pos.Symbol, &qty, &avgCost, &realizedPL, &lastMark, &openedAt, &updatedAt); err != nil {
			return nil, apperr.Wrap(apperr.KindUpstream, "scan position", err)
		}
		pos.Quantity = parseDecimalOrZero(qty)
		pos.AvgCost = parseDecimalOrZero(avgCost)
		pos.RealizedPL = parseDecimalOrZero(realizedPL)
		pos.LastMark = parseDecimalOrZero(lastMark)
		pos.OpenedAt = time.Unix(openedAt, 0).UTC()
		pos.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		out = append(out, pos)
	}
	return out, rows.Err()
}

// ApplyFill applies one execution to portfolioID's position in symbol,
// updating quantity, weighted-average cost (on adds) or realized P/L (on
// reductions), and cash, then writing an audit record, all in one
// transaction. Concurrent fills for the same portfolio are serialized.
func (s *Store) ApplyFill(ctx context.Context, portfolioID, symbol string, side domain.OrderSide, exec domain.Execution) error {
	lock := s.lockFor(portfolioID)
	lock.Lock()
	defer lock.Unlock()

	return database.WithTransaction(s.db.Conn(), func(tx *sql.Tx) error {
		var cashStr string
		if err := tx.QueryRowContext(ctx, `SELECT cash FROM portfolios WHERE id = ?`, portfolioID).Scan(&cashStr); err != nil {
			if err == sql.ErrNoRows {
				return apperr.New(apperr.KindNotFound, "portfolio "+portfolioID+" not found")
			}
			return apperr.Wrap(apperr.KindUpstream, "read portfolio cash", err)
		}
		cash := parseDecimalOrZero(cashStr)

		before := domain.Position{Symbol: symbol}
		var qty, avgCost, realizedPL, lastMark string
		var openedAt, updatedAt int64
		err := tx.QueryRowContext(ctx, `
			SELECT quantity, avg_cost, realized_pl, last_mark, opened_at, updated_at
			FROM positions WHERE portfolio_id = ? AND symbol = ?
		`, portfolioID, symbol).Scan(&qty, &avgCost, &realizedPL, &lastMark, &openedAt, &updatedAt)
		switch err {
		case nil:
			before.Quantity = parseDecimalOrZero(qty)
			before.AvgCost = parseDecimalOrZero(avgCost)
			before.RealizedPL = parseDecimalOrZero(realizedPL)
			before.LastMark = parseDecimalOrZero(lastMark)
			before.OpenedAt = time.Unix(openedAt, 0).UTC()
			before.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		case sql.ErrNoRows:
			// no existing position: zero-value before is correct
		default:
			return apperr.Wrap(apperr.KindUpstream, "read position", err)
		}

		now := time.Now().UTC()
		after := applyFill(before, side, exec.Qty, exec.Price, now)

		signedQty := exec.Qty
		if side == domain.SideSell {
			signedQty = exec.Qty.Neg()
		}
		cashDelta := signedQty.Neg().Mul(exec.Price)
		if exec.Fees != nil {
			cashDelta = cashDelta.Sub(*exec.Fees)
		}
		if exec.Commission != nil {
			cashDelta = cashDelta.Sub(*exec.Commission)
		}
		newCash := cash.Add(cashDelta)

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO positions (portfolio_id, symbol, quantity, avg_cost, realized_pl, last_mark, opened_at, updated_at)
			VALUES (?,?,?,?,?,?,?,?)
			ON CONFLICT(portfolio_id, symbol) DO UPDATE SET
				quantity=excluded.quantity, avg_cost=excluded.avg_cost, realized_pl=excluded.realized_pl,
				last_mark=excluded.last_mark, updated_at=excluded.updated_at
		`, portfolioID, symbol, after.Quantity.String(), after.AvgCost.String(), after.RealizedPL.String(),
			after.LastMark.String(), after.OpenedAt.Unix(), after.UpdatedAt.Unix()); err != nil {
			return apperr.Wrap(apperr.KindUpstream, "upsert position", err)
		}

		if _, err := tx.ExecContext(ctx, `UPDATE portfolios SET cash = ? WHERE id = ?`, newCash.String(), portfolioID); err != nil {
			return apperr.Wrap(apperr.KindUpstream, "update portfolio cash", err)
		}

		if _, err := audit.AppendTx(ctx, tx, auditTable, audit.Record{
			Stream:       portfolioID,
			Actor:        "portfolio_store",
			Action:       "apply_fill",
			ResourceType: "position",
			ResourceID:   portfolioID + ":" + symbol,
			PrevValues:   before,
			NewValues:    after,
		}); err != nil {
			return err
		}
		return nil
	})
}

// Mark updates a position's mark price for unrealized P/L and equity
// calculations. Not an audited mutation: marks are market data, not a
// portfolio decision.
func (s *Store) Mark(ctx context.Context, portfolioID, symbol string, price decimal.Decimal) error {
	res, err := s.db.Conn().ExecContext(ctx, `
		UPDATE positions SET last_mark = ?, updated_at = ? WHERE portfolio_id = ? AND symbol = ?
	`, price.String(), time.Now().UTC().Unix(), portfolioID, symbol)
	if err != nil {
		return apperr.Wrap(apperr.KindUpstream, "mark position", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.KindNotFound, "no position for "+portfolioID+"/"+symbol)
	}
	return nil
}

// applyFill is the pure weighted-average-cost / realized-P&L transition
// (§4.F): adds to a position (same direction as the existing quantity, or
// opening one) use a weighted average cost; reductions realize P/L against
// the current average cost; a fill that crosses through zero realizes P/L
// on the closed portion and opens the remainder at this fill's price.
func applyFill(pos domain.Position, side domain.OrderSide, qty, price decimal.Decimal, now time.Time) domain.Position {
	signedQty := qty
	if side == domain.SideSell {
		signedQty = qty.Neg()
	}
	oldQty := pos.Quantity
	newQty := oldQty.Add(signedQty)

	if oldQty.Sign() == 0 || oldQty.Sign() == signedQty.Sign() {
		oldNotional := pos.AvgCost.Mul(oldQty.Abs())
		addNotional := price.Mul(qty)
		newAvgCost := decimal.Zero
		if !newQty.IsZero() {
			newAvgCost = oldNotional.Add(addNotional).Div(newQty.Abs())
		}
		pos.Quantity = newQty
		pos.AvgCost = newAvgCost
	} else {
		closingQty := decimal.Min(qty, oldQty.Abs())
		var delta decimal.Decimal
		if oldQty.Sign() > 0 {
			delta = price.Sub(pos.AvgCost).Mul(closingQty)
		} else {
			delta = pos.AvgCost.Sub(price).Mul(closingQty)
		}
		pos.RealizedPL = pos.RealizedPL.Add(delta)
		pos.Quantity = newQty
		switch {
		case newQty.IsZero():
			pos.AvgCost = decimal.Zero
		case newQty.Sign() != oldQty.Sign():
			pos.AvgCost = price // reversed through zero; remainder opens fresh
		}
	}

	if pos.OpenedAt.IsZero() {
		pos.OpenedAt = now
	}
	pos.UpdatedAt = now
	return pos
}

func parseDecimalOrZero(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
