// Package orders implements the Order State Machine (§4.H): the hardest
// part of the system. Store is persistence; Machine is the transition
// logic and broker-event consumer.
package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/aristath/quant-core/internal/apperr"
	"github.com/aristath/quant-core/internal/database"
	"github.com/aristath/quant-core/internal/domain"
	"github.com/shopspring/decimal"
)

// Store persists orders and their executions to the orders database.
type Store struct {
	db *database.DB
}

// NewStore wraps an already-migrated orders database connection.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new order row in its current status (normally PENDING).
func (s *Store) Create(ctx context.Context, o domain.Order) error {
	params, err := json.Marshal(o.StrategyParams)
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, "encode strategy params", err)
	}
	_, err = s.db.Conn().ExecContext(ctx, `
		INSERT INTO orders (id, parent_id, portfolio_id, symbol, side, type, qty, limit_price, stop_price,
			tif, strategy, strategy_params, status, filled_qty, avg_fill_price, broker_id, broker_order_id,
			created_at, submitted_at, terminal_at, error)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
	`, o.ID, nullableString(o.ParentID), o.PortfolioID, o.Symbol, o.Side, o.Type, o.Qty.String(),
		nullableDecimal(o.LimitPrice), nullableDecimal(o.StopPrice), o.TIF, o.Strategy, string(params),
		o.Status, o.FilledQty.String(), nullableDecimal(o.AvgFillPrice), nullableString(o.BrokerID),
		nullableString(o.BrokerOrderID), o.CreatedAt.Unix(), nullableTime(o.SubmittedAt), nullableTime(o.TerminalAt),
		nullableString(o.Error))
	if err != nil {
		return apperr.Wrap(apperr.KindUpstream, "insert order", err)
	}
	return nil
}

// Get returns order orderID.
func (s *Store) Get(ctx context.Context, orderID string) (domain.Order, error) {
	row := s.db.Conn().QueryRowContext(ctx, orderSelectSQL+` WHERE id = ?`, orderID)
	return scanOrder(row)
}

// GetByBrokerOrderID looks up the order a broker event belongs to.
func (s *Store) GetByBrokerOrderID(ctx context.Context, brokerID, brokerOrderID string) (domain.Order, error) {
	row := s.db.Conn().QueryRowContext(ctx, orderSelectSQL+` WHERE broker_id = ? AND broker_order_id = ?`, brokerID, brokerOrderID)
	return scanOrder(row)
}

// Children returns every child order of parentID, e.g. the live slices of an
// execution-strategy parent (§4.I).
func (s *Store) Children(ctx context.Context, parentID string) ([]domain.Order, error) {
	rows, err := s.db.Conn().QueryContext(ctx, orderSelectSQL+` WHERE parent_id = ? ORDER BY created_at ASC`, parentID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstream, "query child orders", err)
	}
	defer rows.Close()
	var out []domain.Order
	for rows.Next() {
		o, err := scanOrderRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// PendingReconciliation returns every SUBMITTED order whose submitted_at is
// at least pollEvery in the past (§4.H.1: "poll every 5s up to 10 min").
// Unlike an earlier version of this query, there is no upper bound on age:
// an order that has been SUBMITTED for longer than window is still a
// candidate, so tick() can escalate it to ERROR instead of silently
// abandoning it once it ages out of a bounded window.
func (s *Store) PendingReconciliation(ctx context.Context, pollEvery, window time.Duration) ([]domain.Order, error) {
	now := time.Now().UTC()
	newestEligible := now.Add(-pollEvery).Unix()
	rows, err := s.db.Conn().QueryContext(ctx, orderSelectSQL+`
		WHERE status = ? AND submitted_at IS NOT NULL AND submitted_at <= ?
	`, domain.OrderSubmitted, newestEligible)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstream, "query reconciliation candidates", err)
	}
	defer rows.Close()
	var out []domain.Order
	for rows.Next() {
		o, err := scanOrderRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Save overwrites orderID's full row, used after every transition.
func (s *Store) Save(ctx context.Context, o domain.Order) error {
	params, err := json.Marshal(o.StrategyParams)
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, "encode strategy params", err)
	}
	_, err = s.db.Conn().ExecContext(ctx, `
		UPDATE orders SET status=?, filled_qty=?, avg_fill_price=?, broker_id=?, broker_order_id=?,
			submitted_at=?, terminal_at=?, error=?, strategy_params=?
		WHERE id = ?
	`, o.Status, o.FilledQty.String(), nullableDecimal(o.AvgFillPrice), nullableString(o.BrokerID),
		nullableString(o.BrokerOrderID), nullableTime(o.SubmittedAt), nullableTime(o.TerminalAt),
		nullableString(o.Error), string(params), o.ID)
	if err != nil {
		return apperr.Wrap(apperr.KindUpstream, "update order", err)
	}
	return nil
}

// RecordExecution inserts exec for orderID, deduplicated by broker_exec_id
// (§4.H: "Fill events are deduplicated by broker_exec_id"). Returns
// applied=false if this execution was already recorded.
func (s *Store) RecordExecution(ctx context.Context, orderID string, exec domain.Execution) (applied bool, err error) {
	res, err := s.db.Conn().ExecContext(ctx, `
		INSERT INTO executions (id, order_id, qty, price, ts, venue, broker_exec_id, fees, commission)
		VALUES (?,?,?,?,?,?,?,?,?)
		ON CONFLICT(broker_exec_id) DO NOTHING
	`, exec.ID, orderID, exec.Qty.String(), exec.Price.String(), exec.Ts.Unix(), nullableString(exec.Venue),
		exec.BrokerExecID, nullableDecimal(exec.Fees), nullableDecimal(exec.Commission))
	if err != nil {
		return false, apperr.Wrap(apperr.KindUpstream, "insert execution", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperr.Wrap(apperr.KindUpstream, "check execution insert", err)
	}
	return n > 0, nil
}

const orderSelectSQL = `
	SELECT id, parent_id, portfolio_id, symbol, side, type, qty, limit_price, stop_price, tif, strategy,
		strategy_params, status, filled_qty, avg_fill_price, broker_id, broker_order_id, created_at,
		submitted_at, terminal_at, error
	FROM orders`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row *sql.Row) (domain.Order, error) {
	o, err := scanOrderRows(row)
	if err == sql.ErrNoRows {
		return domain.Order{}, apperr.New(apperr.KindNotFound, "order not found")
	}
	return o, err
}

func scanOrderRows(row rowScanner) (domain.Order, error) {
	var o domain.Order
	var parentID, limitPrice, stopPrice, avgFillPrice, brokerID, brokerOrderID, errMsg sql.NullString
	var params string
	var qty, filledQty string
	var submittedAt, terminalAt sql.NullInt64
	var createdAt int64

	if err := row.Scan(&o.ID, &parentID, &o.PortfolioID, &o.Symbol, &o.Side, &o.Type, &qty, &limitPrice,
		&stopPrice, &o.TIF, &o.Strategy, &params, &o.Status, &filledQty, &avgFillPrice, &brokerID,
		&brokerOrderID, &createdAt, &submittedAt, &terminalAt, &errMsg); err != nil {
		if err == sql.ErrNoRows {
			return domain.Order{}, err
		}
		return domain.Order{}, apperr.Wrap(apperr.KindUpstream, "scan order", err)
	}

	o.Qty = parseDecimalOrZero(qty)
	o.FilledQty = parseDecimalOrZero(filledQty)
	o.CreatedAt = time.Unix(createdAt, 0).UTC()
	if parentID.Valid {
		o.ParentID = &parentID.String
	}
	if limitPrice.Valid {
		d := parseDecimalOrZero(limitPrice.String)
		o.LimitPrice = &d
	}
	if stopPrice.Valid {
		d := parseDecimalOrZero(stopPrice.String)
		o.StopPrice = &d
	}
	if avgFillPrice.Valid {
		d := parseDecimalOrZero(avgFillPrice.String)
		o.AvgFillPrice = &d
	}
	if brokerID.Valid {
		o.BrokerID = &brokerID.String
	}
	if brokerOrderID.Valid {
		o.BrokerOrderID = &brokerOrderID.String
	}
	if submittedAt.Valid {
		t := time.Unix(submittedAt.Int64, 0).UTC()
		o.SubmittedAt = &t
	}
	if terminalAt.Valid {
		t := time.Unix(terminalAt.Int64, 0).UTC()
		o.TerminalAt = &t
	}
	if errMsg.Valid {
		o.Error = &errMsg.String
	}
	if params != "" {
		_ = json.Unmarshal([]byte(params), &o.StrategyParams)
	}
	return o, nil
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullableDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func parseDecimalOrZero(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
