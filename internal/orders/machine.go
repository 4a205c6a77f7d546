package orders

import (
	"context"
	"sync"
	"time"

	"github.com/aristath/quant-core/internal/apperr"
	"github.com/aristath/quant-core/internal/audit"
	"github.com/aristath/quant-core/internal/domain"
	"github.com/aristath/quant-core/internal/events"
	"github.com/aristath/quant-core/internal/execution/broker"
	"github.com/aristath/quant-core/internal/portfolio"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// PollResult is broker.PollResult, re-exported so callers outside this
// package's dependents don't need a second import for it.
type PollResult = broker.PollResult

// Broker is the subset of internal/execution/broker.Client the Machine
// drives. Kept narrow so it can also be satisfied by a fake in tests
// without pulling in the HTTP client.
type Broker interface {
	Submit(ctx context.Context, order domain.Order) (brokerOrderID string, err error)
	Cancel(ctx context.Context, brokerOrderID string) error
	Poll(ctx context.Context, brokerOrderID string) (broker.PollResult, error)
}

// validTransitions is the §4.H state machine's adjacency list.
var validTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderPending: {
		domain.OrderSubmitted, domain.OrderRejected, domain.OrderError,
	},
	domain.OrderSubmitted: {
		domain.OrderPartiallyFilled, domain.OrderFilled, domain.OrderCancelling,
		domain.OrderCancelled, domain.OrderRejected, domain.OrderExpired, domain.OrderError,
	},
	domain.OrderPartiallyFilled: {
		domain.OrderSubmitted, domain.OrderPartiallyFilled, domain.OrderFilled,
		domain.OrderCancelling, domain.OrderCancelled, domain.OrderExpired, domain.OrderError,
	},
	domain.OrderCancelling: {
		domain.OrderCancelled, domain.OrderFilled, domain.OrderPartiallyFilled, domain.OrderError,
	},
}

func transitionAllowed(from, to domain.OrderStatus) bool {
	if from == to {
		return true
	}
	for _, candidate := range validTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// Machine is the Order State Machine (§4.H): it owns every order transition,
// consumes broker events, and is the only writer of order/execution rows.
type Machine struct {
	store     *Store
	risk      domain.RiskService
	portfolio *portfolio.Store
	brokers   map[string]Broker
	audit     *audit.Log
	bus       *events.Bus
	log       zerolog.Logger

	orderLocksMu sync.Mutex
	orderLocks   map[string]*sync.Mutex
}

// NewMachine wires a Machine. brokers maps broker ID to the adapter used to
// submit/cancel/poll orders routed to it.
func NewMachine(store *Store, risk domain.RiskService, pf *portfolio.Store, brokers map[string]Broker, auditLog *audit.Log, bus *events.Bus, log zerolog.Logger) *Machine {
	return &Machine{
		store:      store,
		risk:       risk,
		portfolio:  pf,
		brokers:    brokers,
		audit:      auditLog,
		bus:        bus,
		log:        log.With().Str("component", "order_machine").Logger(),
		orderLocks: make(map[string]*sync.Mutex),
	}
}

func (m *Machine) lockFor(orderID string) *sync.Mutex {
	m.orderLocksMu.Lock()
	defer m.orderLocksMu.Unlock()
	l, ok := m.orderLocks[orderID]
	if !ok {
		l = &sync.Mutex{}
		m.orderLocks[orderID] = l
	}
	return l
}

// SubmitOrder runs the risk gate, persists the order PENDING, submits it to
// its broker, and advances it to SUBMITTED. Satisfies domain.OrderService.
func (m *Machine) SubmitOrder(ctx context.Context, order domain.Order) (string, error) {
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	if order.Status == "" {
		order.Status = domain.OrderPending
	}

	if err := m.risk.CheckRisk(ctx, order.PortfolioID, order); err != nil {
		if m.bus != nil {
			m.bus.Publish(events.Event{
				Type: events.RiskRejected, Timestamp: time.Now().UTC(), Component: "order_machine",
				Data: &events.RiskRejectedData{PortfolioID: order.PortfolioID, Symbol: order.Symbol, Reason: apperr.ReasonOf(err)},
			})
		}
		return "", err
	}

	if err := m.store.Create(ctx, order); err != nil {
		return "", err
	}

	brokerID := ""
	if order.BrokerID != nil {
		brokerID = *order.BrokerID
	}
	broker, ok := m.brokers[brokerID]
	if !ok {
		order.Status = domain.OrderError
		errMsg := "no broker adapter registered for id " + brokerID
		order.Error = &errMsg
		now := time.Now().UTC()
		order.TerminalAt = &now
		_ = m.store.Save(ctx, order)
		return "", apperr.New(apperr.KindValidation, errMsg)
	}

	brokerOrderID, err := broker.Submit(ctx, order)
	if err != nil {
		order.Status = domain.OrderRejected
		errMsg := err.Error()
		order.Error = &errMsg
		now := time.Now().UTC()
		order.TerminalAt = &now
		_ = m.store.Save(ctx, order)
		m.appendAudit(ctx, order.PortfolioID, "order_rejected", order.ID, nil, order)
		return "", err
	}

	from := order.Status
	order.Status = domain.OrderSubmitted
	order.BrokerOrderID = &brokerOrderID
	now := time.Now().UTC()
	order.SubmittedAt = &now
	if err := m.store.Save(ctx, order); err != nil {
		return "", err
	}
	m.publishStatusChange(order.ID, from, order.Status, "")
	if m.bus != nil {
		m.bus.Publish(events.Event{
			Type: events.OrderSubmitted, Timestamp: now, Component: "order_machine",
			Data: &events.OrderSubmittedData{OrderID: order.ID, PortfolioID: order.PortfolioID, Symbol: order.Symbol, Side: string(order.Side), Strategy: string(order.Strategy)},
		})
	}
	m.appendAudit(ctx, order.PortfolioID, "order_submitted", order.ID, nil, order)
	return order.ID, nil
}

// CancelOrder requests cancellation of orderID. The order moves to
// CANCELLING until the broker confirms via a Cancelled event or poll.
// Satisfies domain.OrderService.
func (m *Machine) CancelOrder(ctx context.Context, orderID string) error {
	lock := m.lockFor(orderID)
	lock.Lock()
	defer lock.Unlock()

	order, err := m.store.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status.Terminal() {
		return apperr.New(apperr.KindTerminal, "order "+orderID+" already terminal")
	}
	if order.BrokerOrderID == nil {
		return apperr.New(apperr.KindValidation, "order "+orderID+" was never submitted to a broker")
	}
	brokerID := ""
	if order.BrokerID != nil {
		brokerID = *order.BrokerID
	}
	broker, ok := m.brokers[brokerID]
	if !ok {
		return apperr.New(apperr.KindValidation, "no broker adapter registered for id "+brokerID)
	}

	if !transitionAllowed(order.Status, domain.OrderCancelling) {
		return apperr.New(apperr.KindValidation, "cannot cancel order in status "+string(order.Status))
	}
	if err := broker.Cancel(ctx, *order.BrokerOrderID); err != nil {
		return apperr.Wrap(apperr.KindUpstream, "cancel order at broker", err)
	}

	from := order.Status
	order.Status = domain.OrderCancelling
	if err := m.store.Save(ctx, order); err != nil {
		return err
	}
	m.publishStatusChange(order.ID, from, order.Status, "cancel requested")
	return nil
}

// HandleBrokerEvent consumes one normalized broker event and applies it to
// the order it targets. This is the single entry point that turns
// broker.EventStream output into state transitions (§4.H); events for
// unknown broker_order_ids are logged and dropped rather than erroring, since
// a reconnect can replay events for orders this instance never submitted.
func (m *Machine) HandleBrokerEvent(ctx context.Context, brokerID string, ev domain.BrokerEvent) error {
	order, err := m.store.GetByBrokerOrderID(ctx, brokerID, ev.BrokerOrderID)
	if err != nil {
		m.log.Warn().Str("broker_order_id", ev.BrokerOrderID).Msg("broker event for unknown order, dropped")
		return nil
	}

	lock := m.lockFor(order.ID)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under lock: another goroutine may have mutated it since GetByBrokerOrderID.
	order, err = m.store.Get(ctx, order.ID)
	if err != nil {
		return err
	}
	if order.Status.Terminal() {
		return nil
	}

	switch ev.Type {
	case domain.BrokerEventAck:
		return m.applyAck(ctx, order)
	case domain.BrokerEventFill:
		return m.applyFill(ctx, order, ev)
	case domain.BrokerEventCancelled:
		return m.applyTerminal(ctx, order, domain.OrderCancelled, ev.Reason)
	case domain.BrokerEventRejected:
		return m.applyTerminal(ctx, order, domain.OrderRejected, ev.Reason)
	case domain.BrokerEventExpired:
		return m.applyTerminal(ctx, order, domain.OrderExpired, ev.Reason)
	case domain.BrokerEventError:
		return m.applyTerminal(ctx, order, domain.OrderError, ev.Reason)
	}
	return nil
}

func (m *Machine) applyAck(ctx context.Context, order domain.Order) error {
	if order.Status != domain.OrderPending {
		return nil
	}
	from := order.Status
	order.Status = domain.OrderSubmitted
	if err := m.store.Save(ctx, order); err != nil {
		return err
	}
	m.publishStatusChange(order.ID, from, order.Status, "")
	return nil
}

// applyFill records exec (deduplicated by broker_exec_id), updates the
// order's filled_qty and weighted-average avg_fill_price, transitions to
// PARTIALLY_FILLED or FILLED, and applies the fill to the portfolio. The
// order row is saved before the portfolio is updated; if the portfolio
// update fails, the error is returned with the order row already saved, and
// nothing re-applies that fill to the portfolio later.
func (m *Machine) applyFill(ctx context.Context, order domain.Order, ev domain.BrokerEvent) error {
	exec := domain.Execution{
		ID:           uuid.NewString(),
		OrderID:      order.ID,
		Qty:          ev.Qty,
		Price:        ev.Price,
		Ts:           ev.Ts,
		BrokerExecID: ev.BrokerExecID,
	}
	applied, err := m.store.RecordExecution(ctx, order.ID, exec)
	if err != nil {
		return err
	}
	if !applied {
		return nil // already processed this fill (broker_exec_id dedup)
	}

	prevFilled := order.FilledQty
	newFilled := order.FilledQty.Add(ev.Qty)
	order.AvgFillPrice = weightedAvgPrice(order.AvgFillPrice, prevFilled, ev.Price, ev.Qty)
	order.FilledQty = newFilled

	from := order.Status
	if newFilled.GreaterThanOrEqual(order.Qty) {
		order.Status = domain.OrderFilled
		now := time.Now().UTC()
		order.TerminalAt = &now
	} else {
		order.Status = domain.OrderPartiallyFilled
	}
	if err := m.store.Save(ctx, order); err != nil {
		return err
	}

	if err := m.portfolio.ApplyFill(ctx, order.PortfolioID, order.Symbol, order.Side, exec); err != nil {
		m.log.Error().Err(err).Str("order_id", order.ID).Msg("failed to apply fill to portfolio")
		return err
	}

	if from != order.Status {
		m.publishStatusChange(order.ID, from, order.Status, "")
	}
	if m.bus != nil {
		var avgStr *string
		if order.AvgFillPrice != nil {
			s := order.AvgFillPrice.String()
			avgStr = &s
		}
		m.bus.Publish(events.Event{
			Type: events.OrderFilled, Timestamp: time.Now().UTC(), Component: "order_machine",
			Data: &events.OrderFilledData{
				OrderID: order.ID, ExecutionID: exec.ID, Qty: ev.Qty.String(), Price: ev.Price.String(),
				FilledQty: order.FilledQty.String(), AvgFillPrice: avgStr,
			},
		})
	}
	m.appendAudit(ctx, order.PortfolioID, "order_filled", order.ID, nil, order)
	return nil
}

func (m *Machine) applyTerminal(ctx context.Context, order domain.Order, status domain.OrderStatus, reason string) error {
	if !transitionAllowed(order.Status, status) {
		m.log.Warn().Str("order_id", order.ID).Str("from", string(order.Status)).Str("to", string(status)).Msg("ignoring disallowed transition")
		return nil
	}
	from := order.Status
	order.Status = status
	now := time.Now().UTC()
	order.TerminalAt = &now
	if reason != "" {
		order.Error = &reason
	}
	if err := m.store.Save(ctx, order); err != nil {
		return err
	}
	m.publishStatusChange(order.ID, from, order.Status, reason)
	m.appendAudit(ctx, order.PortfolioID, "order_"+string(status), order.ID, nil, order)
	return nil
}

// weightedAvgPrice folds a new fill into the running average fill price.
func weightedAvgPrice(prevAvg *decimal.Decimal, prevQty decimal.Decimal, fillPrice, fillQty decimal.Decimal) *decimal.Decimal {
	if prevAvg == nil || prevQty.IsZero() {
		avg := fillPrice
		return &avg
	}
	prevNotional := prevAvg.Mul(prevQty)
	newNotional := prevNotional.Add(fillPrice.Mul(fillQty))
	newQty := prevQty.Add(fillQty)
	if newQty.IsZero() {
		return prevAvg
	}
	avg := newNotional.Div(newQty)
	return &avg
}

func (m *Machine) publishStatusChange(orderID string, from, to domain.OrderStatus, reason string) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(events.Event{
		Type: events.OrderStatusChanged, Timestamp: time.Now().UTC(), Component: "order_machine",
		Data: &events.OrderStatusChangedData{OrderID: orderID, From: string(from), To: string(to), Reason: reason},
	})
}

func (m *Machine) appendAudit(ctx context.Context, portfolioID, action, orderID string, prev any, next any) {
	if m.audit == nil {
		return
	}
	if _, err := m.audit.Append(ctx, audit.Record{
		Stream: portfolioID, Actor: "order_machine", Action: action,
		ResourceType: "order", ResourceID: orderID, PrevValues: prev, NewValues: next,
	}); err != nil {
		m.log.Error().Err(err).Str("order_id", orderID).Msg("failed to append audit record")
	}
}
