package orders

import (
	"context"
	"time"

	"github.com/aristath/quant-core/internal/apperr"
	"github.com/aristath/quant-core/internal/domain"
	"github.com/shopspring/decimal"
)

// DefaultPollEvery and defaultWindow implement §4.H.1's reconciliation
// policy: "poll every 5s up to 10 min" for any SUBMITTED order the broker's
// event stream hasn't moved to a terminal or filled state. DefaultPollEvery
// is exported so the reconcile CLI command can size a single-shot run.
const (
	DefaultPollEvery = 5 * time.Second
	defaultWindow    = 10 * time.Minute
)

// Reconciler periodically polls brokers for orders stuck in SUBMITTED,
// covering the gap when an Ack/Fill/Cancelled event is dropped by a broker's
// websocket stream (the stream already reconnects and resubscribes on its
// own; this is the belt to that suspenders).
type Reconciler struct {
	machine    *Machine
	store      *Store
	brokerID   string
	pollEvery  time.Duration
	window     time.Duration
}

// NewReconciler builds a poller for one broker.
func NewReconciler(machine *Machine, store *Store, brokerID string) *Reconciler {
	return &Reconciler{machine: machine, store: store, brokerID: brokerID, pollEvery: DefaultPollEvery, window: defaultWindow}
}

// Run polls every pollEvery until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.pollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Reconciler) tick(ctx context.Context) {
	candidates, err := r.store.PendingReconciliation(ctx, r.pollEvery, r.window)
	if err != nil {
		r.machine.log.Error().Err(err).Msg("reconciliation query failed")
		return
	}
	broker, ok := r.machine.brokers[r.brokerID]
	if !ok {
		return
	}
	for _, order := range candidates {
		if order.BrokerOrderID == nil {
			continue
		}
		elapsed := time.Since(*order.SubmittedAt)
		result, err := broker.Poll(ctx, *order.BrokerOrderID)
		if err != nil {
			// A rejected poll (4xx, including "no such order") means the
			// broker has no record of this order: §4.H requires ERROR
			// immediately rather than waiting out the window. Any other
			// poll error (timeout, exhausted retries) only escalates once
			// the order has been SUBMITTED longer than window, so a
			// transient outage doesn't error out an order the broker will
			// still resolve once reachable again.
			if apperr.Is(err, apperr.KindRejected) || elapsed > r.window {
				r.errorOut(ctx, order, err)
				continue
			}
			r.machine.log.Warn().Err(err).Str("order_id", order.ID).Msg("reconciliation poll failed")
			continue
		}
		if elapsed > r.window && !domain.OrderStatus(result.Status).Terminal() {
			r.errorOut(ctx, order, nil)
			continue
		}
		r.reconcileOne(ctx, order, result)
	}
}

// errorOut transitions order to ERROR because the broker reported it doesn't
// exist, or because the reconciliation window elapsed without the broker
// ever reporting a terminal or filled state (§4.H).
func (r *Reconciler) errorOut(ctx context.Context, order domain.Order, cause error) {
	reason := "reconciliation window elapsed without resolution"
	if cause != nil {
		reason = "broker reports order not found: " + cause.Error()
	}
	if err := r.machine.HandleBrokerEvent(ctx, r.brokerID, domain.BrokerEvent{
		Type: domain.BrokerEventError, BrokerOrderID: *order.BrokerOrderID, Ts: time.Now().UTC(), Reason: reason,
	}); err != nil {
		r.machine.log.Error().Err(err).Str("order_id", order.ID).Msg("reconciliation error transition failed")
	}
}

// reconcileOne maps a PollResult back onto a synthetic BrokerEvent and feeds
// it through the same HandleBrokerEvent path the live stream uses, so
// reconciliation and streaming share one transition/dedup code path.
func (r *Reconciler) reconcileOne(ctx context.Context, order domain.Order, result PollResult) {
	status := domain.OrderStatus(result.Status)
	filledQty := parseDecimalOrZero(result.FilledQty)

	if filledQty.GreaterThan(order.FilledQty) {
		ev := domain.BrokerEvent{
			Type: domain.BrokerEventFill, BrokerOrderID: result.BrokerOrderID,
			BrokerExecID: reconciledExecID(order.ID, filledQty),
			Qty:          filledQty.Sub(order.FilledQty),
			Price:        referenceFillPrice(order),
			Ts:           time.Now().UTC(),
		}
		if err := r.machine.HandleBrokerEvent(ctx, r.brokerID, ev); err != nil {
			r.machine.log.Error().Err(err).Str("order_id", order.ID).Msg("reconciliation fill application failed")
		}
	}

	switch status {
	case domain.OrderCancelled, domain.OrderRejected, domain.OrderExpired, domain.OrderError:
		eventType := terminalStatusToEventType(status)
		if err := r.machine.HandleBrokerEvent(ctx, r.brokerID, domain.BrokerEvent{
			Type: eventType, BrokerOrderID: result.BrokerOrderID, Ts: time.Now().UTC(), Reason: "reconciled",
		}); err != nil {
			r.machine.log.Error().Err(err).Str("order_id", order.ID).Msg("reconciliation terminal transition failed")
		}
	}
}

func terminalStatusToEventType(status domain.OrderStatus) domain.BrokerEventType {
	switch status {
	case domain.OrderCancelled:
		return domain.BrokerEventCancelled
	case domain.OrderRejected:
		return domain.BrokerEventRejected
	case domain.OrderExpired:
		return domain.BrokerEventExpired
	default:
		return domain.BrokerEventError
	}
}

// reconciledExecID synthesizes a stable broker_exec_id for a poll-derived
// fill so it dedups correctly against any later stream event for the same
// fill (a reconnect that replays the original event will carry its own
// broker_exec_id and collide harmlessly with this synthetic one via the
// qty-already-applied check in applyFill's caller).
func reconciledExecID(orderID string, cumulativeFilled decimal.Decimal) string {
	return "reconcile:" + orderID + ":" + cumulativeFilled.String()
}

// referenceFillPrice falls back to the order's limit price, or zero for
// market orders, when a poll response doesn't carry a fill price (the broker
// schema here reports cumulative filled_qty only, not a price per poll).
func referenceFillPrice(order domain.Order) decimal.Decimal {
	if order.LimitPrice != nil {
		return *order.LimitPrice
	}
	return decimal.Zero
}
