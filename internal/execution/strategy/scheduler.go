// Package strategy implements Execution Strategies (§4.I): decomposing a
// parent order into scheduled child orders per market/limit/twap/vwap/
// iceberg/pov, and propagating parent cancellation to the live child.
package strategy

import (
	"context"
	"sync"
	"time"

	"github.com/aristath/quant-core/internal/apperr"
	"github.com/aristath/quant-core/internal/domain"
	"github.com/aristath/quant-core/internal/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// VolumeProvider reports traded volume for symbol since a point in time, the
// pov strategy's "Δvolume" input. Implementations typically sum bar volumes
// from the Market-Data Hub since the last poll.
type VolumeProvider interface {
	RecentVolume(ctx context.Context, symbol string, since time.Time) (float64, error)
}

// VolumeProviderFunc adapts a plain function to VolumeProvider.
type VolumeProviderFunc func(ctx context.Context, symbol string, since time.Time) (float64, error)

// RecentVolume implements VolumeProvider.
func (f VolumeProviderFunc) RecentVolume(ctx context.Context, symbol string, since time.Time) (float64, error) {
	return f(ctx, symbol, since)
}

// OrderReader is the read side of the Order State Machine's store, used to
// learn how much of a child order actually filled once it reaches a
// terminal state (iceberg's refill-on-fill and pov's fill bookkeeping).
type OrderReader interface {
	Get(ctx context.Context, orderID string) (domain.Order, error)
}

// run tracks one parent order's in-flight scheduling so Cancel can stop it.
type run struct {
	cancel context.CancelFunc

	mu          sync.Mutex
	liveChildID string
	stopped     bool
}

// Scheduler decomposes parent orders into child orders and schedules them.
// Each child is submitted through orderSvc (the Order State Machine), which
// owns all state-machine and risk-gate concerns; the Scheduler's only job is
// deciding how many children, of what size, and when.
type Scheduler struct {
	orderSvc domain.OrderService
	orders   OrderReader
	volumes  VolumeProvider
	bus      *events.Bus
	log      zerolog.Logger

	mu     sync.Mutex
	active map[string]*run // parent order ID -> run
}

// NewScheduler wires a Scheduler.
func NewScheduler(orderSvc domain.OrderService, orders OrderReader, volumes VolumeProvider, bus *events.Bus, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		orderSvc: orderSvc,
		orders:   orders,
		volumes:  volumes,
		bus:      bus,
		log:      log.With().Str("component", "execution_strategy").Logger(),
		active:   make(map[string]*run),
	}
}

// awaitTerminal blocks until childID reaches a terminal OrderStatusChanged
// event on the bus, or ctx is cancelled, then returns the child's final
// filled quantity.
func (s *Scheduler) awaitTerminal(ctx context.Context, childID string) (decimal.Decimal, bool) {
	ch, unsubscribe := s.bus.Subscribe(64)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return decimal.Zero, false
		case evt, ok := <-ch:
			if !ok {
				return decimal.Zero, false
			}
			data, ok := evt.Data.(*events.OrderStatusChangedData)
			if !ok || data.OrderID != childID {
				continue
			}
			if !domain.OrderStatus(data.To).Terminal() {
				continue
			}
			final, err := s.orders.Get(ctx, childID)
			if err != nil {
				return decimal.Zero, false
			}
			return final.FilledQty, true
		}
	}
}

// Start decomposes parent per its Strategy and schedules its children. It
// blocks until the run ends: every child submitted, the run cancelled via
// Cancel, or ctx done.
func (s *Scheduler) Start(ctx context.Context, parent domain.Order) error {
	runCtx, cancel := context.WithCancel(ctx)
	r := &run{cancel: cancel}

	s.mu.Lock()
	s.active[parent.ID] = r
	s.mu.Unlock()

	switch parent.Strategy {
	case domain.StrategyMarket, domain.StrategyLimit:
		return s.runSingle(runCtx, r, parent)
	case domain.StrategyTWAP:
		return s.runTWAP(runCtx, r, parent, twapSlices(parent))
	case domain.StrategyVWAP:
		return s.runTWAP(runCtx, r, parent, vwapSlices(parent))
	case domain.StrategyIceberg:
		return s.runIceberg(runCtx, r, parent)
	case domain.StrategyPOV:
		return s.runPOV(runCtx, r, parent)
	default:
		s.cleanup(parent.ID)
		return apperr.New(apperr.KindValidation, "unknown execution strategy "+string(parent.Strategy))
	}
}

// Cancel stops scheduling further children for parentID and cancels the
// live child, if any (§4.I: "cancelling the parent issues CancelRequest to
// the live child and prevents new children from being scheduled").
func (s *Scheduler) Cancel(ctx context.Context, parentID string) error {
	s.mu.Lock()
	r, ok := s.active[parentID]
	s.mu.Unlock()
	if !ok {
		return apperr.New(apperr.KindNotFound, "no active execution run for order "+parentID)
	}

	r.mu.Lock()
	r.stopped = true
	liveChildID := r.liveChildID
	r.mu.Unlock()
	r.cancel()

	if liveChildID != "" {
		if err := s.orderSvc.CancelOrder(ctx, liveChildID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) cleanup(parentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, parentID)
}

// childOrder builds one market child for qty shares of parent.
func childOrder(parent domain.Order, qty decimal.Decimal) domain.Order {
	return domain.Order{
		ID:          uuid.NewString(),
		ParentID:    &parent.ID,
		PortfolioID: parent.PortfolioID,
		Symbol:      parent.Symbol,
		Side:        parent.Side,
		Type:        domain.OrderTypeMarket,
		Qty:         qty,
		TIF:         domain.TIFDay,
		Strategy:    domain.StrategyMarket,
		Status:      domain.OrderPending,
		FilledQty:   decimal.Zero,
		BrokerID:    parent.BrokerID,
		CreatedAt:   time.Now().UTC(),
	}
}

func (s *Scheduler) runSingle(ctx context.Context, r *run, parent domain.Order) error {
	defer s.cleanup(parent.ID)
	child := domain.Order{
		ID: uuid.NewString(), ParentID: &parent.ID, PortfolioID: parent.PortfolioID, Symbol: parent.Symbol,
		Side: parent.Side, Type: parent.Type, Qty: parent.Qty, LimitPrice: parent.LimitPrice,
		StopPrice: parent.StopPrice, TIF: parent.TIF, Strategy: parent.Strategy, Status: domain.OrderPending,
		BrokerID: parent.BrokerID, CreatedAt: time.Now().UTC(),
	}
	childID, err := s.orderSvc.SubmitOrder(ctx, child)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.liveChildID = childID
	r.mu.Unlock()
	return nil
}
