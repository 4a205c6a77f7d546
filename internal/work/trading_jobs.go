package work

import (
	"context"
	"fmt"
	"time"
)

// HubRefreshServiceInterface is the subset of the Market-Data Hub needed to
// pull fresh bars for every tracked symbol on a timer.
type HubRefreshServiceInterface interface {
	RefreshSymbol(ctx context.Context, symbol string) error
	TrackedSymbols() []string
}

// ReconciliationServiceInterface is the subset of order reconciliation
// needed to force an out-of-band poll across every broker.
type ReconciliationServiceInterface interface {
	ReconcileAll(ctx context.Context) error
	HasBrokers() bool
}

// TradingDeps contains all dependencies for trading work types.
//
// The Prediction Dispatcher is deliberately not represented here: it already
// owns its own cron-based periodic scheduling (§4.E.1, Dispatcher.StartPeriodic),
// so registering a duplicate "predictor:tick" work type here would just
// race a second scheduler against the first.
type TradingDeps struct {
	Hub            HubRefreshServiceInterface
	Reconciliation ReconciliationServiceInterface
}

// RegisterTradingWorkTypes registers the Market-Data Hub refresh and
// reconciliation-poll work types with the registry.
func RegisterTradingWorkTypes(registry *Registry, deps *TradingDeps) {
	// marketdata:refresh - pull fresh bars for every tracked symbol.
	registry.Register(&WorkType{
		ID:           "marketdata:refresh",
		Priority:     PriorityHigh,
		MarketTiming: DuringMarketOpen,
		Interval:     1 * time.Minute,
		FindSubjects: func() []string {
			symbols := deps.Hub.TrackedSymbols()
			if len(symbols) == 0 {
				return nil
			}
			return symbols
		},
		Execute: func(ctx context.Context, subject string) error {
			if err := deps.Hub.RefreshSymbol(ctx, subject); err != nil {
				return fmt.Errorf("refresh bars for %s: %w", subject, err)
			}
			return nil
		},
	})

	// orders:reconcile - force a reconciliation poll across every broker,
	// belt-and-suspenders alongside each broker's own background poller
	// (internal/orders.Reconciler.Run, started independently at boot).
	registry.Register(&WorkType{
		ID:           "orders:reconcile",
		Priority:     PriorityHigh,
		MarketTiming: AnyTime,
		Interval:     10 * time.Minute,
		FindSubjects: func() []string {
			if deps.Reconciliation.HasBrokers() {
				return []string{""}
			}
			return nil
		},
		Execute: func(ctx context.Context, subject string) error {
			if err := deps.Reconciliation.ReconcileAll(ctx); err != nil {
				return fmt.Errorf("reconcile orders: %w", err)
			}
			return nil
		},
	})
}
