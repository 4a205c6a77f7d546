package di

import (
	"context"
	"sync"
	"time"

	"github.com/aristath/quant-core/internal/database"
	"github.com/aristath/quant-core/internal/domain"
	"github.com/aristath/quant-core/internal/marketdata"
	"github.com/aristath/quant-core/internal/orders"
	"github.com/aristath/quant-core/internal/work"
)

// alwaysOpenMarket treats every market as open around the clock. This
// system has no market-calendar module in scope; the only timing distinction
// that matters here is "is there any point polling right now", which is
// always true for a 24/7 trading backend.
type alwaysOpenMarket struct{}

func (alwaysOpenMarket) IsAnyMarketOpen() bool              { return true }
func (alwaysOpenMarket) IsSecurityMarketOpen(_ string) bool { return true }
func (alwaysOpenMarket) AreAllMarketsClosed() bool          { return false }

// hubRefreshAdapter implements work.HubRefreshServiceInterface over the
// Market-Data Hub, refreshing the configured tracked symbols.
type hubRefreshAdapter struct {
	hub     *marketdata.Hub
	symbols []string
}

func (a *hubRefreshAdapter) TrackedSymbols() []string { return a.symbols }

func (a *hubRefreshAdapter) RefreshSymbol(ctx context.Context, symbol string) error {
	now := time.Now().UTC()
	_, _, err := a.hub.GetBars(ctx, symbol, domain.TF1m, domain.BarRange{From: now.Add(-10 * time.Minute), To: now})
	return err
}

// reconciliationAdapter implements work.ReconciliationServiceInterface by
// running every configured broker's reconciler once.
type reconciliationAdapter struct {
	reconcilers map[string]*orders.Reconciler
}

func (a *reconciliationAdapter) HasBrokers() bool { return len(a.reconcilers) > 0 }

func (a *reconciliationAdapter) ReconcileAll(ctx context.Context) error {
	tickCtx, cancel := context.WithTimeout(ctx, orders.DefaultPollEvery+2*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for _, r := range a.reconcilers {
		wg.Add(1)
		go func(r *orders.Reconciler) {
			defer wg.Done()
			r.Run(tickCtx)
		}(r)
	}
	wg.Wait()
	return nil
}

// buildWork wires the generic work engine (§ambient background-job runner)
// against this system's two on-demand jobs: periodic bar refresh and a
// reconciliation backstop. The Prediction Dispatcher's own periodic
// scheduling (cron-based, §4.E.1) is intentionally not routed through here.
func buildWork(cacheDB *database.DB, hub *marketdata.Hub, reconcilers map[string]*orders.Reconciler, trackedSymbols []string) (*work.Registry, *work.Processor) {
	registry := work.NewRegistry()
	market := work.NewMarketTimingChecker(alwaysOpenMarket{})
	cache := work.NewCache(cacheDB.Conn())
	processor := work.NewProcessor(registry, market, cache)

	work.RegisterTradingWorkTypes(registry, &work.TradingDeps{
		Hub:            &hubRefreshAdapter{hub: hub, symbols: trackedSymbols},
		Reconciliation: &reconciliationAdapter{reconcilers: reconcilers},
	})

	return registry, processor
}
