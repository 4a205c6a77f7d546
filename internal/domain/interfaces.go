package domain

import "context"

// BarStream delivers bars for one (symbol,timeframe) in strict timestamp order.
type BarStream struct {
	C    <-chan Bar
	Lag  func() int64
	stop func()
}

// Stop tears down the subscription and releases the consumer's slot.
func (s BarStream) Stop() {
	if s.stop != nil {
		s.stop()
	}
}

// NewBarStream builds a BarStream from its channel and teardown function.
func NewBarStream(c <-chan Bar, lag func() int64, stop func()) BarStream {
	return BarStream{C: c, Lag: lag, stop: stop}
}

// MarketDataHub is the §6 "GetBars"/"Subscribe" internal service contract.
type MarketDataHub interface {
	GetBars(ctx context.Context, symbol string, tf Timeframe, r BarRange) (bars []Bar, hasGaps bool, err error)
	Subscribe(ctx context.Context, symbol string, tf Timeframe) (BarStream, error)
}

// PredictionService is the §6 "Predict" internal service contract.
type PredictionService interface {
	Predict(ctx context.Context, predictorID, symbol string, horizonBars int) (Signal, error)
}

// RiskService is the §6 "CheckRisk" internal service contract.
type RiskService interface {
	CheckRisk(ctx context.Context, portfolioID string, proposed Order) error
}

// OrderService is the §6 "SubmitOrder"/"CancelOrder" internal service contract.
type OrderService interface {
	SubmitOrder(ctx context.Context, order Order) (string, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// PortfolioService is the §6 "GetPortfolio" internal service contract.
type PortfolioService interface {
	GetPortfolio(ctx context.Context, portfolioID string) (Portfolio, error)
}
