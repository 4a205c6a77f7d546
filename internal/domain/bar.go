// Package domain holds the core trading entities shared by every component.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Timeframe is the canonical set of bar intervals every provider adapter
// must normalize into.
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF30m Timeframe = "30m"
	TF1h  Timeframe = "1h"
	TF1d  Timeframe = "1d"
	TF1w  Timeframe = "1w"
	TF1mo Timeframe = "1mo"
)

// Valid reports whether tf is one of the canonical timeframes.
func (tf Timeframe) Valid() bool {
	switch tf {
	case TF1m, TF5m, TF15m, TF30m, TF1h, TF1d, TF1w, TF1mo:
		return true
	}
	return false
}

// Bar is an immutable OHLCV sample. Primary key is (Symbol, Timeframe, Ts, Source).
type Bar struct {
	Symbol    string
	Timeframe Timeframe
	Ts        time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
	Source    string
	// ReceivedAt is used only for duplicate-timestamp resolution; never persisted as identity.
	ReceivedAt time.Time
}

// Key identifies a bar's storage slot.
func (b Bar) Key() BarKey {
	return BarKey{Symbol: b.Symbol, Timeframe: b.Timeframe, Ts: b.Ts, Source: b.Source}
}

// BarKey is the primary key tuple for a Bar.
type BarKey struct {
	Symbol    string
	Timeframe Timeframe
	Ts        time.Time
	Source    string
}

// BarRange is a half-open-ish inclusive window [From, To] in UTC.
type BarRange struct {
	From time.Time
	To   time.Time
}

// IndicatorKey identifies a memoized indicator series in the hub's cache.
type IndicatorKey struct {
	Symbol     string
	Timeframe  Timeframe
	Indicator  string
	ParamsHash string
}

// IndicatorSeries is the lazily-derived, memoized output of the feature engine
// for one indicator over a window of bars.
type IndicatorSeries struct {
	Key    IndicatorKey
	Ts     []time.Time
	Values [][]float64 // one slot per output line (e.g. MACD has 3)
	// first Undefined values correspond to the lookback warmup and carry math.NaN().
	Undefined int
}
