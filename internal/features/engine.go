// Package features implements the Feature Engine (§4.C): pure, stateless
// transformations from a window of bars to labeled indicator series. Every
// function here is safe to call concurrently from many workers — no
// shared state, no I/O.
package features

import (
	"fmt"
	"math"
	"time"

	"github.com/aristath/quant-core/internal/apperr"
	"github.com/aristath/quant-core/internal/domain"
	talib "github.com/markcheno/go-talib"
)

// conventional default periods (§4.C).
const (
	periodSMA   = 20
	periodEMA   = 20
	periodRSI   = 14
	macdFast    = 12
	macdSlow    = 26
	macdSignal  = 9
	bbPeriod    = 20
	bbStdDev    = 2.0
	periodATR   = 14
	periodROC   = 10
	stochFastK  = 5
	stochSlowK  = 3
	stochSlowD  = 3
	periodWillR = 14
	periodADX   = 14
	periodCCI   = 14
	periodAroon = 14
	ichiTenkan  = 9
	ichiKijun   = 26
	ichiSenkouB = 52
)

// window bundles the bar series this engine's functions read from. All
// slices are parallel and share bars[i].Ts as their timestamp.
type window struct {
	ts     []int64
	open   []float64
	high   []float64
	low    []float64
	close  []float64
	volume []float64
}

func toWindow(bars []domain.Bar) window {
	w := window{
		ts:     make([]int64, len(bars)),
		open:   make([]float64, len(bars)),
		high:   make([]float64, len(bars)),
		low:    make([]float64, len(bars)),
		close:  make([]float64, len(bars)),
		volume: make([]float64, len(bars)),
	}
	for i, b := range bars {
		w.ts[i] = b.Ts.Unix()
		w.open[i], _ = b.Open.Float64()
		w.high[i], _ = b.High.Float64()
		w.low[i], _ = b.Low.Float64()
		w.close[i], _ = b.Close.Float64()
		w.volume[i], _ = b.Volume.Float64()
	}
	return w
}

// Compute derives indicator out of bars. indicator must be one of the
// names handled by the switch below.
func Compute(bars []domain.Bar, indicator string, key domain.IndicatorKey) (domain.IndicatorSeries, error) {
	w := toWindow(bars)

	var values [][]float64
	var warmup int

	switch indicator {
	case "sma":
		values, warmup = series1(talib.Sma(w.close, periodSMA)), periodSMA-1
	case "ema":
		values, warmup = series1(talib.Ema(w.close, periodEMA)), periodEMA-1
	case "rsi":
		values, warmup = series1(talib.Rsi(w.close, periodRSI)), periodRSI
	case "macd":
		macd, signal, hist := talib.Macd(w.close, macdFast, macdSlow, macdSignal)
		values, warmup = series3(macd, signal, hist), macdSlow+macdSignal-2
	case "bollinger":
		upper, middle, lower := talib.BBands(w.close, bbPeriod, bbStdDev, bbStdDev, 0)
		values, warmup = series3(upper, middle, lower), bbPeriod-1
	case "atr":
		values, warmup = series1(talib.Atr(w.high, w.low, w.close, periodATR)), periodATR
	case "obv":
		values, warmup = series1(talib.Obv(w.close, w.volume)), 0
	case "roc":
		values, warmup = series1(talib.Roc(w.close, periodROC)), periodROC
	case "stoch":
		slowK, slowD := talib.Stoch(w.high, w.low, w.close, stochFastK, stochSlowK, talib.SMA, stochSlowD, talib.SMA)
		values, warmup = series2(slowK, slowD), stochFastK+stochSlowK+stochSlowD-3
	case "willr":
		values, warmup = series1(talib.WillR(w.high, w.low, w.close, periodWillR)), periodWillR-1
	case "adx":
		values, warmup = series1(talib.Adx(w.high, w.low, w.close, periodADX)), 2*periodADX-1
	case "cci":
		values, warmup = series1(talib.Cci(w.high, w.low, w.close, periodCCI)), periodCCI-1
	case "aroon":
		down, up := talib.Aroon(w.high, w.low, periodAroon)
		values, warmup = series2(down, up), periodAroon
	case "ichimoku":
		tenkan, kijun, senkouA, senkouB := ichimoku(w.high, w.low, ichiTenkan, ichiKijun, ichiSenkouB)
		values, warmup = series4(tenkan, kijun, senkouA, senkouB), ichiSenkouB-1
	default:
		return domain.IndicatorSeries{}, apperr.New(apperr.KindValidation, fmt.Sprintf("unsupported indicator %q", indicator))
	}

	return domain.IndicatorSeries{
		Key:       key,
		Ts:        barTimestamps(bars),
		Values:    values,
		Undefined: clampWarmup(warmup, len(bars)),
	}, nil
}

func clampWarmup(warmup, n int) int {
	if warmup > n {
		return n
	}
	if warmup < 0 {
		return 0
	}
	return warmup
}

func series1(a []float64) [][]float64            { return [][]float64{a} }
func series2(a, b []float64) [][]float64          { return [][]float64{a, b} }
func series3(a, b, c []float64) [][]float64       { return [][]float64{a, b, c} }
func series4(a, b, c, d []float64) [][]float64    { return [][]float64{a, b, c, d} }

// ichimoku computes the Ichimoku Cloud's four non-lagging lines (Chikou is
// omitted here: it is a plotting convenience — the raw shifted close — and
// carries no predictive information beyond what Compute's caller already
// has in `bars`). go-talib has no Ichimoku function; this is a direct
// rolling min/max implementation of the standard formula.
func ichimoku(high, low []float64, tenkanP, kijunP, senkouBP int) (tenkan, kijun, senkouA, senkouB []float64) {
	n := len(high)
	tenkan = make([]float64, n)
	kijun = make([]float64, n)
	senkouA = make([]float64, n)
	senkouB = make([]float64, n)

	midpoint := func(period, i int) float64 {
		if i+1 < period {
			return math.NaN()
		}
		hh, ll := high[i], low[i]
		for j := i - period + 1; j <= i; j++ {
			if high[j] > hh {
				hh = high[j]
			}
			if low[j] < ll {
				ll = low[j]
			}
		}
		return (hh + ll) / 2
	}

	for i := 0; i < n; i++ {
		tenkan[i] = midpoint(tenkanP, i)
		kijun[i] = midpoint(kijunP, i)
		senkouB[i] = midpoint(senkouBP, i)
		if math.IsNaN(tenkan[i]) || math.IsNaN(kijun[i]) {
			senkouA[i] = math.NaN()
		} else {
			senkouA[i] = (tenkan[i] + kijun[i]) / 2
		}
	}
	return
}

func barTimestamps(bars []domain.Bar) []time.Time {
	out := make([]time.Time, len(bars))
	for i, b := range bars {
		out[i] = b.Ts
	}
	return out
}
