package predictors

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/aristath/quant-core/internal/apperr"
	"github.com/aristath/quant-core/internal/domain"
	"github.com/aristath/quant-core/internal/events"
	"github.com/aristath/quant-core/internal/features"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	talib "github.com/markcheno/go-talib"
)

// defaultTheta is the direction threshold (§4.E): predicted close change
// over horizon > +theta is buy, < -theta is sell, else hold.
const defaultTheta = 0.01

// lookbackBars is how many trailing bars are fetched to compute features;
// generous enough to clear every indicator's warmup window (Ichimoku's
// senkou span B needs 52).
const lookbackBars = 200

// Hub is the subset of the Market-Data Hub the dispatcher consumes.
type Hub interface {
	GetBars(ctx context.Context, symbol string, tf domain.Timeframe, r domain.BarRange) ([]domain.Bar, bool, error)
}

// ModelRuntime loads and invokes a trained model blob matching a
// PredictorKind. Scaling inputs with the artifact's ScalerParams is the
// Dispatcher's job; inverse-scaling the predicted value back to a price-change
// fraction is the runtime's, since that mapping is internal to the trained
// model and out of scope here (the training/inference runtime is supplied by
// an out-of-scope pipeline per domain.PredictorArtifact's doc comment).
type ModelRuntime interface {
	Invoke(ctx context.Context, artifact domain.PredictorArtifact, scaledFeatures []float64) (predictedChangePct float64, confidence float64, err error)
}

// Dispatcher is the Prediction Dispatcher (§4.E).
type Dispatcher struct {
	hub      Hub
	registry *Registry
	runtimes map[domain.PredictorKind]ModelRuntime
	bus      *events.Bus
	log      zerolog.Logger

	predictorLocksMu sync.Mutex
	predictorLocks   map[string]*sync.Mutex

	poolLimit int
	cron      *cron.Cron
}

// NewDispatcher wires a Dispatcher. poolLimit bounds cross-predictor
// concurrency (§4.E: "invocations for different predictors run in parallel
// up to a configured worker-pool size").
func NewDispatcher(hub Hub, registry *Registry, runtimes map[domain.PredictorKind]ModelRuntime, poolLimit int, bus *events.Bus, log zerolog.Logger) *Dispatcher {
	if poolLimit <= 0 {
		poolLimit = 4
	}
	return &Dispatcher{
		hub:            hub,
		registry:       registry,
		runtimes:       runtimes,
		bus:            bus,
		log:            log.With().Str("component", "dispatcher").Logger(),
		predictorLocks: make(map[string]*sync.Mutex),
		poolLimit:      poolLimit,
	}
}

func (d *Dispatcher) lockFor(predictorID string) *sync.Mutex {
	d.predictorLocksMu.Lock()
	defer d.predictorLocksMu.Unlock()
	l, ok := d.predictorLocks[predictorID]
	if !ok {
		l = &sync.Mutex{}
		d.predictorLocks[predictorID] = l
	}
	return l
}

// Predict runs a single on-demand prediction (§6 "Predict"). Invocations for
// the same predictor_id are serialized to bound memory; this method may
// block while another invocation for the same predictor is in flight.
func (d *Dispatcher) Predict(ctx context.Context, predictorID, symbol string, tf domain.Timeframe, horizonBars int) (domain.Signal, error) {
	lock := d.lockFor(predictorID)
	lock.Lock()
	defer lock.Unlock()

	artifact, err := d.registry.Get(predictorID)
	if err != nil {
		return domain.Signal{}, err
	}
	if artifact.Status != domain.PredictorTrained {
		return domain.Signal{}, apperr.WithReason(apperr.KindPredictor, "predictor not trained", "not_trained")
	}

	runtime, ok := d.runtimes[artifact.Kind]
	if !ok {
		return domain.Signal{}, apperr.New(apperr.KindPredictor, fmt.Sprintf("no runtime registered for kind %s", artifact.Kind))
	}

	now := time.Now().UTC()
	bars, _, err := d.hub.GetBars(ctx, symbol, tf, domain.BarRange{From: now.Add(-timeframeDuration(tf) * lookbackBars), To: now})
	if err != nil {
		return domain.Signal{}, apperr.Wrap(apperr.KindUpstream, "fetch feature bars", err)
	}
	if len(bars) == 0 {
		return domain.Signal{}, apperr.New(apperr.KindValidation, "no bars available for feature computation")
	}

	featureVec, err := buildFeatureVector(bars, artifact.FeatureList)
	if err != nil {
		return domain.Signal{}, err
	}
	scaled := scaleFeatures(featureVec, artifact.ScalerParams)

	predictedChangePct, confidence, err := runtime.Invoke(ctx, artifact, scaled)
	if err != nil {
		return domain.Signal{}, apperr.Wrap(apperr.KindPredictor, "model invocation failed", err)
	}
	if math.IsNaN(confidence) {
		confidence = defaultConfidence(artifact)
	}

	signal := synthesizeSignal(predictorID, symbol, now, predictedChangePct, confidence, horizonBars, bars[len(bars)-1].Close)

	if d.bus != nil {
		d.bus.Publish(events.Event{
			Type:      events.SignalEmitted,
			Timestamp: now,
			Component: "dispatcher",
			Data: &events.SignalEmittedData{
				SignalID:    signal.ID,
				PredictorID: predictorID,
				Symbol:      symbol,
				Direction:   string(signal.Direction),
				Strength:    signal.Strength,
				Confidence:  signal.Confidence,
			},
		})
	}
	return signal, nil
}

// PredictEnsemble combines a prediction signal with a technical SMA-crossover
// signal (§4.E ensemble mode): if they agree on direction, strengths are
// averaged; if they disagree, the result is hold with strength 0.
func (d *Dispatcher) PredictEnsemble(ctx context.Context, predictorID, symbol string, tf domain.Timeframe, horizonBars int) (domain.Signal, error) {
	predicted, err := d.Predict(ctx, predictorID, symbol, tf, horizonBars)
	if err != nil {
		return domain.Signal{}, err
	}

	now := time.Now().UTC()
	bars, _, err := d.hub.GetBars(ctx, symbol, tf, domain.BarRange{From: now.Add(-timeframeDuration(tf) * lookbackBars), To: now})
	if err != nil {
		return domain.Signal{}, apperr.Wrap(apperr.KindUpstream, "fetch technical bars", err)
	}
	technicalDir, technicalStrength, err := technicalSignal(bars)
	if err != nil {
		return predicted, nil // technical signal unavailable: fall back to the prediction alone
	}

	if technicalDir != predicted.Direction {
		predicted.Direction = domain.DirectionHold
		predicted.Strength = 0
		return predicted, nil
	}
	predicted.Strength = (predicted.Strength + technicalStrength) / 2
	return predicted, nil
}

// StartPeriodic schedules one recurring dispatch per distinct timeframe in
// use (§4.E.1), fanning out predictor x symbol pairs across a bounded worker
// pool per tick.
func (d *Dispatcher) StartPeriodic(ctx context.Context, jobs []PeriodicJob) error {
	d.cron = cron.New()
	byTimeframe := make(map[domain.Timeframe][]PeriodicJob)
	for _, job := range jobs {
		byTimeframe[job.Timeframe] = append(byTimeframe[job.Timeframe], job)
	}
	for tf, tfJobs := range byTimeframe {
		tfJobs := tfJobs
		spec, err := cronSpecFor(tf)
		if err != nil {
			return err
		}
		if _, err := d.cron.AddFunc(spec, func() { d.runTick(ctx, tfJobs) }); err != nil {
			return apperr.Wrap(apperr.KindValidation, "schedule periodic dispatch", err)
		}
	}
	d.cron.Start()
	return nil
}

// Stop halts periodic scheduling.
func (d *Dispatcher) Stop() {
	if d.cron != nil {
		d.cron.Stop()
	}
}

// PeriodicJob names one (predictor, symbol, timeframe, horizon) dispatch unit
// scheduled on every tick of its timeframe.
type PeriodicJob struct {
	PredictorID string
	Symbol      string
	Timeframe   domain.Timeframe
	HorizonBars int
}

func (d *Dispatcher) runTick(ctx context.Context, jobs []PeriodicJob) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.poolLimit)
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			if _, err := d.Predict(gctx, job.PredictorID, job.Symbol, job.Timeframe, job.HorizonBars); err != nil {
				d.log.Warn().Err(err).Str("predictor", job.PredictorID).Str("symbol", job.Symbol).Msg("periodic dispatch failed")
			}
			return nil
		})
	}
	_ = g.Wait()
}

func cronSpecFor(tf domain.Timeframe) (string, error) {
	switch tf {
	case domain.TF1m:
		return "* * * * *", nil
	case domain.TF5m:
		return "*/5 * * * *", nil
	case domain.TF15m:
		return "*/15 * * * *", nil
	case domain.TF30m:
		return "*/30 * * * *", nil
	case domain.TF1h:
		return "0 * * * *", nil
	case domain.TF1d:
		return "0 0 * * *", nil
	case domain.TF1w:
		return "0 0 * * 0", nil
	case domain.TF1mo:
		return "0 0 1 * *", nil
	default:
		return "", apperr.New(apperr.KindUnsupportedTF, "unsupported timeframe "+string(tf))
	}
}

func timeframeDuration(tf domain.Timeframe) time.Duration {
	switch tf {
	case domain.TF1m:
		return time.Minute
	case domain.TF5m:
		return 5 * time.Minute
	case domain.TF15m:
		return 15 * time.Minute
	case domain.TF30m:
		return 30 * time.Minute
	case domain.TF1h:
		return time.Hour
	case domain.TF1d:
		return 24 * time.Hour
	case domain.TF1w:
		return 7 * 24 * time.Hour
	default:
		return 30 * 24 * time.Hour
	}
}

// buildFeatureVector computes every named indicator over bars and takes each
// one's most recent defined value as the feature vector entry, in
// FeatureList order.
func buildFeatureVector(bars []domain.Bar, featureList []string) ([]float64, error) {
	out := make([]float64, len(featureList))
	for i, name := range featureList {
		series, err := features.Compute(bars, name, domain.IndicatorKey{Indicator: name})
		if err != nil {
			return nil, err
		}
		if len(series.Values) == 0 || len(series.Values[0]) == 0 {
			return nil, apperr.New(apperr.KindValidation, "indicator "+name+" produced no values")
		}
		last := series.Values[0][len(series.Values[0])-1]
		if math.IsNaN(last) {
			return nil, apperr.New(apperr.KindValidation, "indicator "+name+" undefined at latest bar (insufficient warmup)")
		}
		out[i] = last
	}
	return out, nil
}

func scaleFeatures(vec []float64, p domain.ScalerParams) []float64 {
	out := make([]float64, len(vec))
	for i, v := range vec {
		if i >= len(p.Mean) || i >= len(p.Std) || p.Std[i] == 0 {
			out[i] = v
			continue
		}
		out[i] = (v - p.Mean[i]) / p.Std[i]
	}
	return out
}

// defaultConfidence is 1 minus the normalized validation RMSE recorded on
// the artifact at training time, clamped to [0,1] (§4.E).
func defaultConfidence(artifact domain.PredictorArtifact) float64 {
	rmse, ok := artifact.Metrics["val_rmse_normalized"]
	if !ok {
		return 0.5
	}
	c := 1 - rmse
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// synthesizeSignal applies §4.E's direction/strength rules to a predicted
// fractional close change.
func synthesizeSignal(predictorID, symbol string, now time.Time, changePct, confidence float64, horizonBars int, lastClose interface{ Float64() (float64, bool) }) domain.Signal {
	direction := domain.DirectionHold
	switch {
	case changePct > defaultTheta:
		direction = domain.DirectionBuy
	case changePct < -defaultTheta:
		direction = domain.DirectionSell
	}

	strength := strengthFor(math.Abs(changePct))

	var targetPrice *float64
	if close, ok := lastClose.Float64(); ok {
		tp := close * (1 + changePct)
		targetPrice = &tp
	}

	return domain.Signal{
		ID:          uuid.NewString(),
		PredictorID: predictorID,
		Symbol:      symbol,
		Ts:          now,
		Direction:   direction,
		Strength:    strength,
		Confidence:  clamp01(confidence),
		HorizonBars: horizonBars,
		TargetPrice: targetPrice,
		ExpiresAt:   now.Add(time.Duration(horizonBars) * time.Hour),
	}
}

// strengthFor is the piecewise magnitude mapping from §4.E.
func strengthFor(absChangePct float64) float64 {
	switch {
	case absChangePct > 0.05:
		return 1.0
	case absChangePct > 0.03:
		return 0.8
	case absChangePct > 0.01:
		return 0.6
	case absChangePct > 0:
		return 0.4
	default:
		return 0
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// technicalSignal derives a SMA-crossover direction/strength pair for
// ensemble mode: fast SMA(10) above slow SMA(30) is buy, below is sell,
// strength is the normalized separation between the two. The crossover
// periods (10/30) are a separate convention from the Feature Engine's own
// default SMA(20) feature, so this bypasses features.Compute (which has no
// custom-period entry point) and calls go-talib directly.
func technicalSignal(bars []domain.Bar) (domain.Direction, float64, error) {
	const fastPeriod, slowPeriod = 10, 30
	if len(bars) < slowPeriod {
		return domain.DirectionHold, 0, apperr.New(apperr.KindValidation, "insufficient bars for sma crossover")
	}
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i], _ = b.Close.Float64()
	}
	fastSeries := talib.Sma(closes, fastPeriod)
	slowSeries := talib.Sma(closes, slowPeriod)
	f := fastSeries[len(fastSeries)-1]
	s := slowSeries[len(slowSeries)-1]
	if math.IsNaN(f) || math.IsNaN(s) || s == 0 {
		return domain.DirectionHold, 0, apperr.New(apperr.KindValidation, "sma crossover undefined")
	}
	sep := (f - s) / s
	dir := domain.DirectionHold
	switch {
	case sep > 0:
		dir = domain.DirectionBuy
	case sep < 0:
		dir = domain.DirectionSell
	}
	return dir, strengthFor(math.Abs(sep)), nil
}
