package strategy

import (
	"context"
	"time"

	"github.com/aristath/quant-core/internal/apperr"
	"github.com/aristath/quant-core/internal/domain"
	"github.com/shopspring/decimal"
)

// runPOV polls recent market volume every interval and sizes the next child
// as pov_target·Δvolume, clamped to what remains of the parent (§4.I pov).
// Each child is awaited to a terminal state before the next interval's size
// is computed, so "already_filled_this_interval" in the spec's formula is
// always zero here — there is exactly one child in flight per interval by
// construction, not a backlog to subtract off.
func (s *Scheduler) runPOV(ctx context.Context, r *run, parent domain.Order) error {
	defer s.cleanup(parent.ID)

	interval := parent.StrategyParams.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	if parent.StrategyParams.POVTarget <= 0 {
		return apperr.New(apperr.KindValidation, "pov strategy requires a positive pov_target")
	}

	var deadline time.Time
	if parent.StrategyParams.Duration > 0 {
		deadline = time.Now().Add(parent.StrategyParams.Duration)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	filledTotal := decimal.Zero
	lastPoll := time.Now()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		r.mu.Lock()
		stopped := r.stopped
		r.mu.Unlock()
		if stopped {
			return nil
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return nil
		}
		if filledTotal.GreaterThanOrEqual(parent.Qty) {
			return nil
		}

		volume, err := s.volumes.RecentVolume(ctx, parent.Symbol, lastPoll)
		lastPoll = time.Now()
		if err != nil {
			s.log.Warn().Err(err).Str("parent_id", parent.ID).Msg("pov volume poll failed")
			continue
		}

		qty := decimal.NewFromFloat(parent.StrategyParams.POVTarget * volume).Round(0)
		if qty.Sign() <= 0 {
			continue
		}
		remaining := parent.Qty.Sub(filledTotal)
		if qty.GreaterThan(remaining) {
			qty = remaining
		}

		child := childOrder(parent, qty)
		id, err := s.orderSvc.SubmitOrder(ctx, child)
		if err != nil {
			s.log.Warn().Err(err).Str("parent_id", parent.ID).Msg("pov slice submission failed")
			continue
		}
		r.mu.Lock()
		r.liveChildID = id
		r.mu.Unlock()

		filled, ok := s.awaitTerminal(ctx, id)
		if !ok {
			return nil
		}
		filledTotal = filledTotal.Add(filled)
	}
}
