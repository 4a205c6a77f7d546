package strategy

import (
	"context"
	"math"
	"time"

	"github.com/aristath/quant-core/internal/domain"
	"github.com/shopspring/decimal"
)

// slicePlan is one scheduled child: Qty shares submitted SubmitAt after the
// run starts.
type slicePlan struct {
	Qty      decimal.Decimal
	SubmitAt time.Duration
}

// twapSlices splits parent.Qty into ceil(duration/interval) equal slices
// scheduled at t0 + i*interval (§4.I twap), with any remainder from integer
// division folded into the last slice.
func twapSlices(parent domain.Order) []slicePlan {
	duration := parent.StrategyParams.Duration
	interval := parent.StrategyParams.Interval
	if interval <= 0 {
		interval = duration
	}
	if interval <= 0 {
		return []slicePlan{{Qty: parent.Qty, SubmitAt: 0}}
	}
	n := int(math.Ceil(float64(duration) / float64(interval)))
	if n < 1 {
		n = 1
	}
	return equalSlices(parent.Qty, n, interval)
}

// vwapSlices splits parent.Qty per its supplied volume profile (fractions of
// total qty, one per interval); an empty profile falls back to a flat
// profile, i.e. TWAP (§4.I vwap).
func vwapSlices(parent domain.Order) []slicePlan {
	profile := parent.StrategyParams.VolumeProfile
	if len(profile) == 0 {
		return twapSlices(parent)
	}
	interval := parent.StrategyParams.Interval
	if interval <= 0 {
		interval = time.Minute
	}

	total := 0.0
	for _, f := range profile {
		total += f
	}
	if total <= 0 {
		return twapSlices(parent)
	}

	plans := make([]slicePlan, len(profile))
	allocated := decimal.Zero
	for i, f := range profile {
		frac := f / total
		var qty decimal.Decimal
		if i == len(profile)-1 {
			qty = parent.Qty.Sub(allocated)
		} else {
			qty = parent.Qty.Mul(decimal.NewFromFloat(frac)).Round(0)
			allocated = allocated.Add(qty)
		}
		plans[i] = slicePlan{Qty: qty, SubmitAt: time.Duration(i) * interval}
	}
	return plans
}

// equalSlices divides qty into n equal integer slices, folding the
// remainder into the last one, each spaced interval apart starting at 0.
func equalSlices(qty decimal.Decimal, n int, interval time.Duration) []slicePlan {
	per := qty.Div(decimal.NewFromInt(int64(n))).Floor()
	plans := make([]slicePlan, n)
	allocated := decimal.Zero
	for i := 0; i < n; i++ {
		q := per
		if i == n-1 {
			q = qty.Sub(allocated)
		} else {
			allocated = allocated.Add(q)
		}
		plans[i] = slicePlan{Qty: q, SubmitAt: time.Duration(i) * interval}
	}
	return plans
}

// runTWAP submits plans in order, sleeping between them, stopping early if
// the run is cancelled. Used for both twap and vwap (§4.I), since vwap is
// twap with a non-uniform slice plan.
func (s *Scheduler) runTWAP(ctx context.Context, r *run, parent domain.Order, plans []slicePlan) error {
	defer s.cleanup(parent.ID)
	start := time.Now()

	for _, plan := range plans {
		if plan.Qty.Sign() <= 0 {
			continue
		}
		wait := plan.SubmitAt - time.Since(start)
		if wait > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
		}

		r.mu.Lock()
		stopped := r.stopped
		r.mu.Unlock()
		if stopped {
			return nil
		}

		child := childOrder(parent, plan.Qty)
		childID, err := s.orderSvc.SubmitOrder(ctx, child)
		if err != nil {
			s.log.Warn().Err(err).Str("parent_id", parent.ID).Msg("twap/vwap slice submission failed")
			continue
		}
		r.mu.Lock()
		r.liveChildID = childID
		r.mu.Unlock()
	}
	return nil
}
