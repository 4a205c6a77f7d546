package strategy

import (
	"context"
	"time"

	"github.com/aristath/quant-core/internal/apperr"
	"github.com/aristath/quant-core/internal/domain"
	"github.com/google/uuid"
)

// runIceberg keeps at most display_size live at the parent's limit price; as
// each child reaches a terminal state, the next slice is submitted for
// whatever remains (§4.I iceberg). The live child is cancelled on parent
// cancel via Scheduler.Cancel, which reads r.liveChildID directly.
func (s *Scheduler) runIceberg(ctx context.Context, r *run, parent domain.Order) error {
	defer s.cleanup(parent.ID)

	displaySize := parent.StrategyParams.DisplaySize
	if displaySize.Sign() <= 0 {
		return apperr.New(apperr.KindValidation, "iceberg strategy requires a positive display_size")
	}

	remaining := parent.Qty
	for remaining.Sign() > 0 {
		r.mu.Lock()
		stopped := r.stopped
		r.mu.Unlock()
		if stopped {
			return nil
		}

		sliceQty := displaySize
		if remaining.LessThan(displaySize) {
			sliceQty = remaining
		}

		child := domain.Order{
			ID: uuid.NewString(), ParentID: &parent.ID, PortfolioID: parent.PortfolioID, Symbol: parent.Symbol,
			Side: parent.Side, Type: domain.OrderTypeLimit, Qty: sliceQty, LimitPrice: parent.LimitPrice,
			TIF: domain.TIFDay, Strategy: domain.StrategyMarket, Status: domain.OrderPending,
			BrokerID: parent.BrokerID, CreatedAt: time.Now().UTC(),
		}
		id, err := s.orderSvc.SubmitOrder(ctx, child)
		if err != nil {
			s.log.Warn().Err(err).Str("parent_id", parent.ID).Msg("iceberg slice submission failed")
			return err
		}
		r.mu.Lock()
		r.liveChildID = id
		r.mu.Unlock()

		filled, ok := s.awaitTerminal(ctx, id)
		if !ok {
			return nil // cancelled or bus closed
		}
		remaining = remaining.Sub(filled)
	}
	return nil
}
