package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/quant-core/internal/apperr"
	"github.com/aristath/quant-core/internal/domain"
	"github.com/aristath/quant-core/internal/execution/strategy"
	"github.com/aristath/quant-core/internal/orders"
)

type orderHandlers struct {
	scheduler *strategy.Scheduler
	store     *orders.Store
	machine   *orders.Machine
	log       zerolog.Logger
}

// multiChild strategies are decomposed into several broker-facing child
// orders by the Execution Scheduler; everything else goes straight to the
// Order State Machine as a single order.
func multiChild(s domain.Strategy) bool {
	switch s {
	case domain.StrategyTWAP, domain.StrategyVWAP, domain.StrategyPOV:
		return true
	}
	return false
}

// handleSubmitOrder serves POST /api/orders.
func (h *orderHandlers) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var order domain.Order
	if err := decodeJSON(r, &order); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if multiChild(order.Strategy) {
		if err := h.scheduler.Start(r.Context(), order); err != nil {
			h.log.Error().Err(err).Str("symbol", order.Symbol).Msg("strategy start failed")
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"id": order.ID, "status": "scheduled"})
		return
	}

	id, err := h.machine.SubmitOrder(r.Context(), order)
	if err != nil {
		h.log.Error().Err(err).Str("symbol", order.Symbol).Msg("submit order failed")
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

// handleGetOrder serves GET /api/orders/{id}.
func (h *orderHandlers) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	order, err := h.store.Get(r.Context(), id)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// handleCancelOrder serves DELETE /api/orders/{id}. Parent strategy orders
// are cancelled through the scheduler so their remaining children are torn
// down too; everything else cancels directly through the state machine.
func (h *orderHandlers) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	order, err := h.store.Get(r.Context(), id)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if multiChild(order.Strategy) && order.ParentID == nil {
		err = h.scheduler.Cancel(r.Context(), id)
	} else {
		err = h.machine.CancelOrder(r.Context(), id)
	}
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

// handleChildren serves GET /api/orders/{id}/children.
func (h *orderHandlers) handleChildren(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	children, err := h.store.Children(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, children)
}
