package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/quant-core/internal/domain"
	"github.com/aristath/quant-core/internal/marketdata"
)

type marketDataHandlers struct {
	hub *marketdata.Hub
	log zerolog.Logger
}

// handleGetBars serves GET /api/bars/{symbol}/{tf}?from=RFC3339&to=RFC3339.
// Defaults to the last 24h when from/to are omitted.
func (h *marketDataHandlers) handleGetBars(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	tf := domain.Timeframe(chi.URLParam(r, "tf"))
	if !tf.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid timeframe: %s", tf))
		return
	}

	to := time.Now().UTC()
	from := to.Add(-24 * time.Hour)
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid from: "+err.Error())
			return
		}
		from = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid to: "+err.Error())
			return
		}
		to = t
	}

	bars, hasGaps, err := h.hub.GetBars(r.Context(), symbol, tf, domain.BarRange{From: from, To: to})
	if err != nil {
		h.log.Error().Err(err).Str("symbol", symbol).Msg("get bars failed")
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"bars":     bars,
		"has_gaps": hasGaps,
	})
}

// handleSubscribe streams new bars for (symbol,tf) over SSE as they are ingested.
func (h *marketDataHandlers) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	tf := domain.Timeframe(chi.URLParam(r, "tf"))
	if !tf.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid timeframe: %s", tf))
		return
	}

	stream, err := h.hub.Subscribe(r.Context(), symbol, tf)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	defer stream.Stop()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case bar, ok := <-stream.C:
			if !ok {
				return
			}
			writeSSE(w, "bar", bar)
			flusher.Flush()
		}
	}
}
