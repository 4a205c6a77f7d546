package server

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aristath/quant-core/internal/events"
)

type eventsHandlers struct {
	bus *events.Bus
	log zerolog.Logger
}

// handleStream serves GET /api/events/stream, an SSE feed of every event the
// bus publishes. An optional ?types=order_filled,risk_rejected query param
// restricts the feed to those event types.
func (h *eventsHandlers) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	var want map[events.EventType]bool
	if q := r.URL.Query().Get("types"); q != "" {
		want = make(map[events.EventType]bool)
		for _, t := range strings.Split(q, ",") {
			want[events.EventType(strings.TrimSpace(t))] = true
		}
	}

	ch, unsubscribe := h.bus.Subscribe(64)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if want != nil && !want[ev.Type] {
				continue
			}
			writeSSE(w, string(ev.Type), ev)
			flusher.Flush()
		}
	}
}
