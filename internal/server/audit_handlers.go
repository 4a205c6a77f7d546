package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/quant-core/internal/audit"
)

type auditHandlers struct {
	audit *audit.Log
	log   zerolog.Logger
}

// handleVerify serves GET /api/admin/audit/{stream}/verify, walking the
// given stream's hash chain end to end.
func (h *auditHandlers) handleVerify(w http.ResponseWriter, r *http.Request) {
	stream := chi.URLParam(r, "stream")

	if err := h.audit.VerifyChain(r.Context(), stream); err != nil {
		h.log.Warn().Err(err).Str("stream", stream).Msg("audit chain verification failed")
		writeJSON(w, http.StatusConflict, map[string]string{"valid": "false", "error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"valid": true})
}
