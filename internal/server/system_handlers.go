package server

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

type systemHandlers struct {
	log zerolog.Logger
}

// handleStatus serves GET /api/admin/system/status with basic host metrics.
func (h *systemHandlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	cpuPercent := 0.0
	if pcts, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(pcts) > 0 {
		cpuPercent = pcts[0]
	} else if err != nil {
		h.log.Warn().Err(err).Msg("cpu stats unavailable")
	}

	memPercent := 0.0
	if memStat, err := mem.VirtualMemory(); err == nil {
		memPercent = memStat.UsedPercent
	} else {
		h.log.Warn().Err(err).Msg("memory stats unavailable")
	}

	writeJSON(w, http.StatusOK, map[string]float64{
		"cpu_percent":    cpuPercent,
		"memory_percent": memPercent,
	})
}
