package handlers

import (
	"context"

	"github.com/dhima/mysqlscope/internal/api/response"
	"github.com/dhima/mysqlscope/internal/logging"
	"github.com/dhima/mysqlscope/internal/probe"
	"github.com/gin-gonic/gin"
)

// Prober is the part of the probe the API needs.
type Prober interface {
	RunOnce(ctx context.Context) (probe.Snapshot, error)
	Last() (probe.Snapshot, bool)
}

// HealthHandler handles health check requests.
type HealthHandler struct {
	logger  logging.Logger
	prober  Prober
	version string
}

// NewHealthHandler creates a new health check handler.
func NewHealthHandler(logger logging.Logger, prober Prober, version string) *HealthHandler {
	return &HealthHandler{logger: logger, prober: prober, version: version}
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status   string          `json:"status"`
	Service  string          `json:"service"`
	Version  string          `json:"version"`
	Database *probe.Snapshot `json:"database,omitempty"`
}

// Health reports 200 while the last probe run succeeded and 503 otherwise,
// including before the first run.
func (h *HealthHandler) Health(c *gin.Context) {
	body := HealthResponse{
		Status:  "ok",
		Service: "mysqlprobe",
		Version: h.version,
	}

	snap, ran := h.prober.Last()
	if !ran {
		body.Status = "starting"
		response.ServiceUnavailable(c, "no probe has completed yet", body)
		return
	}
	body.Database = &snap
	if !snap.Healthy {
		body.Status = "degraded"
		response.ServiceUnavailable(c, snap.Error, body)
		return
	}
	response.OK(c, body)
}
