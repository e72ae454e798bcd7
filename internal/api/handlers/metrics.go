package handlers

import (
	"github.com/dhima/mysqlscope/internal/api/response"
	"github.com/dhima/mysqlscope/internal/logging"
	"github.com/dhima/mysqlscope/pkg/mysqlclient"
	"github.com/gin-gonic/gin"
)

// StatsSource reports live references held on the client library.
type StatsSource interface {
	Stats() mysqlclient.LibraryStats
}

// MetricsHandler handles metrics requests.
type MetricsHandler struct {
	logger logging.Logger
	stats  StatsSource
	prober Prober
}

// NewMetricsHandler creates a new metrics handler.
func NewMetricsHandler(logger logging.Logger, stats StatsSource, prober Prober) *MetricsHandler {
	return &MetricsHandler{logger: logger, stats: stats, prober: prober}
}

// MetricsResponse represents the metrics response.
type MetricsResponse struct {
	LibraryReferences int    `json:"library_references"`
	LiveConnections   int    `json:"live_connections"`
	LiveStatements    int    `json:"live_statements"`
	ProbeRuns         int64  `json:"probe_runs"`
	LastProbeHealthy  bool   `json:"last_probe_healthy"`
	LastProbeDuration string `json:"last_probe_duration,omitempty"`
}

// Metrics reports handle counts and the state of the last probe run.
func (h *MetricsHandler) Metrics(c *gin.Context) {
	stats := h.stats.Stats()
	metrics := MetricsResponse{
		LibraryReferences: stats.References,
		LiveConnections:   stats.Connections,
		LiveStatements:    stats.Statements,
	}
	if snap, ran := h.prober.Last(); ran {
		metrics.ProbeRuns = snap.Seq
		metrics.LastProbeHealthy = snap.Healthy
		metrics.LastProbeDuration = snap.Duration
	}
	response.OK(c, metrics)
}
