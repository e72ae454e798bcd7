package handlers

import (
	"net/http"

	"github.com/dhima/mysqlscope/internal/api/response"
	"github.com/dhima/mysqlscope/internal/logging"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ProbeHandler exposes the probe snapshots.
type ProbeHandler struct {
	logger logging.Logger
	prober Prober
}

func NewProbeHandler(logger logging.Logger, prober Prober) *ProbeHandler {
	return &ProbeHandler{logger: logger, prober: prober}
}

// Last returns the most recent snapshot, or 404 before the first run.
func (h *ProbeHandler) Last(c *gin.Context) {
	snap, ran := h.prober.Last()
	if !ran {
		response.NotFound(c, "no probe has completed yet")
		return
	}
	response.OK(c, snap)
}

// Run executes the probe immediately. A failed run answers 502 with the
// native error code and the snapshot as details.
func (h *ProbeHandler) Run(c *gin.Context) {
	snap, err := h.prober.RunOnce(c.Request.Context())
	if err != nil {
		h.logger.Warn("manual probe failed",
			zap.String("request_id", response.GetRequestID(c)),
			zap.Error(err),
		)
		response.DatabaseError(c, http.StatusBadGateway, snap.Error, snap.ErrorCode, snap)
		return
	}
	response.OK(c, snap)
}
