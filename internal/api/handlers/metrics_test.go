package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dhima/mysqlscope/internal/logging"
	"github.com/dhima/mysqlscope/internal/probe"
	"github.com/dhima/mysqlscope/pkg/mysqlclient"
	"github.com/gin-gonic/gin"
)

type staticStats mysqlclient.LibraryStats

func (s staticStats) Stats() mysqlclient.LibraryStats { return mysqlclient.LibraryStats(s) }

func TestMetrics_WhenCalled_ThenReportsHandlesAndProbe(t *testing.T) {
	// Arrange
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, router := gin.CreateTestContext(w)

	stats := staticStats{References: 3, Connections: 1, Statements: 1}
	prober := &fakeProber{last: &probe.Snapshot{Seq: 12, Healthy: true, Duration: "3ms"}}
	handler := NewMetricsHandler(logging.NewNoOpLogger(), stats, prober)

	router.GET("/metrics", handler.Metrics)
	c.Request = httptest.NewRequest(http.MethodGet, "/metrics", nil)

	// Act
	router.ServeHTTP(w, c.Request)

	// Assert
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var responseWrapper struct {
		Data MetricsResponse `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &responseWrapper); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	metrics := responseWrapper.Data
	if metrics.LibraryReferences != 3 || metrics.LiveConnections != 1 || metrics.LiveStatements != 1 {
		t.Errorf("unexpected handle counts: %+v", metrics)
	}
	if metrics.ProbeRuns != 12 || !metrics.LastProbeHealthy {
		t.Errorf("unexpected probe metrics: %+v", metrics)
	}
	if metrics.LastProbeDuration != "3ms" {
		t.Errorf("expected duration '3ms', got '%s'", metrics.LastProbeDuration)
	}
}

func TestMetrics_WhenNoProbeYet_ThenReportsZeroRuns(t *testing.T) {
	// Arrange
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	_, router := gin.CreateTestContext(w)
	handler := NewMetricsHandler(logging.NewNoOpLogger(), staticStats{References: 1}, &fakeProber{})
	router.GET("/metrics", handler.Metrics)

	// Act
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	// Assert
	var responseWrapper struct {
		Data MetricsResponse `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &responseWrapper); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if responseWrapper.Data.ProbeRuns != 0 || responseWrapper.Data.LastProbeHealthy {
		t.Errorf("expected no probe data, got %+v", responseWrapper.Data)
	}
}
