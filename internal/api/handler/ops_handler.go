package handler

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/eduanalytics/notify-relay/internal/notify"
)

// OpsHandler serves the operator endpoints: delivery metrics, queue health
// and dead-letter recovery. Raw Prometheus metrics (counters, histograms)
// are available at /metrics via promhttp and are separate from these.
type OpsHandler struct {
	sys    *notify.System
	logger *zap.Logger
}

func NewOpsHandler(sys *notify.System, logger *zap.Logger) *OpsHandler {
	return &OpsHandler{sys: sys, logger: logger}
}

// GetMetrics handles GET /api/v1/metrics
//
// @Summary  Delivery stats and latency distribution over a lookback window
// @Tags     operations
// @Produce  json
// @Param    hours  query     int  false  "Lookback window in hours (default 24)"
// @Success  200    {object}  notify.MetricsReport
// @Router   /api/v1/metrics [get]
func (h *OpsHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	hours, _ := strconv.Atoi(r.URL.Query().Get("hours"))
	report, err := h.sys.Metrics(r.Context(), hours)
	if err != nil {
		h.logger.Error("metrics query failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to compute metrics")
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// GetQueues handles GET /api/v1/queues
//
// @Summary  Queue depths, stranded count and recent success rate
// @Tags     operations
// @Produce  json
// @Success  200  {object}  notify.QueueStatsReport
// @Router   /api/v1/queues [get]
func (h *OpsHandler) GetQueues(w http.ResponseWriter, r *http.Request) {
	stats, err := h.sys.QueueStats(r.Context())
	if err != nil {
		h.logger.Error("queue stats query failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to read queue stats")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// RequeueDeadLetter handles POST /api/v1/queues/dead-letter/requeue
//
// @Summary  Feed dead-lettered messages back through the main queue
// @Tags     operations
// @Produce  json
// @Param    limit  query     int  false  "Maximum messages to requeue (default 10)"
// @Success  200    {object}  map[string]int
// @Failure  503    {object}  map[string]string
// @Router   /api/v1/queues/dead-letter/requeue [post]
func (h *OpsHandler) RequeueDeadLetter(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	n, err := h.sys.RequeueDeadLetters(r.Context(), limit)
	if err != nil {
		h.logger.Error("dead-letter requeue failed", zap.Int("requeued", n), zap.Error(err))
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"requeued": n})
}
