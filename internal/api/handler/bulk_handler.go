package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/eduanalytics/notify-relay/internal/domain"
	"github.com/eduanalytics/notify-relay/internal/notify"
)

// BulkHandler handles the bulk send endpoint.
type BulkHandler struct {
	sys    *notify.System
	logger *zap.Logger
}

func NewBulkHandler(sys *notify.System, logger *zap.Logger) *BulkHandler {
	return &BulkHandler{sys: sys, logger: logger}
}

// SendBulk handles POST /api/v1/notifications/bulk
//
// @Summary  Send up to 1000 notifications in a single request
// @Tags     notifications
// @Accept   json
// @Produce  json
// @Param    body  body      domain.BulkRequest  true  "Bulk payload"
// @Success  200   {object}  notify.BulkResult
// @Failure  422   {object}  map[string]string
// @Router   /api/v1/notifications/bulk [post]
func (h *BulkHandler) SendBulk(w http.ResponseWriter, r *http.Request) {
	var req domain.BulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res, err := h.sys.SendBulk(r.Context(), req)
	if err != nil {
		h.logger.Warn("bulk send failed", zap.Error(err))
		mapError(w, err)
		return
	}

	// Item-level failures live inside the result; the batch itself is 200.
	respondJSON(w, http.StatusOK, res)
}
