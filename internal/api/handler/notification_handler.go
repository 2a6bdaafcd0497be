package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apimw "github.com/eduanalytics/notify-relay/internal/api/middleware"
	"github.com/eduanalytics/notify-relay/internal/domain"
	"github.com/eduanalytics/notify-relay/internal/notify"
)

// NotificationHandler handles the producer-facing notification endpoints.
type NotificationHandler struct {
	sys    *notify.System
	logger *zap.Logger
}

func NewNotificationHandler(sys *notify.System, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{sys: sys, logger: logger}
}

// Send handles POST /api/v1/notifications
//
// @Summary     Send a notification
// @Tags        notifications
// @Accept      json
// @Produce     json
// @Param       X-Idempotency-Key  header    string              false  "Overrides the derived idempotency key"
// @Param       body               body      domain.SendRequest  true   "Notification payload"
// @Success     201                {object}  notify.SendResult
// @Success     200                {object}  notify.SendResult   "Duplicate: resolved to the existing message"
// @Failure     422                {object}  map[string]string
// @Failure     503                {object}  map[string]string
// @Router      /api/v1/notifications [post]
func (h *NotificationHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req domain.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if key := r.Header.Get("X-Idempotency-Key"); key != "" {
		req.IdempotencyKey = key
	}

	res, err := h.sys.SendNotification(r.Context(), req)
	if err != nil {
		h.logger.Warn("send notification failed",
			zap.String("correlation_id", apimw.GetCorrelationID(r.Context())),
			zap.Error(err),
		)
		mapError(w, err)
		return
	}

	status := http.StatusCreated
	if res.Disposition == domain.DispositionDuplicate {
		status = http.StatusOK
	}
	respondJSON(w, status, res)
}

// GetStatus handles GET /api/v1/notifications/{id}
//
// @Summary  Get a message and its delivery attempt history
// @Tags     notifications
// @Produce  json
// @Param    id   path      string  true  "Message UUID"
// @Success  200  {object}  map[string]any
// @Failure  404  {object}  map[string]string
// @Router   /api/v1/notifications/{id} [get]
func (h *NotificationHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	msg, attempts, err := h.sys.Status(r.Context(), id)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"message":  msg,
		"attempts": attempts,
	})
}

// List handles GET /api/v1/notifications
//
// @Summary  List messages with filtering and pagination
// @Tags     notifications
// @Produce  json
// @Param    status   query     string  false  "Filter by status"
// @Param    channel  query     string  false  "Filter by channel"
// @Param    from     query     string  false  "Created after (RFC3339)"
// @Param    to       query     string  false  "Created before (RFC3339)"
// @Param    page     query     int     false  "Page number (default 1)"
// @Param    limit    query     int     false  "Items per page (default 20, max 100)"
// @Success  200      {object}  map[string]any
// @Router   /api/v1/notifications [get]
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := parseListFilter(r)
	messages, total, err := h.sys.List(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list notifications")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"data":  messages,
		"total": total,
		"page":  filter.Page,
		"limit": filter.Limit,
	})
}

func parseListFilter(r *http.Request) domain.ListFilter {
	q := r.URL.Query()
	filter := domain.ListFilter{Page: 1, Limit: 20}

	if p, err := strconv.Atoi(q.Get("page")); err == nil && p > 0 {
		filter.Page = p
	}
	if l, err := strconv.Atoi(q.Get("limit")); err == nil && l > 0 && l <= 100 {
		filter.Limit = l
	}
	if s := q.Get("status"); s != "" {
		st := domain.Status(s)
		filter.Status = &st
	}
	if ch := q.Get("channel"); ch != "" {
		c := domain.Channel(ch)
		filter.Channel = &c
	}
	if f := q.Get("from"); f != "" {
		if t, err := time.Parse(time.RFC3339, f); err == nil {
			filter.From = &t
		}
	}
	if to := q.Get("to"); to != "" {
		if t, err := time.Parse(time.RFC3339, to); err == nil {
			filter.To = &t
		}
	}
	return filter
}
