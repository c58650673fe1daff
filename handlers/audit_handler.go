package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/upb/medrecords-portal/middleware"
	"github.com/upb/medrecords-portal/models"
	"github.com/upb/medrecords-portal/repositories"
	"github.com/upb/medrecords-portal/utils"
	"go.uber.org/zap"
)

const (
	defaultAuditPageSize = 50
	maxAuditPageSize     = 200
)

// AuditLogListResponse is one page of access audit entries
type AuditLogListResponse struct {
	Logs   []*models.AccessAuditLog `json:"logs"`
	Limit  int                      `json:"limit"`
	Offset int                      `json:"offset"`
}

// AuditHandler serves the access audit trail to administrators
type AuditHandler struct {
	repo   repositories.AuditRepository
	logger *zap.Logger
}

// NewAuditHandler creates a new AuditHandler
func NewAuditHandler(repo repositories.AuditRepository, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{
		repo:   repo,
		logger: logger,
	}
}

// HandleList handles GET /api/v1/audit/logs
//
// Filters are applied in this order, first match wins: request_id,
// session_id, user_id, from/to (RFC 3339). Without a filter the newest
// entries are listed.
func (h *AuditHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit, offset, err := pagination(q.Get("limit"), q.Get("offset"))
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	ctx := r.Context()
	var logs []*models.AccessAuditLog

	switch {
	case q.Get("request_id") != "":
		logs, err = h.repo.GetByRequestID(ctx, q.Get("request_id"))
	case q.Get("session_id") != "":
		logs, err = h.repo.GetBySessionID(ctx, q.Get("session_id"), limit, offset)
	case q.Get("user_id") != "":
		logs, err = h.repo.GetByUserID(ctx, q.Get("user_id"), limit, offset)
	case q.Get("from") != "" || q.Get("to") != "":
		start, end, rangeErr := dateRange(q.Get("from"), q.Get("to"))
		if rangeErr != nil {
			HandleValidationError(w, rangeErr, h.logger)
			return
		}
		logs, err = h.repo.GetByDateRange(ctx, start, end, limit, offset)
	default:
		logs, err = h.repo.List(ctx, limit, offset)
	}

	if err != nil {
		h.logger.Error("failed to list audit logs",
			zap.String("request_id", middleware.GetRequestIDFromContext(ctx)),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}
	if logs == nil {
		logs = []*models.AccessAuditLog{}
	}

	_ = utils.WriteOK(w, AuditLogListResponse{Logs: logs, Limit: limit, Offset: offset})
}

// HandleGet handles GET /api/v1/audit/logs/{id}
func (h *AuditHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid audit log ID", nil)
		return
	}

	log, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, log)
}

func pagination(rawLimit, rawOffset string) (int, int, error) {
	limit := defaultAuditPageSize
	if rawLimit != "" {
		n, err := strconv.Atoi(rawLimit)
		if err != nil || n < 1 {
			return 0, 0, fmt.Errorf("limit must be a positive integer")
		}
		limit = min(n, maxAuditPageSize)
	}

	offset := 0
	if rawOffset != "" {
		n, err := strconv.Atoi(rawOffset)
		if err != nil || n < 0 {
			return 0, 0, fmt.Errorf("offset must be a non-negative integer")
		}
		offset = n
	}
	return limit, offset, nil
}

// dateRange parses an RFC 3339 range. A missing bound is open.
func dateRange(rawFrom, rawTo string) (time.Time, time.Time, error) {
	start := time.Unix(0, 0).UTC()
	end := time.Now().UTC()

	if rawFrom != "" {
		t, err := time.Parse(time.RFC3339, rawFrom)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("from must be an RFC 3339 timestamp")
		}
		start = t
	}
	if rawTo != "" {
		t, err := time.Parse(time.RFC3339, rawTo)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("to must be an RFC 3339 timestamp")
		}
		end = t
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("to must not be before from")
	}
	return start, end, nil
}
