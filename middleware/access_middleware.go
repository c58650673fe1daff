package middleware

import (
	"net/http"

	"github.com/upb/medrecords-portal/internal/auth"
	"github.com/upb/medrecords-portal/models"
	"github.com/upb/medrecords-portal/services/audit"
	"github.com/upb/medrecords-portal/session"
	"github.com/upb/medrecords-portal/utils"
	"go.uber.org/zap"
)

// AccessMiddleware applies the access evaluator at the API boundary
type AccessMiddleware struct {
	recorder audit.Recorder
	logger   *zap.Logger
}

// NewAccessMiddleware creates a new AccessMiddleware
func NewAccessMiddleware(recorder audit.Recorder, logger *zap.Logger) *AccessMiddleware {
	if recorder == nil {
		recorder = audit.NoopRecorder{}
	}
	return &AccessMiddleware{
		recorder: recorder,
		logger:   logger,
	}
}

// RequireAuth rejects requests without an authenticated session. While the
// session is still being restored it answers 503 so the client retries.
func (m *AccessMiddleware) RequireAuth(next http.Handler) http.Handler {
	return m.RequireAccess(auth.Requirement{})(next)
}

// RequireAccess admits requests whose identity satisfies req. Denials are
// answered with JSON and recorded in the audit trail.
func (m *AccessMiddleware) RequireAccess(req auth.Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			snap, _ := session.SnapshotFromContext(r.Context())
			if snap.Loading {
				_ = utils.WriteServiceUnavailable(w, "Session is being restored", 1)
				return
			}

			decision := auth.Authorize(snap.Identity, req)
			if decision.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			m.deny(w, r, decision.Reason)
		})
	}
}

func (m *AccessMiddleware) deny(w http.ResponseWriter, r *http.Request, reason auth.DenyReason) {
	ctx := r.Context()
	m.logger.Warn("api access denied",
		zap.String("request_id", GetRequestIDFromContext(ctx)),
		zap.String("session_id", GetSessionIDFromContext(ctx)),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("reason", string(reason)))

	m.recorder.Record(NewAuditEntry(r, models.AuditActionAPIDenied, models.AuditOutcomeDenied).
		WithReason(string(reason)).
		WithDetails(map[string]string{"method": r.Method}))

	if reason == auth.DenyUnauthenticated {
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return
	}
	_ = utils.WriteForbidden(w, "Insufficient permissions")
}
