package middleware

import (
	"net/http"

	"github.com/upb/medrecords-portal/internal/guard"
	"github.com/upb/medrecords-portal/models"
	"github.com/upb/medrecords-portal/services/audit"
	"github.com/upb/medrecords-portal/session"
	"github.com/upb/medrecords-portal/utils"
	"go.uber.org/zap"
)

// GuardMiddleware enforces route guards on page navigations
type GuardMiddleware struct {
	guard    *guard.Guard
	recorder audit.Recorder
	logger   *zap.Logger
}

// NewGuardMiddleware creates a new GuardMiddleware
func NewGuardMiddleware(g *guard.Guard, recorder audit.Recorder, logger *zap.Logger) *GuardMiddleware {
	if g == nil {
		g = guard.New()
	}
	if recorder == nil {
		recorder = audit.NoopRecorder{}
	}
	return &GuardMiddleware{
		guard:    g,
		recorder: recorder,
		logger:   logger,
	}
}

// Protect guards next with route. LOADING answers 503 with Retry-After and
// no page content, DENIED redirects with 302 Found.
func (m *GuardMiddleware) Protect(route guard.Route) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			snap, _ := session.SnapshotFromContext(r.Context())
			decision := m.guard.Evaluate(route, snap, r.URL.RequestURI())

			switch decision.State {
			case guard.StateAllowed:
				next.ServeHTTP(w, r)
			case guard.StateLoading:
				w.Header().Set("Cache-Control", "no-store")
				_ = utils.WriteServiceUnavailable(w, "Loading", 1)
			default:
				m.denied(w, r, route, decision)
			}
		})
	}
}

func (m *GuardMiddleware) denied(w http.ResponseWriter, r *http.Request, route guard.Route, decision guard.Decision) {
	ctx := r.Context()
	m.logger.Info("navigation denied",
		zap.String("request_id", GetRequestIDFromContext(ctx)),
		zap.String("session_id", GetSessionIDFromContext(ctx)),
		zap.String("route", route.Path),
		zap.String("reason", string(decision.Reason)),
		zap.String("redirect", decision.Redirect))

	m.recorder.Record(NewAuditEntry(r, models.AuditActionRouteDenied, models.AuditOutcomeDenied).
		WithReason(string(decision.Reason)).
		WithDetails(map[string]string{"route": route.Path, "redirect": decision.Redirect}))

	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, decision.Redirect, http.StatusFound)
}
