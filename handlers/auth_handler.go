package handlers

import (
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/upb/medrecords-portal/internal/auth"
	"github.com/upb/medrecords-portal/internal/guard"
	"github.com/upb/medrecords-portal/middleware"
	"github.com/upb/medrecords-portal/models"
	"github.com/upb/medrecords-portal/services"
	"github.com/upb/medrecords-portal/services/audit"
	"github.com/upb/medrecords-portal/services/ratelimit"
	"github.com/upb/medrecords-portal/session"
	"github.com/upb/medrecords-portal/utils"
	"go.uber.org/zap"
)

// DefaultLandingPath is where a successful login goes when no safe return
// location was supplied.
const DefaultLandingPath = "/dashboard"

// LoginRequest is the body of POST /api/v1/auth/login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	From     string `json:"from,omitempty"`
}

// SessionResponse is the session view returned to the SPA
type SessionResponse struct {
	User            *auth.Identity `json:"user"`
	IsAuthenticated bool           `json:"is_authenticated"`
	Loading         bool           `json:"loading"`
	RedirectTo      string         `json:"redirect_to,omitempty"`
}

func newSessionResponse(snap session.Snapshot) SessionResponse {
	return SessionResponse{
		User:            snap.Identity,
		IsAuthenticated: snap.Authenticated(),
		Loading:         snap.Loading,
	}
}

// AuthHandler exposes the session holder operations over HTTP
type AuthHandler struct {
	recorder audit.Recorder
	throttle *ratelimit.RateLimitService
	logger   *zap.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(recorder audit.Recorder, logger *zap.Logger) *AuthHandler {
	if recorder == nil {
		recorder = audit.NoopRecorder{}
	}
	return &AuthHandler{
		recorder: recorder,
		logger:   logger,
	}
}

// WithLoginThrottle limits failed sign-ins. A nil service disables it.
func (h *AuthHandler) WithLoginThrottle(throttle *ratelimit.RateLimitService) *AuthHandler {
	h.throttle = throttle
	return h
}

// HandleLogin handles POST /api/v1/auth/login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	holder, ok := h.holder(w, r)
	if !ok {
		return
	}

	var req LoginRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	attempt := ratelimit.RateLimitRequest{Email: req.Email, ClientIP: clientIP(r)}
	if h.throttled(w, r, attempt) {
		return
	}

	identity, err := holder.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.logger.Info("login failed",
			zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
			zap.String("session_id", holder.ID()),
			zap.Error(err))

		if services.IsUnauthorizedError(err) && h.throttle != nil {
			if err := h.throttle.RecordFailure(r.Context(), attempt); err != nil {
				h.logger.Warn("failed to record sign-in failure", zap.Error(err))
			}
		}

		if !errors.Is(err, services.ErrSuperseded) {
			h.recorder.RecordWait(r.Context(), middleware.NewAuditEntry(r, models.AuditActionLogin, models.AuditOutcomeFailure).
				WithReason(string(services.GetErrorType(err))).
				WithDetails(map[string]string{"email": strings.ToLower(strings.TrimSpace(req.Email))}))
		}
		HandleServiceError(w, err, h.logger)
		return
	}

	h.recorder.RecordWait(r.Context(), middleware.NewAuditEntry(r, models.AuditActionLogin, models.AuditOutcomeSuccess).
		WithUser(identity.ID, identity.Role.String()))

	if h.throttle != nil {
		if err := h.throttle.Reset(r.Context(), attempt); err != nil {
			h.logger.Warn("failed to reset sign-in attempts", zap.Error(err))
		}
	}

	resp := newSessionResponse(holder.Snapshot())
	resp.RedirectTo = landingPath(identity, req.From)
	if err := utils.WriteJSON(w, http.StatusOK, resp); err != nil {
		h.logger.Error("failed to write login response", zap.Error(err))
	}
}

// HandleLogout handles POST /api/v1/auth/logout. Signing out a session that
// is not signed in succeeds.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	holder, ok := h.holder(w, r)
	if !ok {
		return
	}

	snap, _ := session.SnapshotFromContext(r.Context())

	if err := holder.Logout(r.Context()); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if snap.Authenticated() {
		h.recorder.RecordWait(r.Context(), middleware.NewAuditEntry(r, models.AuditActionLogout, models.AuditOutcomeSuccess))
	}

	if err := utils.WriteJSON(w, http.StatusOK, newSessionResponse(holder.Snapshot())); err != nil {
		h.logger.Error("failed to write logout response", zap.Error(err))
	}
}

// HandleRegister handles POST /api/v1/auth/register. Self-registration is
// not offered; the body is never read.
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var err error = services.ErrRegistrationDisabled
	if holder := middleware.GetHolderFromContext(r.Context()); holder != nil {
		err = holder.Register(r.Context(), session.RegisterRequest{})
	}

	h.recorder.Record(middleware.NewAuditEntry(r, models.AuditActionRegisterRejected, models.AuditOutcomeDenied).
		WithReason("registration_disabled"))

	HandleServiceError(w, err, h.logger)
}

// HandleMe handles GET /api/v1/auth/me
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	snap, ok := session.SnapshotFromContext(r.Context())
	if !ok {
		snap = session.Snapshot{}
	}
	if err := utils.WriteJSON(w, http.StatusOK, newSessionResponse(snap)); err != nil {
		h.logger.Error("failed to write session response", zap.Error(err))
	}
}

// HandleRefreshProfileStatus handles POST /api/v1/auth/profile-status/refresh.
// Doctors call it after completing their profile so the guard stops
// redirecting them.
func (h *AuthHandler) HandleRefreshProfileStatus(w http.ResponseWriter, r *http.Request) {
	holder, ok := h.holder(w, r)
	if !ok {
		return
	}

	snap, err := holder.RefreshProfileStatus(r.Context())
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if snap.Identity.IsDoctor() {
		h.recorder.Record(middleware.NewAuditEntry(r, models.AuditActionProfileRefreshed, models.AuditOutcomeSuccess).
			WithDetails(map[string]bool{"has_completed_profile": snap.Identity.ProfileCompleted}))
	}

	if err := utils.WriteJSON(w, http.StatusOK, newSessionResponse(snap)); err != nil {
		h.logger.Error("failed to write session response", zap.Error(err))
	}
}

// throttled answers 429 when attempt is over its limit. A failing counter
// lets the attempt through.
func (h *AuthHandler) throttled(w http.ResponseWriter, r *http.Request, attempt ratelimit.RateLimitRequest) bool {
	if h.throttle == nil {
		return false
	}

	result, err := h.throttle.CheckLimit(r.Context(), attempt)
	if err != nil {
		h.logger.Warn("sign-in throttle unavailable", zap.Error(err))
		return false
	}
	if result.Allowed {
		return false
	}

	h.logger.Info("sign-in throttled",
		zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
		zap.String("client_ip", attempt.ClientIP),
		zap.String("window", string(result.ViolatedWindow)),
		zap.Duration("retry_after", result.RetryAfter))

	h.recorder.Record(middleware.NewAuditEntry(r, models.AuditActionLogin, models.AuditOutcomeDenied).
		WithReason("throttled").
		WithDetails(map[string]string{
			"email":  strings.ToLower(strings.TrimSpace(attempt.Email)),
			"window": string(result.ViolatedWindow),
		}))

	HandleServiceError(w, result.Err(), h.logger)
	return true
}

// clientIP strips the port RealIP leaves on RemoteAddr when no proxy header
// was present.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func (h *AuthHandler) holder(w http.ResponseWriter, r *http.Request) (*session.Holder, bool) {
	holder := middleware.GetHolderFromContext(r.Context())
	if holder == nil {
		h.logger.Error("no session holder on request",
			zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())))
		_ = utils.WriteInternalServerError(w, "Session not available")
		return nil, false
	}
	return holder, true
}

// landingPath picks where the SPA goes after login. Doctors with an
// unfinished profile always land on the completion page.
func landingPath(identity *auth.Identity, from string) string {
	if identity.NeedsProfileCompletion() {
		return guard.DefaultCompleteProfilePath
	}
	if safeReturnPath(from) {
		return from
	}
	return DefaultLandingPath
}

// safeReturnPath accepts only local absolute paths, excluding the login page.
func safeReturnPath(p string) bool {
	if !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") || strings.HasPrefix(p, "/\\") {
		return false
	}
	if strings.ContainsAny(p, "\r\n") {
		return false
	}
	path := p
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	return path != guard.DefaultLoginPath
}
