package middleware

import (
	"context"
	"net"
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/upb/medrecords-portal/models"
	"github.com/upb/medrecords-portal/session"
)

// Context key type to avoid collisions
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"

	// SessionIDKey is the context key for the browser session ID
	SessionIDKey contextKey = "session_id"

	// HolderKey is the context key for the session holder
	HolderKey contextKey = "session_holder"
)

// GetRequestIDFromContext retrieves the request ID from context, falling back
// to the ID set by chi's RequestID middleware
func GetRequestIDFromContext(ctx context.Context) string {
	if val := ctx.Value(RequestIDKey); val != nil {
		if requestID, ok := val.(string); ok {
			return requestID
		}
	}
	return chimiddleware.GetReqID(ctx)
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetSessionIDFromContext retrieves the browser session ID from context
func GetSessionIDFromContext(ctx context.Context) string {
	if val := ctx.Value(SessionIDKey); val != nil {
		if sessionID, ok := val.(string); ok {
			return sessionID
		}
	}
	return ""
}

// WithSessionID adds the browser session ID to the context
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

// GetHolderFromContext retrieves the session holder from context
func GetHolderFromContext(ctx context.Context) *session.Holder {
	if val := ctx.Value(HolderKey); val != nil {
		if holder, ok := val.(*session.Holder); ok {
			return holder
		}
	}
	return nil
}

// WithHolder adds the session holder to the context
func WithHolder(ctx context.Context, holder *session.Holder) context.Context {
	return context.WithValue(ctx, HolderKey, holder)
}

// ClientIP returns the remote address without its port
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// NewAuditEntry starts an access audit entry for r, filled with the session,
// request metadata and the acting identity when there is one.
func NewAuditEntry(r *http.Request, action models.AuditAction, outcome models.AuditOutcome) *models.AccessAuditLog {
	ctx := r.Context()
	entry := models.NewAccessAuditLog(GetSessionIDFromContext(ctx), action, r.URL.Path, outcome).
		WithRequest(GetRequestIDFromContext(ctx), ClientIP(r), r.UserAgent())

	if snap, ok := session.SnapshotFromContext(ctx); ok && snap.Identity != nil {
		entry.WithUser(snap.Identity.ID, snap.Identity.Role.String())
	}
	return entry
}
