package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/upb/medrecords-portal/session"
	"go.uber.org/zap"
)

// SessionRegistry resolves browser session IDs to holders
type SessionRegistry interface {
	Resume(ctx context.Context, sessionID string) (*session.Holder, bool)
	Issue() *session.Holder
}

// CookieConfig describes the browser session cookie
type CookieConfig struct {
	Name   string
	Secure bool
	MaxAge time.Duration
}

// SessionMiddleware attaches the browser session to every request
type SessionMiddleware struct {
	registry SessionRegistry
	cookie   CookieConfig
	logger   *zap.Logger
}

// NewSessionMiddleware creates a new SessionMiddleware
func NewSessionMiddleware(registry SessionRegistry, cookie CookieConfig, logger *zap.Logger) *SessionMiddleware {
	if cookie.Name == "" {
		cookie.Name = "portal_session"
	}
	return &SessionMiddleware{
		registry: registry,
		cookie:   cookie,
		logger:   logger,
	}
}

// CookieName returns the session cookie name
func (m *SessionMiddleware) CookieName() string {
	return m.cookie.Name
}

// LoadSession resumes the browser session named by the cookie, or issues a
// new one when the cookie is missing or names a session this portal does not
// know. It stores the holder, the session ID and one snapshot in the request
// context; everything downstream evaluates that single snapshot. The cookie
// is rewritten whenever the holder's ID differs from the one the browser
// sent, which covers new sessions and IDs rotated by a login.
func (m *SessionMiddleware) LoadSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		sent := m.sessionID(r)

		var holder *session.Holder
		resumed := false
		if sent != "" {
			holder, resumed = m.registry.Resume(ctx, sent)
		}
		if !resumed {
			holder = m.registry.Issue()
			m.logger.Debug("session issued",
				zap.String("request_id", GetRequestIDFromContext(ctx)),
				zap.String("session_id", holder.ID()),
				zap.Bool("replaced_cookie", sent != ""))
		}

		ctx = WithSessionID(ctx, holder.ID())
		ctx = WithHolder(ctx, holder)
		ctx = session.WithSnapshot(ctx, holder.Snapshot())

		cw := &sessionCookieWriter{ResponseWriter: w, middleware: m, holder: holder, sent: sent}
		next.ServeHTTP(cw, r.WithContext(ctx))
		cw.syncCookie()
	})
}

// sessionCookieWriter sets the session cookie just before the response
// header is written.
type sessionCookieWriter struct {
	http.ResponseWriter
	middleware *SessionMiddleware
	holder     *session.Holder
	sent       string
	synced     bool
}

func (w *sessionCookieWriter) WriteHeader(code int) {
	w.syncCookie()
	w.ResponseWriter.WriteHeader(code)
}

func (w *sessionCookieWriter) Write(b []byte) (int, error) {
	w.syncCookie()
	return w.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *sessionCookieWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *sessionCookieWriter) syncCookie() {
	if w.synced {
		return
	}
	w.synced = true
	if id := w.holder.ID(); id != w.sent {
		w.middleware.setCookie(w.ResponseWriter, id)
	}
}

// sessionID returns the cookie value when it is a well-formed session ID
func (m *SessionMiddleware) sessionID(r *http.Request) string {
	cookie, err := r.Cookie(m.cookie.Name)
	if err != nil || cookie.Value == "" {
		return ""
	}
	id, err := uuid.Parse(cookie.Value)
	if err != nil {
		return ""
	}
	return id.String()
}

func (m *SessionMiddleware) setCookie(w http.ResponseWriter, sessionID string) {
	cookie := &http.Cookie{
		Name:     m.cookie.Name,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	if m.cookie.MaxAge > 0 {
		cookie.MaxAge = int(m.cookie.MaxAge.Seconds())
	}
	http.SetCookie(w, cookie)
}
