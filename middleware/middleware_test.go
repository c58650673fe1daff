package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/upb/medrecords-portal/clients/records"
	"github.com/upb/medrecords-portal/internal/auth"
	"github.com/upb/medrecords-portal/models"
	"github.com/upb/medrecords-portal/session"
)

// recordingRecorder captures audit entries
type recordingRecorder struct {
	mu      sync.Mutex
	entries []*models.AccessAuditLog
}

func (r *recordingRecorder) Record(log *models.AccessAuditLog) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, log)
}

func (r *recordingRecorder) RecordWait(_ context.Context, log *models.AccessAuditLog) {
	r.Record(log)
}

func (r *recordingRecorder) Entries() []*models.AccessAuditLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.AccessAuditLog, len(r.entries))
	copy(out, r.entries)
	return out
}

// stubBackend signs in with the password "secret" and answers CurrentUser
// for one known token
type stubBackend struct {
	token string
	user  *records.User
}

func (b *stubBackend) Login(_ context.Context, _ string, password string) (*records.LoginResponse, error) {
	if password != "secret" {
		return nil, records.ErrUnauthorized
	}
	return &records.LoginResponse{AccessToken: b.token, User: b.user}, nil
}

func (b *stubBackend) CurrentUser(_ context.Context, token string) (*records.User, error) {
	if token != b.token {
		return nil, records.ErrUnauthorized
	}
	return b.user, nil
}

func (b *stubBackend) Logout(context.Context, string) error { return nil }

func (b *stubBackend) ProfileStatus(context.Context, string) (bool, error) { return true, nil }

func identity(role auth.Role) *auth.Identity {
	return auth.NewIdentity("user-1", "user@example.com", "Test User", role)
}

func requestWithSnapshot(method, target string, snap session.Snapshot) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	ctx := WithSessionID(req.Context(), "sess-1")
	ctx = session.WithSnapshot(ctx, snap)
	return req.WithContext(ctx)
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}
