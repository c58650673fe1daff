package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/upb/medrecords-portal/clients/records"
	"github.com/upb/medrecords-portal/internal/auth"
	"github.com/upb/medrecords-portal/middleware"
	"github.com/upb/medrecords-portal/models"
	"github.com/upb/medrecords-portal/session"
	"github.com/upb/medrecords-portal/session/tokenstore"
	"go.uber.org/zap"
)

type fakeAccount struct {
	password string
	token    string
	user     *records.User
}

// fakeBackend is an in-memory records backend keyed by email and token
type fakeBackend struct {
	mu          sync.Mutex
	accounts    map[string]fakeAccount
	profileDone bool
	logouts     []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{accounts: map[string]fakeAccount{}, profileDone: true}
}

func (b *fakeBackend) addUser(email, password, token, role string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.accounts[email] = fakeAccount{
		password: password,
		token:    token,
		user: &records.User{
			ID:       "user-" + token,
			Email:    email,
			FullName: "Test " + role,
			Role:     role,
		},
	}
}

func (b *fakeBackend) setProfileDone(done bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.profileDone = done
}

func (b *fakeBackend) Login(_ context.Context, email, password string) (*records.LoginResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	acc, ok := b.accounts[email]
	if !ok || acc.password != password {
		return nil, &records.APIError{StatusCode: http.StatusUnauthorized, Message: "Incorrect email or password"}
	}
	return &records.LoginResponse{AccessToken: acc.token, TokenType: "bearer", User: acc.user}, nil
}

func (b *fakeBackend) CurrentUser(_ context.Context, token string) (*records.User, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, acc := range b.accounts {
		if acc.token == token {
			return acc.user, nil
		}
	}
	return nil, records.ErrUnauthorized
}

func (b *fakeBackend) Logout(_ context.Context, token string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logouts = append(b.logouts, token)
	return nil
}

func (b *fakeBackend) ProfileStatus(context.Context, string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.profileDone, nil
}

func (b *fakeBackend) Logouts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.logouts...)
}

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
	return append([]*models.AccessAuditLog(nil), r.entries...)
}

// newSettledHolder returns a holder whose restore has completed without a
// persisted token.
func newSettledHolder(t *testing.T, backend session.Backend) (*session.Holder, tokenstore.Store) {
	t.Helper()
	store := tokenstore.NewMemoryStore(time.Hour)
	holder := session.NewHolder("sess-1", backend, store, zap.NewNop())
	require.NoError(t, holder.Init(context.Background()))
	return holder, store
}

// newSignedInHolder logs email in on a settled holder.
func newSignedInHolder(t *testing.T, backend session.Backend, email, password string) (*session.Holder, tokenstore.Store) {
	t.Helper()
	holder, store := newSettledHolder(t, backend)
	_, err := holder.Login(context.Background(), email, password)
	require.NoError(t, err)
	return holder, store
}

// withHolder attaches holder and its current snapshot the way the session
// middleware does.
func withHolder(req *http.Request, holder *session.Holder) *http.Request {
	ctx := middleware.WithSessionID(req.Context(), holder.ID())
	ctx = middleware.WithHolder(ctx, holder)
	ctx = session.WithSnapshot(ctx, holder.Snapshot())
	return req.WithContext(ctx)
}

func withSnapshot(req *http.Request, snap session.Snapshot) *http.Request {
	ctx := middleware.WithSessionID(req.Context(), "sess-1")
	ctx = session.WithSnapshot(ctx, snap)
	return req.WithContext(ctx)
}

func identity(role auth.Role) *auth.Identity {
	return auth.NewIdentity("user-1", "user@example.com", "Test User", role)
}

func signedIn(role auth.Role) session.Snapshot {
	return session.Snapshot{Identity: identity(role)}
}

func newRequest(method, target string) *http.Request {
	return httptest.NewRequest(method, target, nil)
}
