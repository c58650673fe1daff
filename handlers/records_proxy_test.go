package handlers

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/medrecords-portal/internal/auth"
	"github.com/upb/medrecords-portal/middleware"
	"github.com/upb/medrecords-portal/models"
	"github.com/upb/medrecords-portal/session"
	"go.uber.org/zap"
)

func TestRecordsRequirement(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		want   auth.Requirement
		found  bool
	}{
		{"list patients", http.MethodGet, "patients", need(auth.PermViewPatients), true},
		{"create patient", http.MethodPost, "patients", need(auth.PermCreatePatients), true},
		{"edit patient", http.MethodPatch, "patients/7", need(auth.PermEditPatients), true},
		{"delete patient", http.MethodDelete, "patients/7", need(auth.PermDeletePatients), true},
		{"view image", http.MethodGet, "images/3", need(auth.PermViewSegmentations), true},
		{"upload image", http.MethodPost, "images", need(auth.PermCreateSegmentations), true},
		{"validate segmentation", http.MethodPost, "segmentations/9/validate", need(auth.PermValidateSegmentations), true},
		{"treatments", http.MethodGet, "treatments", auth.Requirement{Roles: clinicalRoles, Permissions: []auth.Permission{auth.PermViewPatients}}, true},
		{"appointments", http.MethodPut, "appointments/1", need(auth.PermManageAppointments), true},
		{"report", http.MethodGet, "reports/monthly", need(auth.PermViewReports), true},
		{"report export", http.MethodPost, "reports/monthly/export", need(auth.PermViewReports, auth.PermExportData), true},
		{"users", http.MethodGet, "users", auth.Requirement{Roles: adminRoles, Permissions: []auth.Permission{auth.PermManageUsers}}, true},
		{"doctor directory", http.MethodGet, "doctors", auth.Requirement{}, true},
		{"doctor profile update", http.MethodPut, "doctors/me/profile", auth.Requirement{Roles: []auth.Role{auth.RoleDoctor, auth.RoleAdmin}}, true},
		{"unknown patient method", http.MethodOptions, "patients", auth.Requirement{}, false},
		{"unknown resource", http.MethodGet, "billing", auth.Requirement{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := RecordsRequirement(tt.method, tt.path)
			assert.Equal(t, tt.found, ok)
			if tt.found {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

// upstreamRecorder is a records backend that remembers the last request
type upstreamRecorder struct {
	mu     sync.Mutex
	calls  int
	last   *http.Request
	status int
}

func (u *upstreamRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	u.mu.Lock()
	u.calls++
	u.last = r.Clone(r.Context())
	status := u.status
	u.mu.Unlock()

	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Set-Cookie", "backend=1")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, `{"items":[]}`)
}

func (u *upstreamRecorder) Calls() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls
}

func (u *upstreamRecorder) Last() *http.Request {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.last
}

func newProxyRouter(t *testing.T, baseURL string, recorder *recordingRecorder) http.Handler {
	t.Helper()
	access := middleware.NewAccessMiddleware(recorder, zap.NewNop())
	proxy, err := NewRecordsProxy(baseURL, nil, access, zap.NewNop())
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Handle("/api/v1/records/*", proxy)
	return r
}

func TestRecordsProxy_ForwardsWithBearerToken(t *testing.T) {
	upstream := &upstreamRecorder{}
	server := httptest.NewServer(upstream)
	defer server.Close()

	backend := newFakeBackend()
	backend.addUser("doc@example.com", "secret", "tok-doc", "DOCTOR")
	holder, _ := newSignedInHolder(t, backend, "doc@example.com", "secret")

	router := newProxyRouter(t, server.URL+"/api/v1/", &recordingRecorder{})

	req := newRequest(http.MethodGet, "/api/v1/records/patients/42?include=images")
	req.Header.Set("Authorization", "Bearer forged")
	req.Header.Set("Cookie", "portal_session=sess-1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, withHolder(req, holder))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"items":[]}`, w.Body.String())
	assert.Empty(t, w.Header().Get("Set-Cookie"))

	last := upstream.Last()
	require.NotNil(t, last)
	assert.Equal(t, "/api/v1/patients/42", last.URL.Path)
	assert.Equal(t, "include=images", last.URL.RawQuery)
	assert.Equal(t, "Bearer tok-doc", last.Header.Get("Authorization"))
	assert.Empty(t, last.Header.Get("Cookie"))
}

func TestRecordsProxy_DeniesBeforeForwarding(t *testing.T) {
	upstream := &upstreamRecorder{}
	server := httptest.NewServer(upstream)
	defer server.Close()

	backend := newFakeBackend()
	backend.addUser("sec@example.com", "secret", "tok-sec", "SECRETARY")
	holder, _ := newSignedInHolder(t, backend, "sec@example.com", "secret")

	tests := []struct {
		name   string
		method string
		target string
	}{
		{"delete patient", http.MethodDelete, "/api/v1/records/patients/1"},
		{"treatments", http.MethodGet, "/api/v1/records/treatments"},
		{"reports", http.MethodGet, "/api/v1/records/reports/monthly"},
		{"users", http.MethodGet, "/api/v1/records/users"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := &recordingRecorder{}
			router := newProxyRouter(t, server.URL, recorder)

			w := httptest.NewRecorder()
			router.ServeHTTP(w, withHolder(newRequest(tt.method, tt.target), holder))

			assert.Equal(t, http.StatusForbidden, w.Code)
			entries := recorder.Entries()
			require.Len(t, entries, 1)
			assert.Equal(t, models.AuditActionAPIDenied, entries[0].Action)
		})
	}

	assert.Zero(t, upstream.Calls())
}

func TestRecordsProxy_RefusesDotSegments(t *testing.T) {
	upstream := &upstreamRecorder{}
	server := httptest.NewServer(upstream)
	defer server.Close()

	backend := newFakeBackend()
	backend.addUser("sec@example.com", "secret", "tok-sec", "SECRETARY")
	holder, _ := newSignedInHolder(t, backend, "sec@example.com", "secret")
	router := newProxyRouter(t, server.URL+"/api/v1", &recordingRecorder{})

	for _, target := range []string{
		"/api/v1/records/patients/../users",
		"/api/v1/records/patients/%2e%2e/users",
		"/api/v1/records/patients/..%2fusers",
		"/api/v1/records/patients/./1",
		"/api/v1/records/patients//1",
		"/api/v1/records/patients/..",
	} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, withHolder(newRequest(http.MethodGet, target), holder))
		assert.Equal(t, http.StatusNotFound, w.Code, target)
	}

	assert.Zero(t, upstream.Calls())
}

func TestCleanResourcePath(t *testing.T) {
	tests := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"patients/42", "patients/42", true},
		{"/patients/42/", "patients/42", true},
		{"images/7/validate", "images/7/validate", true},
		{"patients%2F42", "patients/42", true},
		{"", "", false},
		{"/", "", false},
		{"patients/../users", "", false},
		{"patients/%2E%2E/users", "", false},
		{"patients/%zz", "", false},
		{"patients\\..\\users", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := cleanResourcePath(tt.raw)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRecordsProxy_Unauthenticated(t *testing.T) {
	upstream := &upstreamRecorder{}
	server := httptest.NewServer(upstream)
	defer server.Close()

	router := newProxyRouter(t, server.URL, &recordingRecorder{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, withSnapshot(newRequest(http.MethodGet, "/api/v1/records/doctors"), session.Snapshot{}))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, withSnapshot(newRequest(http.MethodGet, "/api/v1/records/doctors"), session.Snapshot{Loading: true}))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	assert.Zero(t, upstream.Calls())
}

func TestRecordsProxy_UnknownResource(t *testing.T) {
	router := newProxyRouter(t, "http://records.invalid", &recordingRecorder{})

	for _, target := range []string{"/api/v1/records/billing", "/api/v1/records/"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, withSnapshot(newRequest(http.MethodGet, target), signedIn(auth.RoleAdmin)))
		assert.Equal(t, http.StatusNotFound, w.Code, target)
	}
}

func TestRecordsProxy_UpstreamUnauthorizedSignsOut(t *testing.T) {
	upstream := &upstreamRecorder{status: http.StatusUnauthorized}
	server := httptest.NewServer(upstream)
	defer server.Close()

	backend := newFakeBackend()
	backend.addUser("admin@example.com", "secret", "tok-admin", "ADMIN")
	holder, _ := newSignedInHolder(t, backend, "admin@example.com", "secret")

	router := newProxyRouter(t, server.URL, &recordingRecorder{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, withHolder(newRequest(http.MethodGet, "/api/v1/records/users"), holder))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, holder.Snapshot().Authenticated())
	assert.Equal(t, []string{"tok-admin"}, backend.Logouts())
}

func TestRecordsProxy_UpstreamDown(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	baseURL := server.URL
	server.Close()

	backend := newFakeBackend()
	backend.addUser("doc@example.com", "secret", "tok-doc", "DOCTOR")
	holder, _ := newSignedInHolder(t, backend, "doc@example.com", "secret")

	router := newProxyRouter(t, baseURL, &recordingRecorder{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, withHolder(newRequest(http.MethodGet, "/api/v1/records/patients"), holder))

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "bad_gateway"))
	assert.True(t, holder.Snapshot().Authenticated())
}

func TestNewRecordsProxy_InvalidURL(t *testing.T) {
	access := middleware.NewAccessMiddleware(nil, zap.NewNop())

	_, err := NewRecordsProxy("records:8000", nil, access, zap.NewNop())
	assert.Error(t, err)
}
