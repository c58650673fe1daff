package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/upb/medrecords-portal/internal/auth"
	"github.com/upb/medrecords-portal/middleware"
	"github.com/upb/medrecords-portal/utils"
	"go.uber.org/zap"
)

var (
	clinicalRoles = []auth.Role{auth.RoleAdmin, auth.RoleDoctor}
	adminRoles    = []auth.Role{auth.RoleAdmin}
)

func need(perms ...auth.Permission) auth.Requirement {
	return auth.Requirement{Permissions: perms}
}

// RecordsRequirement returns what a call to the records API demands.
// resourcePath is relative to the records root, e.g. "patients/42". Unknown
// resources are not proxied.
func RecordsRequirement(method, resourcePath string) (auth.Requirement, bool) {
	segments := strings.Split(strings.Trim(resourcePath, "/"), "/")
	resource := segments[0]
	last := segments[len(segments)-1]
	read := method == http.MethodGet || method == http.MethodHead

	switch resource {
	case "patients":
		switch method {
		case http.MethodGet, http.MethodHead:
			return need(auth.PermViewPatients), true
		case http.MethodPost:
			return need(auth.PermCreatePatients), true
		case http.MethodPut, http.MethodPatch:
			return need(auth.PermEditPatients), true
		case http.MethodDelete:
			return need(auth.PermDeletePatients), true
		}
		return auth.Requirement{}, false

	case "images", "segmentations":
		switch {
		case read:
			return need(auth.PermViewSegmentations), true
		case last == "validate":
			return need(auth.PermValidateSegmentations), true
		default:
			return need(auth.PermCreateSegmentations), true
		}

	case "treatments":
		return auth.Requirement{Roles: clinicalRoles, Permissions: []auth.Permission{auth.PermViewPatients}}, true

	case "appointments":
		return need(auth.PermManageAppointments), true

	case "reports":
		if last == "export" {
			return need(auth.PermViewReports, auth.PermExportData), true
		}
		return need(auth.PermViewReports), true

	case "users":
		return auth.Requirement{Roles: adminRoles, Permissions: []auth.Permission{auth.PermManageUsers}}, true

	case "doctors":
		if read {
			return auth.Requirement{}, true
		}
		return auth.Requirement{Roles: []auth.Role{auth.RoleDoctor, auth.RoleAdmin}}, true
	}

	return auth.Requirement{}, false
}

// cleanResourcePath unescapes the wildcard part of a proxied URL. Paths
// with empty, "." or ".." segments are refused so the resource that is
// authorised is the resource that is forwarded.
func cleanResourcePath(raw string) (string, bool) {
	unescaped, err := url.PathUnescape(raw)
	if err != nil {
		return "", false
	}
	trimmed := strings.Trim(unescaped, "/")
	if trimmed == "" || strings.ContainsAny(trimmed, "\\\x00") {
		return "", false
	}
	for _, segment := range strings.Split(trimmed, "/") {
		switch segment {
		case "", ".", "..":
			return "", false
		}
	}
	return trimmed, true
}

type resourcePathKey struct{}

// RecordsProxy forwards authorised calls to the records API with the
// session's bearer token
type RecordsProxy struct {
	target *url.URL
	proxy  *httputil.ReverseProxy
	access *middleware.AccessMiddleware
	logger *zap.Logger
}

// NewRecordsProxy creates a proxy to baseURL. A nil transport uses
// http.DefaultTransport.
func NewRecordsProxy(baseURL string, transport http.RoundTripper, access *middleware.AccessMiddleware, logger *zap.Logger) (*RecordsProxy, error) {
	target, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid records base URL: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("records base URL %q must be absolute", baseURL)
	}

	p := &RecordsProxy{
		target: target,
		access: access,
		logger: logger,
	}
	p.proxy = &httputil.ReverseProxy{
		Rewrite:        p.rewrite,
		Transport:      transport,
		ModifyResponse: p.modifyResponse,
		ErrorHandler:   p.handleError,
	}
	return p, nil
}

// ServeHTTP handles /api/v1/records/*
func (p *RecordsProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resourcePath, ok := cleanResourcePath(chi.URLParam(r, "*"))
	if !ok {
		_ = utils.WriteNotFound(w, "Resource not found")
		return
	}

	req, ok := RecordsRequirement(r.Method, resourcePath)
	if !ok {
		_ = utils.WriteNotFound(w, "Resource not found")
		return
	}

	ctx := context.WithValue(r.Context(), resourcePathKey{}, resourcePath)
	p.access.RequireAccess(req)(http.HandlerFunc(p.forward)).ServeHTTP(w, r.WithContext(ctx))
}

func (p *RecordsProxy) forward(w http.ResponseWriter, r *http.Request) {
	holder := middleware.GetHolderFromContext(r.Context())
	if holder == nil {
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return
	}

	token, err := holder.Token(r.Context())
	if err != nil {
		HandleServiceError(w, err, p.logger)
		return
	}

	out := r.Clone(r.Context())
	out.Header.Del("Cookie")
	out.Header.Set("Authorization", "Bearer "+token)

	p.proxy.ServeHTTP(w, out)
}

func (p *RecordsProxy) rewrite(pr *httputil.ProxyRequest) {
	resourcePath, _ := pr.In.Context().Value(resourcePathKey{}).(string)

	pr.Out.URL.Scheme = p.target.Scheme
	pr.Out.URL.Host = p.target.Host
	pr.Out.URL.Path = p.target.Path + "/" + resourcePath
	pr.Out.URL.RawPath = ""
	pr.Out.URL.RawQuery = pr.In.URL.RawQuery
	pr.Out.Host = p.target.Host
	pr.SetXForwarded()

	if id := middleware.GetRequestIDFromContext(pr.In.Context()); id != "" {
		pr.Out.Header.Set("X-Request-Id", id)
	}
}

// modifyResponse signs the session out when the backend no longer accepts
// its token. Upstream cookies never reach the browser.
func (p *RecordsProxy) modifyResponse(resp *http.Response) error {
	resp.Header.Del("Set-Cookie")

	if resp.StatusCode != http.StatusUnauthorized {
		return nil
	}

	ctx := resp.Request.Context()
	holder := middleware.GetHolderFromContext(ctx)
	if holder == nil {
		return nil
	}

	p.logger.Info("records backend rejected session token, signing out",
		zap.String("request_id", middleware.GetRequestIDFromContext(ctx)),
		zap.String("session_id", holder.ID()))

	if err := holder.Logout(context.WithoutCancel(ctx)); err != nil {
		p.logger.Warn("failed to clear rejected session", zap.Error(err))
	}
	return nil
}

func (p *RecordsProxy) handleError(w http.ResponseWriter, r *http.Request, err error) {
	p.logger.Warn("records proxy error",
		zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Error(err))

	if r.Context().Err() != nil {
		return
	}
	_ = utils.WriteBadGateway(w, "Records service unavailable", nil)
}
