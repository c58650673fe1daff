package routes

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/upb/medrecords-portal/app"
	"github.com/upb/medrecords-portal/handlers"
	"github.com/upb/medrecords-portal/internal/auth"
	"github.com/upb/medrecords-portal/internal/guard"
	"github.com/upb/medrecords-portal/middleware"
)

// pageRoute is a guarded page of the single-page app
type pageRoute struct {
	pattern string
	route   guard.Route
}

func clinical() []auth.Role { return []auth.Role{auth.RoleAdmin, auth.RoleDoctor} }

// pageRoutes lists the guarded pages. Sub-paths share the parent's access.
func pageRoutes() []pageRoute {
	return []pageRoute{
		{"/dashboard", guard.Route{Path: "/dashboard"}},
		{"/patients", guard.Route{Path: "/patients"}},
		{"/imaging", guard.Route{Path: "/imaging", AllowedRoles: clinical()}},
		{"/treatments", guard.Route{Path: "/treatments", AllowedRoles: clinical()}},
		{"/appointments", guard.Route{Path: "/appointments"}},
		{"/reports", guard.Route{Path: "/reports", AllowedRoles: clinical()}},
		{"/admin", guard.Route{Path: "/admin", AllowedRoles: []auth.Role{auth.RoleAdmin}}},
		{guard.DefaultCompleteProfilePath, guard.Route{
			Path:             guard.DefaultCompleteProfilePath,
			AllowedRoles:     []auth.Role{auth.RoleDoctor},
			SkipProfileCheck: true,
		}},
	}
}

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) (http.Handler, error) {
	cfg := deps.Config
	logger := deps.Logger

	recordsProxy, err := handlers.NewRecordsProxy(cfg.RecordsAPI.BaseURL, nil, deps.AccessMiddleware, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create records proxy: %w", err)
	}

	healthHandler := handlers.NewHealthHandler(deps.SQLDB(), deps.RedisClient(), logger)
	authHandler := handlers.NewAuthHandler(deps.Recorder, logger).WithLoginThrottle(deps.Throttle)
	navigationHandler := handlers.NewNavigationHandler(deps.Navigation, logger)
	dashboardHandler := handlers.NewDashboardHandler(nil, logger)
	pagesHandler := handlers.NewPagesHandler(cfg.Static.ShellPath, logger)

	r := chi.NewRouter()

	// Core middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	// CORS middleware; credentials are allowed for the session cookie
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Retry-After", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoints
	r.Get("/healthz", healthHandler.HandleHealth)
	r.Get("/readyz", healthHandler.HandleReadiness)

	r.Group(func(r chi.Router) {
		r.Use(deps.SessionMiddleware.LoadSession)

		// Public pages
		r.Get("/", pagesHandler.HandleRoot)
		r.Get(guard.DefaultLoginPath, pagesHandler.HandleLogin)
		r.Get(guard.DefaultUnauthorizedPath, pagesHandler.HandleShell)

		// Guarded pages
		for _, p := range pageRoutes() {
			protected := r.With(deps.GuardMiddleware.Protect(p.route))
			protected.Get(p.pattern, pagesHandler.HandleShell)
			protected.Get(p.pattern+"/*", pagesHandler.HandleShell)
		}

		// API v1 routes
		r.Route("/api/v1", func(r chi.Router) {
			r.Route("/auth", func(r chi.Router) {
				r.Post("/login", authHandler.HandleLogin)
				r.Post("/logout", authHandler.HandleLogout)
				r.Post("/register", authHandler.HandleRegister)
				r.Get("/me", authHandler.HandleMe)
				r.With(deps.AccessMiddleware.RequireAuth).
					Post("/profile-status/refresh", authHandler.HandleRefreshProfileStatus)
			})

			r.Get("/navigation", navigationHandler.HandleNavigation)

			r.Route("/dashboard", func(r chi.Router) {
				r.Use(deps.AccessMiddleware.RequireAuth)
				r.Get("/", dashboardHandler.HandleDashboard)
				r.Get("/widgets/{id}", dashboardHandler.HandleWidget)
			})

			// Records API proxy, gated per resource and method
			r.Handle("/records/*", recordsProxy)

			// Access audit trail (administrators only)
			if deps.AuditLogs != nil {
				auditHandler := handlers.NewAuditHandler(deps.AuditLogs, logger)
				r.Route("/audit", func(r chi.Router) {
					r.Use(deps.AccessMiddleware.RequireAccess(auth.Requirement{
						Roles:       []auth.Role{auth.RoleAdmin},
						Permissions: []auth.Permission{auth.PermManageUsers},
					}))
					r.Get("/logs", auditHandler.HandleList)
					r.Get("/logs/{id}", auditHandler.HandleGet)
				})
			}
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	return r, nil
}
