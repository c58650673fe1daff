package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/upb/medrecords-portal/internal/auth"
	"github.com/upb/medrecords-portal/internal/gate"
	"github.com/upb/medrecords-portal/session"
	"github.com/upb/medrecords-portal/utils"
	"go.uber.org/zap"
)

// Widget is a gated dashboard fragment
type Widget struct {
	ID              string
	Title           string
	Link            string
	FallbackMessage string
	Gate            gate.Gate
}

// WidgetView is how a widget is rendered for one identity. Link is set when
// the children are shown, Message when the fallback is.
type WidgetView struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Outcome string `json:"outcome"`
	Link    string `json:"link,omitempty"`
	Message string `json:"message,omitempty"`
}

// DashboardResponse is the body of GET /api/v1/dashboard
type DashboardResponse struct {
	Widgets []WidgetView `json:"widgets"`
}

// DefaultWidgets returns the portal dashboard layout.
func DefaultWidgets() []Widget {
	clinical := []auth.Role{auth.RoleAdmin, auth.RoleDoctor}

	return []Widget{
		{
			ID:    "patients",
			Title: "Patients",
			Link:  "/patients",
			Gate:  gate.Gate{RequiredPermissions: []auth.Permission{auth.PermViewPatients}},
		},
		{
			ID:    "pending-segmentations",
			Title: "Segmentations awaiting validation",
			Link:  "/imaging/validation",
			Gate: gate.Gate{
				AllowedRoles:        clinical,
				RequiredPermissions: []auth.Permission{auth.PermValidateSegmentations},
			},
		},
		{
			ID:    "appointments",
			Title: "Today's appointments",
			Link:  "/appointments",
			Gate:  gate.Gate{RequiredPermissions: []auth.Permission{auth.PermManageAppointments}},
		},
		{
			ID:              "reports",
			Title:           "Reports",
			Link:            "/reports",
			FallbackMessage: "Reports are available to clinical staff.",
			Gate: gate.Gate{
				AllowedRoles:        clinical,
				RequiredPermissions: []auth.Permission{auth.PermViewReports},
				ShowFallback:        true,
			},
		},
		{
			ID:    "user-management",
			Title: "User management",
			Link:  "/admin/users",
			Gate: gate.Gate{
				AllowedRoles:        []auth.Role{auth.RoleAdmin},
				RequiredPermissions: []auth.Permission{auth.PermManageUsers},
			},
		},
		{
			ID:              "export",
			Title:           "Data export",
			Link:            "/reports/export",
			FallbackMessage: "Ask an administrator or a doctor to export data.",
			Gate: gate.Gate{
				RequiredPermissions: []auth.Permission{auth.PermExportData},
				ShowFallback:        true,
			},
		},
	}
}

// DashboardHandler renders the gated dashboard widgets
type DashboardHandler struct {
	widgets  []Widget
	handlers map[string]http.Handler
	logger   *zap.Logger
}

// NewDashboardHandler creates a handler over widgets. A nil slice uses
// DefaultWidgets.
func NewDashboardHandler(widgets []Widget, logger *zap.Logger) *DashboardHandler {
	if widgets == nil {
		widgets = DefaultWidgets()
	}

	h := &DashboardHandler{
		widgets:  widgets,
		handlers: make(map[string]http.Handler, len(widgets)),
		logger:   logger,
	}
	for _, wg := range widgets {
		h.handlers[wg.ID] = gate.Handler(wg.Gate,
			h.writeView(wg, gate.Children),
			h.writeView(wg, gate.Fallback))
	}
	return h
}

// HandleDashboard handles GET /api/v1/dashboard. Widgets whose gate renders
// nothing are left out.
func (h *DashboardHandler) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	snap, _ := session.SnapshotFromContext(r.Context())

	views := make([]WidgetView, 0, len(h.widgets))
	for _, wg := range h.widgets {
		outcome := wg.Gate.EvaluateSnapshot(snap)
		if outcome == gate.Nothing {
			continue
		}
		views = append(views, viewFor(wg, outcome))
	}

	if err := utils.WriteJSON(w, http.StatusOK, DashboardResponse{Widgets: views}); err != nil {
		h.logger.Error("failed to write dashboard response", zap.Error(err))
	}
}

// HandleWidget handles GET /api/v1/dashboard/widgets/{id}. A widget that
// renders nothing answers 204.
func (h *DashboardHandler) HandleWidget(w http.ResponseWriter, r *http.Request) {
	handler, ok := h.handlers[chi.URLParam(r, "id")]
	if !ok {
		_ = utils.WriteNotFound(w, "Widget not found")
		return
	}
	handler.ServeHTTP(w, r)
}

func (h *DashboardHandler) writeView(wg Widget, outcome gate.Outcome) http.Handler {
	view := viewFor(wg, outcome)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := utils.WriteJSON(w, http.StatusOK, view); err != nil {
			h.logger.Error("failed to write widget response", zap.Error(err))
		}
	})
}

func viewFor(wg Widget, outcome gate.Outcome) WidgetView {
	view := WidgetView{
		ID:      wg.ID,
		Title:   wg.Title,
		Outcome: outcome.String(),
	}
	if outcome == gate.Children {
		view.Link = wg.Link
	} else {
		view.Message = wg.FallbackMessage
	}
	return view
}
