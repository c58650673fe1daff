package handlers

import (
	"net/http"

	"github.com/upb/medrecords-portal/internal/navigation"
	"github.com/upb/medrecords-portal/session"
	"github.com/upb/medrecords-portal/utils"
	"go.uber.org/zap"
)

// NavigationResponse is the body of GET /api/v1/navigation
type NavigationResponse struct {
	Items   []navigation.Entry `json:"items"`
	Loading bool               `json:"loading"`
}

// NavigationHandler serves the role-filtered navigation tree
type NavigationHandler struct {
	entries []navigation.Entry
	logger  *zap.Logger
}

// NewNavigationHandler creates a handler over entries. A nil slice uses the
// portal catalog.
func NewNavigationHandler(entries []navigation.Entry, logger *zap.Logger) *NavigationHandler {
	if entries == nil {
		entries = navigation.Catalog()
	}
	return &NavigationHandler{
		entries: entries,
		logger:  logger,
	}
}

// HandleNavigation handles GET /api/v1/navigation. While the session is
// loading, and for anonymous visitors, the list is empty.
func (h *NavigationHandler) HandleNavigation(w http.ResponseWriter, r *http.Request) {
	snap, _ := session.SnapshotFromContext(r.Context())

	resp := NavigationResponse{
		Items:   []navigation.Entry{},
		Loading: snap.Loading,
	}
	if !snap.Loading {
		resp.Items = navigation.Build(h.entries, snap.Identity)
	}

	if err := utils.WriteJSON(w, http.StatusOK, resp); err != nil {
		h.logger.Error("failed to write navigation response", zap.Error(err))
	}
}
