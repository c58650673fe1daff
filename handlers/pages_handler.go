package handlers

import (
	"net/http"
	"os"

	"github.com/upb/medrecords-portal/internal/guard"
	"github.com/upb/medrecords-portal/middleware"
	"github.com/upb/medrecords-portal/session"
	"github.com/upb/medrecords-portal/utils"
	"go.uber.org/zap"
)

// PagesHandler serves the single-page app shell for page routes
type PagesHandler struct {
	shellPath string
	logger    *zap.Logger
}

// NewPagesHandler creates a handler serving the shell at shellPath
func NewPagesHandler(shellPath string, logger *zap.Logger) *PagesHandler {
	return &PagesHandler{
		shellPath: shellPath,
		logger:    logger,
	}
}

// HandleShell writes the app shell. Access to guarded pages is decided by
// the guard middleware before this runs.
func (h *PagesHandler) HandleShell(w http.ResponseWriter, r *http.Request) {
	f, err := os.Open(h.shellPath)
	if err != nil {
		h.logger.Error("failed to open app shell",
			zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
			zap.String("path", h.shellPath),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Portal is not available")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		h.logger.Error("failed to stat app shell", zap.String("path", h.shellPath), zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Portal is not available")
		return
	}

	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	http.ServeContent(w, r, "index.html", info.ModTime(), f)
}

// HandleLogin serves the login page, sending visitors who are already signed
// in to where they were going.
func (h *PagesHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	snap, _ := session.SnapshotFromContext(r.Context())
	if !snap.Loading && snap.Authenticated() {
		target := landingPath(snap.Identity, r.URL.Query().Get(guard.ReturnParam))
		w.Header().Set("Cache-Control", "no-store")
		http.Redirect(w, r, target, http.StatusFound)
		return
	}
	h.HandleShell(w, r)
}

// HandleRoot redirects / to the dashboard, which is itself guarded.
func (h *PagesHandler) HandleRoot(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, DefaultLandingPath, http.StatusFound)
}
