// Package gate decides whether a role or permission gated fragment is shown.
package gate

import (
	"net/http"

	"github.com/upb/medrecords-portal/internal/auth"
	"github.com/upb/medrecords-portal/session"
)

// Outcome is what a gated fragment renders.
type Outcome int

const (
	Nothing Outcome = iota
	Children
	Fallback
)

func (o Outcome) String() string {
	switch o {
	case Children:
		return "children"
	case Fallback:
		return "fallback"
	default:
		return "nothing"
	}
}

// Gate describes the access a fragment demands. Empty slices are unrestricted.
type Gate struct {
	AllowedRoles        []auth.Role
	RequiredPermissions []auth.Permission
	ShowFallback        bool
}

// Requirement converts the gate to an evaluator requirement.
func (g Gate) Requirement() auth.Requirement {
	return auth.Requirement{
		Roles:       g.AllowedRoles,
		Permissions: g.RequiredPermissions,
	}
}

// Evaluate decides the outcome for identity. A nil identity never sees
// children.
func (g Gate) Evaluate(identity *auth.Identity) Outcome {
	if auth.Authorize(identity, g.Requirement()).Allowed {
		return Children
	}
	return g.denied()
}

// EvaluateSnapshot is Evaluate with the loading rule applied: nothing is
// rendered until the session has settled.
func (g Gate) EvaluateSnapshot(snap session.Snapshot) Outcome {
	if snap.Loading {
		return Nothing
	}
	return g.Evaluate(snap.Identity)
}

func (g Gate) denied() Outcome {
	if g.ShowFallback {
		return Fallback
	}
	return Nothing
}

// Handler serves children, fallback or 204 No Content depending on the
// snapshot attached to the request. The decision is made per request.
// A nil fallback behaves like Nothing.
func Handler(g Gate, children, fallback http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap, _ := session.SnapshotFromContext(r.Context())

		switch g.EvaluateSnapshot(snap) {
		case Children:
			children.ServeHTTP(w, r)
		case Fallback:
			if fallback != nil {
				fallback.ServeHTTP(w, r)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	})
}
