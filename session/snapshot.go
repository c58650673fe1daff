// Package session owns the per-browser authentication state of the portal.
//
// Each browser session is served by one Holder. A Holder is a single-writer
// state machine: Init, Login, Logout and RefreshProfileStatus each start a new
// generation and cancel the transition that was in flight, and only the
// newest generation may publish. Readers see immutable Snapshots, so role,
// permissions and the profile flag always change together.
package session

import (
	"context"

	"github.com/upb/medrecords-portal/internal/auth"
)

// Snapshot is an immutable view of a session at one point in time.
type Snapshot struct {
	Identity   *auth.Identity
	Loading    bool
	Generation uint64
}

// Authenticated reports whether the snapshot carries an identity.
func (s Snapshot) Authenticated() bool {
	return s.Identity != nil
}

// Role returns the identity's role or RoleUnknown.
func (s Snapshot) Role() auth.Role {
	if s.Identity == nil {
		return auth.RoleUnknown
	}
	return s.Identity.Role
}

type contextKey string

const snapshotKey contextKey = "session_snapshot"

// WithSnapshot stores snap in ctx.
func WithSnapshot(ctx context.Context, snap Snapshot) context.Context {
	return context.WithValue(ctx, snapshotKey, snap)
}

// SnapshotFromContext returns the snapshot stored by WithSnapshot. Requests
// without one are treated as unauthenticated and not loading.
func SnapshotFromContext(ctx context.Context) (Snapshot, bool) {
	snap, ok := ctx.Value(snapshotKey).(Snapshot)
	return snap, ok
}
