// Package guard enforces access at navigation boundaries.
//
// Every guarded navigation is evaluated from scratch against the current
// session snapshot and ends in one of three states. LOADING means the session
// is still being restored and nothing may be shown. DENIED carries the
// redirect target. ALLOWED lets the page render.
package guard

import (
	"net/url"

	"github.com/upb/medrecords-portal/internal/auth"
	"github.com/upb/medrecords-portal/session"
)

// State is the guard outcome for one navigation.
type State string

const (
	StateLoading State = "LOADING"
	StateDenied  State = "DENIED"
	StateAllowed State = "ALLOWED"
)

// Reason explains a DENIED decision.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonUnauthenticated   Reason = "unauthenticated"
	ReasonRole              Reason = "role"
	ReasonProfileIncomplete Reason = "profile_incomplete"
)

const (
	DefaultLoginPath           = "/login"
	DefaultUnauthorizedPath    = "/unauthorized"
	DefaultCompleteProfilePath = "/complete-profile"

	// ReturnParam carries the originally requested location to the login page.
	ReturnParam = "from"
)

// Route is the access declaration of a protected page.
type Route struct {
	Path string
	// AllowedRoles defaults to every role when empty.
	AllowedRoles []auth.Role
	// SkipProfileCheck exempts the route from the doctor profile rule.
	SkipProfileCheck bool
}

// Roles returns the effective allowed roles.
func (r Route) Roles() []auth.Role {
	if len(r.AllowedRoles) == 0 {
		return auth.AllRoles()
	}
	return r.AllowedRoles
}

// Decision is the result of evaluating a route.
type Decision struct {
	State    State
	Reason   Reason
	Redirect string
}

// Guard holds the redirect targets.
type Guard struct {
	LoginPath           string
	UnauthorizedPath    string
	CompleteProfilePath string
}

// New returns a Guard using the default portal paths.
func New() *Guard {
	return &Guard{
		LoginPath:           DefaultLoginPath,
		UnauthorizedPath:    DefaultUnauthorizedPath,
		CompleteProfilePath: DefaultCompleteProfilePath,
	}
}

// Evaluate decides a navigation to requested (path plus query) on route.
func (g *Guard) Evaluate(route Route, snap session.Snapshot, requested string) Decision {
	if snap.Loading {
		return Decision{State: StateLoading}
	}

	if !snap.Authenticated() {
		return Decision{
			State:    StateDenied,
			Reason:   ReasonUnauthenticated,
			Redirect: g.LoginRedirect(requested),
		}
	}

	if !auth.RoleAllowed(snap.Identity, route.Roles()) {
		return Decision{
			State:    StateDenied,
			Reason:   ReasonRole,
			Redirect: g.UnauthorizedPath,
		}
	}

	if !route.SkipProfileCheck && snap.Identity.NeedsProfileCompletion() {
		return Decision{
			State:    StateDenied,
			Reason:   ReasonProfileIncomplete,
			Redirect: g.CompleteProfilePath,
		}
	}

	return Decision{State: StateAllowed}
}

// LoginRedirect builds the login location preserving requested.
func (g *Guard) LoginRedirect(requested string) string {
	if requested == "" {
		return g.LoginPath
	}
	q := url.Values{}
	q.Set(ReturnParam, requested)
	return g.LoginPath + "?" + q.Encode()
}
