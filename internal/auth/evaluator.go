package auth

// DenyReason explains why Authorize refused access.
type DenyReason string

const (
	DenyNone            DenyReason = ""
	DenyUnauthenticated DenyReason = "unauthenticated"
	DenyRole            DenyReason = "role"
	DenyPermission      DenyReason = "permission"
)

// Requirement is what a route, fragment or API call demands. Empty slices mean
// no restriction on that axis.
type Requirement struct {
	Roles       []Role
	Permissions []Permission
}

// Decision is the result of Authorize.
type Decision struct {
	Allowed bool
	Reason  DenyReason
}

// RoleAllowed is true when allowed is empty or contains the identity's role.
// A nil identity never passes.
func RoleAllowed(identity *Identity, allowed []Role) bool {
	if identity == nil {
		return false
	}
	if len(allowed) == 0 {
		return true
	}
	for _, r := range allowed {
		if r == identity.Role {
			return true
		}
	}
	return false
}

// PermissionsAllowed is true when required is empty or every key is granted.
// A nil identity never passes.
func PermissionsAllowed(identity *Identity, required []Permission) bool {
	if identity == nil {
		return false
	}
	for _, p := range required {
		if !identity.Permissions.Has(p) {
			return false
		}
	}
	return true
}

// Authorize combines both predicates with AND.
func Authorize(identity *Identity, req Requirement) Decision {
	if identity == nil {
		return Decision{Reason: DenyUnauthenticated}
	}
	if !RoleAllowed(identity, req.Roles) {
		return Decision{Reason: DenyRole}
	}
	if !PermissionsAllowed(identity, req.Permissions) {
		return Decision{Reason: DenyPermission}
	}
	return Decision{Allowed: true}
}
