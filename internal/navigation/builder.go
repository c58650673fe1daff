// Package navigation builds the role-filtered navigation tree.
package navigation

import "github.com/upb/medrecords-portal/internal/auth"

// Entry is one navigation item. Entries are static and never mutated.
type Entry struct {
	Target              string            `json:"target"`
	Label               string            `json:"label"`
	Icon                string            `json:"icon,omitempty"`
	RequiredRoles       []auth.Role       `json:"required_roles,omitempty"`
	RequiredPermissions []auth.Permission `json:"required_permissions,omitempty"`
	Children            []Entry           `json:"children,omitempty"`
}

// Visible reports whether identity passes the entry's own role check.
func (e Entry) Visible(identity *auth.Identity) bool {
	return auth.RoleAllowed(identity, e.RequiredRoles)
}

// Build returns the entries visible to identity in their original order.
// Children are filtered with the same rule; a parent that passes keeps its
// place even when none of its children do. Only roles filter: required
// permissions travel with the entry for the client to use. An
// unauthenticated identity gets an empty list.
func Build(entries []Entry, identity *auth.Identity) []Entry {
	out := make([]Entry, 0, len(entries))
	if identity == nil {
		return out
	}

	for _, e := range entries {
		if !e.Visible(identity) {
			continue
		}
		out = append(out, copyEntry(e, identity))
	}
	return out
}

func copyEntry(e Entry, identity *auth.Identity) Entry {
	cp := Entry{
		Target: e.Target,
		Label:  e.Label,
		Icon:   e.Icon,
	}
	if len(e.RequiredRoles) > 0 {
		cp.RequiredRoles = append([]auth.Role(nil), e.RequiredRoles...)
	}
	if len(e.RequiredPermissions) > 0 {
		cp.RequiredPermissions = append([]auth.Permission(nil), e.RequiredPermissions...)
	}
	if len(e.Children) > 0 {
		if children := Build(e.Children, identity); len(children) > 0 {
			cp.Children = children
		}
	}
	return cp
}
