package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func identityFor(role Role) *Identity {
	return NewIdentity("user-1", "user@clinic.test", "Test User", role)
}

func TestPermissionsAllowed(t *testing.T) {
	t.Run("permissions not granted to a role are always refused", func(t *testing.T) {
		for _, role := range AllRoles() {
			id := identityFor(role)
			table := RolePermissions(role)
			for _, p := range AllPermissions() {
				assert.Equal(t, table[p], PermissionsAllowed(id, []Permission{p}), "role %s perm %s", role, p)
			}
		}
	})

	t.Run("empty requirement is unrestricted", func(t *testing.T) {
		for _, role := range AllRoles() {
			assert.True(t, PermissionsAllowed(identityFor(role), nil))
			assert.True(t, PermissionsAllowed(identityFor(role), []Permission{}))
		}
	})

	t.Run("all listed keys must be granted", func(t *testing.T) {
		id := identityFor(RoleDoctor)
		assert.True(t, PermissionsAllowed(id, []Permission{PermViewPatients, PermViewReports}))
		assert.False(t, PermissionsAllowed(id, []Permission{PermViewPatients, PermManageUsers}))
	})

	t.Run("nil identity fails", func(t *testing.T) {
		assert.False(t, PermissionsAllowed(nil, nil))
		assert.False(t, PermissionsAllowed(nil, []Permission{PermViewPatients}))
	})
}

func TestRoleAllowed(t *testing.T) {
	t.Run("own role passes and other roles fail", func(t *testing.T) {
		for _, role := range AllRoles() {
			id := identityFor(role)
			assert.True(t, RoleAllowed(id, []Role{role}))

			var others []Role
			for _, r := range AllRoles() {
				if r != role {
					others = append(others, r)
				}
			}
			assert.False(t, RoleAllowed(id, others))
		}
	})

	t.Run("empty restriction is unrestricted", func(t *testing.T) {
		for _, role := range AllRoles() {
			assert.True(t, RoleAllowed(identityFor(role), nil))
		}
	})

	t.Run("nil identity fails any restriction", func(t *testing.T) {
		assert.False(t, RoleAllowed(nil, []Role{RoleAdmin}))
		assert.False(t, RoleAllowed(nil, AllRoles()))
	})
}

func TestAuthorize(t *testing.T) {
	tests := []struct {
		name     string
		identity *Identity
		req      Requirement
		want     Decision
	}{
		{
			name:     "unauthenticated",
			identity: nil,
			req:      Requirement{},
			want:     Decision{Reason: DenyUnauthenticated},
		},
		{
			name:     "no requirement",
			identity: identityFor(RoleSecretary),
			req:      Requirement{},
			want:     Decision{Allowed: true},
		},
		{
			name:     "role passes and permission passes",
			identity: identityFor(RoleDoctor),
			req:      Requirement{Roles: []Role{RoleDoctor}, Permissions: []Permission{PermCreateSegmentations}},
			want:     Decision{Allowed: true},
		},
		{
			name:     "role passes but permission fails",
			identity: identityFor(RoleDoctor),
			req:      Requirement{Roles: []Role{RoleDoctor}, Permissions: []Permission{PermManageUsers}},
			want:     Decision{Reason: DenyPermission},
		},
		{
			name:     "permission passes but role fails",
			identity: identityFor(RoleSecretary),
			req:      Requirement{Roles: []Role{RoleAdmin}, Permissions: []Permission{PermViewPatients}},
			want:     Decision{Reason: DenyRole},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Authorize(tt.identity, tt.req))
		})
	}
}

func TestIdentity_ProfileCompletion(t *testing.T) {
	doctor := identityFor(RoleDoctor).WithProfileCompleted(false)
	assert.True(t, doctor.NeedsProfileCompletion())

	done := doctor.WithProfileCompleted(true)
	assert.False(t, done.NeedsProfileCompletion())
	assert.False(t, doctor.ProfileCompleted, "original must not change")

	secretary := identityFor(RoleSecretary).WithProfileCompleted(false)
	assert.False(t, secretary.NeedsProfileCompletion())
}
