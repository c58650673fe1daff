package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		in   string
		want Role
	}{
		{"ADMIN", RoleAdmin},
		{"doctor", RoleDoctor},
		{" Secretary ", RoleSecretary},
		{"nurse", RoleUnknown},
		{"", RoleUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseRole(tt.in))
		})
	}
}

func TestRole_Valid(t *testing.T) {
	for _, role := range AllRoles() {
		assert.True(t, role.Valid(), "role %q", role)
	}
	assert.False(t, RoleUnknown.Valid())
	assert.False(t, Role("NURSE").Valid())
}

func TestRolePermissions(t *testing.T) {
	t.Run("every role yields a complete key set", func(t *testing.T) {
		for _, role := range append(AllRoles(), RoleUnknown, Role("NURSE")) {
			set := RolePermissions(role)
			assert.Len(t, set, len(AllPermissions()), "role %q", role)
		}
	})

	t.Run("admin holds every permission", func(t *testing.T) {
		set := RolePermissions(RoleAdmin)
		for _, p := range AllPermissions() {
			assert.True(t, set.Has(p), "admin should hold %s", p)
		}
	})

	t.Run("secretary cannot create segmentations but doctor can", func(t *testing.T) {
		assert.False(t, RolePermissions(RoleSecretary)[PermCreateSegmentations])
		assert.True(t, RolePermissions(RoleDoctor)[PermCreateSegmentations])
	})

	t.Run("only admin manages users or deletes patients", func(t *testing.T) {
		assert.False(t, RolePermissions(RoleDoctor).Has(PermManageUsers))
		assert.False(t, RolePermissions(RoleSecretary).Has(PermManageUsers))
		assert.False(t, RolePermissions(RoleDoctor).Has(PermDeletePatients))
		assert.False(t, RolePermissions(RoleSecretary).Has(PermDeletePatients))
	})

	t.Run("unknown role is zero privilege", func(t *testing.T) {
		assert.Empty(t, RolePermissions(Role("JANITOR")).Granted())
		assert.Empty(t, RolePermissions(RoleUnknown).Granted())
	})

	t.Run("same role always yields identical sets", func(t *testing.T) {
		for _, role := range AllRoles() {
			assert.Equal(t, RolePermissions(role), RolePermissions(role))
		}
	})

	t.Run("returned sets are independent", func(t *testing.T) {
		a := RolePermissions(RoleSecretary)
		a[PermManageUsers] = true
		assert.False(t, RolePermissions(RoleSecretary).Has(PermManageUsers))
	})
}

func TestPermissionSet_Granted(t *testing.T) {
	granted := RolePermissions(RoleSecretary).Granted()
	assert.Equal(t, []Permission{
		PermViewPatients,
		PermCreatePatients,
		PermEditPatients,
		PermManageAppointments,
	}, granted)
}
