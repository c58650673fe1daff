package auth

import "strings"

// Role is the coarse-grained job function of a portal user.
type Role string

const (
	RoleAdmin     Role = "ADMIN"
	RoleDoctor    Role = "DOCTOR"
	RoleSecretary Role = "SECRETARY"

	// RoleUnknown is never granted anything.
	RoleUnknown Role = ""
)

// AllRoles lists every assignable role in declaration order.
func AllRoles() []Role {
	return []Role{RoleAdmin, RoleDoctor, RoleSecretary}
}

// ParseRole normalises a wire value. Unrecognised values map to RoleUnknown.
func ParseRole(s string) Role {
	switch Role(strings.ToUpper(strings.TrimSpace(s))) {
	case RoleAdmin:
		return RoleAdmin
	case RoleDoctor:
		return RoleDoctor
	case RoleSecretary:
		return RoleSecretary
	default:
		return RoleUnknown
	}
}

// Valid reports whether r is one of the assignable roles.
func (r Role) Valid() bool {
	return ParseRole(string(r)) != RoleUnknown
}

func (r Role) String() string {
	return string(r)
}

// Permission is a fine-grained capability flag.
type Permission string

const (
	PermViewPatients          Permission = "can_view_patients"
	PermCreatePatients        Permission = "can_create_patients"
	PermEditPatients          Permission = "can_edit_patients"
	PermDeletePatients        Permission = "can_delete_patients"
	PermViewSegmentations     Permission = "can_view_segmentations"
	PermCreateSegmentations   Permission = "can_create_segmentations"
	PermValidateSegmentations Permission = "can_validate_segmentations"
	PermManageAppointments    Permission = "can_manage_appointments"
	PermManageUsers           Permission = "can_manage_users"
	PermViewReports           Permission = "can_view_reports"
	PermExportData            Permission = "can_export_data"
)

// AllPermissions returns every known permission key.
func AllPermissions() []Permission {
	return []Permission{
		PermViewPatients,
		PermCreatePatients,
		PermEditPatients,
		PermDeletePatients,
		PermViewSegmentations,
		PermCreateSegmentations,
		PermValidateSegmentations,
		PermManageAppointments,
		PermManageUsers,
		PermViewReports,
		PermExportData,
	}
}

// PermissionSet maps every permission key to whether it is granted.
type PermissionSet map[Permission]bool

// Has reports whether p is granted. Missing keys are not granted.
func (s PermissionSet) Has(p Permission) bool {
	return s[p]
}

// Clone returns an independent copy.
func (s PermissionSet) Clone() PermissionSet {
	out := make(PermissionSet, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Granted lists granted permissions in AllPermissions order.
func (s PermissionSet) Granted() []Permission {
	granted := make([]Permission, 0, len(s))
	for _, p := range AllPermissions() {
		if s[p] {
			granted = append(granted, p)
		}
	}
	return granted
}

// RolePermissions returns the fixed permission set for a role. Unknown roles
// get a set with every key present and false.
func RolePermissions(role Role) PermissionSet {
	set := emptyPermissionSet()

	switch role {
	case RoleAdmin:
		for _, p := range AllPermissions() {
			set[p] = true
		}
	case RoleDoctor:
		grant(set,
			PermViewPatients,
			PermCreatePatients,
			PermEditPatients,
			PermViewSegmentations,
			PermCreateSegmentations,
			PermValidateSegmentations,
			PermManageAppointments,
			PermViewReports,
			PermExportData,
		)
	case RoleSecretary:
		grant(set,
			PermViewPatients,
			PermCreatePatients,
			PermEditPatients,
			PermManageAppointments,
		)
	default:
	}

	return set
}

func emptyPermissionSet() PermissionSet {
	set := make(PermissionSet, len(AllPermissions()))
	for _, p := range AllPermissions() {
		set[p] = false
	}
	return set
}

func grant(set PermissionSet, perms ...Permission) {
	for _, p := range perms {
		set[p] = true
	}
}
