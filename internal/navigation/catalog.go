package navigation

import "github.com/upb/medrecords-portal/internal/auth"

func clinicalStaff() []auth.Role { return []auth.Role{auth.RoleAdmin, auth.RoleDoctor} }
func adminOnly() []auth.Role     { return []auth.Role{auth.RoleAdmin} }
func doctorOnly() []auth.Role    { return []auth.Role{auth.RoleDoctor} }

// Catalog returns the portal's static navigation menu. Each call returns a
// fresh copy.
func Catalog() []Entry {
	return []Entry{
		{
			Target: "/dashboard",
			Label:  "Dashboard",
			Icon:   "home",
		},
		{
			Target:              "/patients",
			Label:               "Patients",
			Icon:                "users",
			RequiredPermissions: []auth.Permission{auth.PermViewPatients},
			Children: []Entry{
				{
					Target:              "/patients",
					Label:               "Patient list",
					RequiredPermissions: []auth.Permission{auth.PermViewPatients},
				},
				{
					Target:              "/patients/new",
					Label:               "New patient",
					RequiredPermissions: []auth.Permission{auth.PermCreatePatients},
				},
			},
		},
		{
			Target:              "/imaging",
			Label:               "Imaging",
			Icon:                "scan",
			RequiredRoles:       clinicalStaff(),
			RequiredPermissions: []auth.Permission{auth.PermViewSegmentations},
			Children: []Entry{
				{
					Target:              "/imaging/upload",
					Label:               "Upload study",
					RequiredRoles:       clinicalStaff(),
					RequiredPermissions: []auth.Permission{auth.PermCreateSegmentations},
				},
				{
					Target:              "/imaging/validation",
					Label:               "Validate segmentations",
					RequiredRoles:       doctorOnly(),
					RequiredPermissions: []auth.Permission{auth.PermValidateSegmentations},
				},
			},
		},
		{
			Target:        "/treatments",
			Label:         "Treatments",
			Icon:          "clipboard",
			RequiredRoles: clinicalStaff(),
		},
		{
			Target:              "/appointments",
			Label:               "Appointments",
			Icon:                "calendar",
			RequiredPermissions: []auth.Permission{auth.PermManageAppointments},
		},
		{
			Target:              "/reports",
			Label:               "Reports",
			Icon:                "chart",
			RequiredRoles:       clinicalStaff(),
			RequiredPermissions: []auth.Permission{auth.PermViewReports},
		},
		{
			Target:        "/admin",
			Label:         "Administration",
			Icon:          "settings",
			RequiredRoles: adminOnly(),
			Children: []Entry{
				{
					Target:              "/admin/users",
					Label:               "Users",
					RequiredRoles:       adminOnly(),
					RequiredPermissions: []auth.Permission{auth.PermManageUsers},
				},
			},
		},
		{
			Target:        "/complete-profile",
			Label:         "My profile",
			Icon:          "id-card",
			RequiredRoles: doctorOnly(),
		},
	}
}
