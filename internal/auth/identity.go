package auth

// Identity is the resolved profile of the authenticated user together with the
// permissions derived from their role. Values are treated as immutable once
// published in a session snapshot.
type Identity struct {
	ID               string        `json:"id"`
	Email            string        `json:"email"`
	DisplayName      string        `json:"display_name"`
	Role             Role          `json:"role"`
	Permissions      PermissionSet `json:"permissions"`
	ProfileCompleted bool          `json:"has_completed_profile"`
	AssignedDoctorID *string       `json:"assigned_doctor_id,omitempty"`
}

// NewIdentity builds an Identity whose permissions come from the role table.
// Profile completion defaults to true; the session holder overrides it for
// doctors after checking their profile status.
func NewIdentity(id, email, displayName string, role Role) *Identity {
	return &Identity{
		ID:               id,
		Email:            email,
		DisplayName:      displayName,
		Role:             role,
		Permissions:      RolePermissions(role),
		ProfileCompleted: true,
	}
}

// IsDoctor reports whether the identity holds the DOCTOR role.
func (i *Identity) IsDoctor() bool {
	return i != nil && i.Role == RoleDoctor
}

// NeedsProfileCompletion is true for doctors who have not finished their profile.
func (i *Identity) NeedsProfileCompletion() bool {
	return i.IsDoctor() && !i.ProfileCompleted
}

// WithProfileCompleted returns a copy with the profile flag replaced.
func (i *Identity) WithProfileCompleted(done bool) *Identity {
	cp := i.clone()
	cp.ProfileCompleted = done
	return cp
}

func (i *Identity) clone() *Identity {
	cp := *i
	cp.Permissions = i.Permissions.Clone()
	if i.AssignedDoctorID != nil {
		id := *i.AssignedDoctorID
		cp.AssignedDoctorID = &id
	}
	return &cp
}
