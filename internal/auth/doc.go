// Package auth provides the authorization primitives of the records portal.
//
// This package implements:
//   - The closed role enum (ADMIN, DOCTOR, SECRETARY)
//   - The fixed role-to-permission table
//   - The authenticated Identity value
//   - Pure access predicates (RoleAllowed, PermissionsAllowed, Authorize)
//
// Nothing in this package performs I/O. Session lifecycle lives in the session
// package; HTTP enforcement lives in middleware.
package auth
