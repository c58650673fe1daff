package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of access event being audited
type AuditAction string

const (
	AuditActionLogin            AuditAction = "login"
	AuditActionLogout           AuditAction = "logout"
	AuditActionRegisterRejected AuditAction = "register_rejected"
	AuditActionRouteDenied      AuditAction = "route_denied"
	AuditActionAPIDenied        AuditAction = "api_denied"
	AuditActionProfileRefreshed AuditAction = "profile_refreshed"
)

// AuditOutcome is the result of the audited action
type AuditOutcome string

const (
	AuditOutcomeSuccess AuditOutcome = "success"
	AuditOutcomeFailure AuditOutcome = "failure"
	AuditOutcomeDenied  AuditOutcome = "denied"
)

// AccessAuditLog represents one access-control event of a browser session
type AccessAuditLog struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	SessionID string          `json:"session_id" db:"session_id"`
	UserID    *string         `json:"user_id,omitempty" db:"user_id"`
	Role      *string         `json:"role,omitempty" db:"role"`
	Action    AuditAction     `json:"action" db:"action"`
	Resource  string          `json:"resource" db:"resource"` // route path or API path
	Outcome   AuditOutcome    `json:"outcome" db:"outcome"`
	Reason    *string         `json:"reason,omitempty" db:"reason"`
	Details   json.RawMessage `json:"details,omitempty" db:"details"` // JSONB for flexible metadata
	IPAddress string          `json:"ip_address" db:"ip_address"`
	UserAgent string          `json:"user_agent" db:"user_agent"`
	RequestID string          `json:"request_id" db:"request_id"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// TableName returns the table name for the AccessAuditLog model
func (AccessAuditLog) TableName() string {
	return "access_audit_logs"
}

// NewAccessAuditLog creates a new AccessAuditLog instance
func NewAccessAuditLog(sessionID string, action AuditAction, resource string, outcome AuditOutcome) *AccessAuditLog {
	return &AccessAuditLog{
		ID:        uuid.New(),
		SessionID: sessionID,
		Action:    action,
		Resource:  resource,
		Outcome:   outcome,
		Timestamp: time.Now().UTC(),
	}
}

// WithUser sets the acting user and role. Empty values are ignored.
func (a *AccessAuditLog) WithUser(userID, role string) *AccessAuditLog {
	if userID != "" {
		a.UserID = &userID
	}
	if role != "" {
		a.Role = &role
	}
	return a
}

// WithReason sets the denial or failure reason
func (a *AccessAuditLog) WithReason(reason string) *AccessAuditLog {
	if reason != "" {
		a.Reason = &reason
	}
	return a
}

// WithDetails sets the details
func (a *AccessAuditLog) WithDetails(details interface{}) *AccessAuditLog {
	if data, err := json.Marshal(details); err == nil {
		a.Details = data
	}
	return a
}

// WithRequest sets request metadata
func (a *AccessAuditLog) WithRequest(requestID, ipAddress, userAgent string) *AccessAuditLog {
	a.RequestID = requestID
	a.IPAddress = ipAddress
	a.UserAgent = userAgent
	return a
}
