package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/upb/medrecords-portal/models"
)

// AuditRepository handles access audit log data operations
type AuditRepository interface {
	// Insert inserts a new access audit entry
	Insert(ctx context.Context, log *models.AccessAuditLog) error

	// GetByID retrieves an audit entry by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.AccessAuditLog, error)

	// List retrieves the most recent entries with pagination
	List(ctx context.Context, limit, offset int) ([]*models.AccessAuditLog, error)

	// GetBySessionID retrieves the entries of one browser session
	GetBySessionID(ctx context.Context, sessionID string, limit, offset int) ([]*models.AccessAuditLog, error)

	// GetByUserID retrieves the entries of one records user
	GetByUserID(ctx context.Context, userID string, limit, offset int) ([]*models.AccessAuditLog, error)

	// GetByDateRange retrieves entries within [start, end]
	GetByDateRange(ctx context.Context, start, end time.Time, limit, offset int) ([]*models.AccessAuditLog, error)

	// GetByRequestID retrieves entries recorded while serving one request
	GetByRequestID(ctx context.Context, requestID string) ([]*models.AccessAuditLog, error)
}

// Repositories aggregates all repositories
type Repositories struct {
	AuditLogs AuditRepository
}
