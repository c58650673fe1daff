package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/upb/medrecords-portal/models"
	"github.com/upb/medrecords-portal/repositories"
	"github.com/upb/medrecords-portal/services"
	"go.uber.org/zap"
)

const auditColumns = `id, session_id, user_id, role, action, resource, outcome, reason,
		       details, ip_address, user_agent, request_id, timestamp`

// AuditRepository implements the repositories.AuditRepository interface
type AuditRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *DB, logger *zap.Logger) repositories.AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

// Insert inserts a new access audit entry
func (r *AuditRepository) Insert(ctx context.Context, log *models.AccessAuditLog) error {
	query := `
		INSERT INTO access_audit_logs (
			id, session_id, user_id, role, action, resource, outcome, reason,
			details, ip_address, user_agent, request_id, timestamp
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)
	`

	// JSONB rejects an empty byte slice, so absent details go in as NULL
	var details interface{}
	if len(log.Details) > 0 {
		details = []byte(log.Details)
	}

	_, err := r.db.ExecContext(ctx, query,
		log.ID,
		log.SessionID,
		log.UserID,
		log.Role,
		log.Action,
		log.Resource,
		log.Outcome,
		log.Reason,
		details,
		log.IPAddress,
		log.UserAgent,
		log.RequestID,
		log.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}

	r.logger.Debug("audit log inserted",
		zap.String("id", log.ID.String()),
		zap.String("action", string(log.Action)))
	return nil
}

// GetByID retrieves an audit entry by ID
func (r *AuditRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.AccessAuditLog, error) {
	query := `SELECT ` + auditColumns + ` FROM access_audit_logs WHERE id = $1`

	log, err := scanAuditLog(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, services.ErrAuditLogNotFound
		}
		return nil, fmt.Errorf("failed to get audit log: %w", err)
	}
	return log, nil
}

// List retrieves the most recent entries with pagination
func (r *AuditRepository) List(ctx context.Context, limit, offset int) ([]*models.AccessAuditLog, error) {
	query := `SELECT ` + auditColumns + `
		FROM access_audit_logs
		ORDER BY timestamp DESC
		LIMIT $1 OFFSET $2`

	return r.queryAuditLogs(ctx, query, limit, offset)
}

// GetBySessionID retrieves the entries of one browser session
func (r *AuditRepository) GetBySessionID(ctx context.Context, sessionID string, limit, offset int) ([]*models.AccessAuditLog, error) {
	query := `SELECT ` + auditColumns + `
		FROM access_audit_logs
		WHERE session_id = $1
		ORDER BY timestamp DESC
		LIMIT $2 OFFSET $3`

	return r.queryAuditLogs(ctx, query, sessionID, limit, offset)
}

// GetByUserID retrieves the entries of one records user
func (r *AuditRepository) GetByUserID(ctx context.Context, userID string, limit, offset int) ([]*models.AccessAuditLog, error) {
	query := `SELECT ` + auditColumns + `
		FROM access_audit_logs
		WHERE user_id = $1
		ORDER BY timestamp DESC
		LIMIT $2 OFFSET $3`

	return r.queryAuditLogs(ctx, query, userID, limit, offset)
}

// GetByDateRange retrieves entries within [start, end]
func (r *AuditRepository) GetByDateRange(ctx context.Context, start, end time.Time, limit, offset int) ([]*models.AccessAuditLog, error) {
	query := `SELECT ` + auditColumns + `
		FROM access_audit_logs
		WHERE timestamp >= $1 AND timestamp <= $2
		ORDER BY timestamp DESC
		LIMIT $3 OFFSET $4`

	return r.queryAuditLogs(ctx, query, start, end, limit, offset)
}

// GetByRequestID retrieves entries recorded while serving one request
func (r *AuditRepository) GetByRequestID(ctx context.Context, requestID string) ([]*models.AccessAuditLog, error) {
	query := `SELECT ` + auditColumns + `
		FROM access_audit_logs
		WHERE request_id = $1
		ORDER BY timestamp DESC`

	return r.queryAuditLogs(ctx, query, requestID)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAuditLog(row rowScanner) (*models.AccessAuditLog, error) {
	log := &models.AccessAuditLog{}
	var details []byte
	err := row.Scan(
		&log.ID,
		&log.SessionID,
		&log.UserID,
		&log.Role,
		&log.Action,
		&log.Resource,
		&log.Outcome,
		&log.Reason,
		&details,
		&log.IPAddress,
		&log.UserAgent,
		&log.RequestID,
		&log.Timestamp,
	)
	if err != nil {
		return nil, err
	}
	log.Details = details
	return log, nil
}

// queryAuditLogs is a helper method to query multiple audit logs
func (r *AuditRepository) queryAuditLogs(ctx context.Context, query string, args ...interface{}) ([]*models.AccessAuditLog, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	logs := make([]*models.AccessAuditLog, 0)
	for rows.Next() {
		log, err := scanAuditLog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log rows: %w", err)
	}

	return logs, nil
}
