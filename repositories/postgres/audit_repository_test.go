package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/medrecords-portal/models"
	"github.com/upb/medrecords-portal/services"
	"go.uber.org/zap"
)

var auditRowColumns = []string{
	"id", "session_id", "user_id", "role", "action", "resource", "outcome", "reason",
	"details", "ip_address", "user_agent", "request_id", "timestamp",
}

func newMockRepository(t *testing.T) (*AuditRepository, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	repo := NewAuditRepository(WrapDB(sqlDB, zap.NewNop()), zap.NewNop())
	return repo.(*AuditRepository), mock
}

func TestAuditRepository_Insert(t *testing.T) {
	t.Run("inserts all columns", func(t *testing.T) {
		repo, mock := newMockRepository(t)

		log := models.NewAccessAuditLog("sess-1", models.AuditActionAPIDenied, "/api/v1/records/patients/7", models.AuditOutcomeDenied).
			WithUser("42", "SECRETARY").
			WithReason("permission").
			WithRequest("req-1", "10.0.0.1", "agent").
			WithDetails(map[string]string{"method": "DELETE"})

		mock.ExpectExec("INSERT INTO access_audit_logs").
			WithArgs(
				log.ID.String(), "sess-1", "42", "SECRETARY", "api_denied",
				"/api/v1/records/patients/7", "denied", "permission",
				[]byte(`{"method":"DELETE"}`), "10.0.0.1", "agent", "req-1", sqlmock.AnyArg(),
			).
			WillReturnResult(sqlmock.NewResult(1, 1))

		require.NoError(t, repo.Insert(context.Background(), log))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("absent optional fields are NULL", func(t *testing.T) {
		repo, mock := newMockRepository(t)

		log := models.NewAccessAuditLog("sess-2", models.AuditActionLogin, "/api/v1/auth/login", models.AuditOutcomeFailure)

		mock.ExpectExec("INSERT INTO access_audit_logs").
			WithArgs(
				sqlmock.AnyArg(), "sess-2", nil, nil, "login",
				"/api/v1/auth/login", "failure", nil,
				nil, "", "", "", sqlmock.AnyArg(),
			).
			WillReturnResult(sqlmock.NewResult(1, 1))

		require.NoError(t, repo.Insert(context.Background(), log))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("wraps driver errors", func(t *testing.T) {
		repo, mock := newMockRepository(t)

		mock.ExpectExec("INSERT INTO access_audit_logs").WillReturnError(errors.New("connection reset"))

		err := repo.Insert(context.Background(), models.NewAccessAuditLog("s", models.AuditActionLogout, "/", models.AuditOutcomeSuccess))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to insert audit log")
	})
}

func TestAuditRepository_GetByID(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		repo, mock := newMockRepository(t)
		id := uuid.New()
		ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

		mock.ExpectQuery("SELECT (.+) FROM access_audit_logs WHERE id = \\$1").
			WithArgs(id.String()).
			WillReturnRows(sqlmock.NewRows(auditRowColumns).AddRow(
				id.String(), "sess-1", "42", "DOCTOR", "route_denied", "/admin/users", "denied", "role",
				[]byte(`{"redirect":"/unauthorized"}`), "10.0.0.1", "agent", "req-1", ts,
			))

		log, err := repo.GetByID(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, id, log.ID)
		assert.Equal(t, models.AuditActionRouteDenied, log.Action)
		require.NotNil(t, log.Role)
		assert.Equal(t, "DOCTOR", *log.Role)
		assert.JSONEq(t, `{"redirect":"/unauthorized"}`, string(log.Details))
		assert.Equal(t, ts, log.Timestamp)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found maps to domain error", func(t *testing.T) {
		repo, mock := newMockRepository(t)
		id := uuid.New()

		mock.ExpectQuery("SELECT (.+) FROM access_audit_logs WHERE id = \\$1").
			WithArgs(id.String()).
			WillReturnRows(sqlmock.NewRows(auditRowColumns))

		_, err := repo.GetByID(context.Background(), id)
		assert.ErrorIs(t, err, services.ErrAuditLogNotFound)
		assert.True(t, services.IsNotFoundError(err))
	})
}

func TestAuditRepository_GetBySessionID(t *testing.T) {
	repo, mock := newMockRepository(t)
	ts := time.Now().UTC()

	mock.ExpectQuery("WHERE session_id = \\$1").
		WithArgs("sess-1", 50, 0).
		WillReturnRows(sqlmock.NewRows(auditRowColumns).
			AddRow(uuid.NewString(), "sess-1", nil, nil, "login", "/api/v1/auth/login", "failure", "invalid_credentials", nil, "", "", "r1", ts).
			AddRow(uuid.NewString(), "sess-1", "7", "ADMIN", "login", "/api/v1/auth/login", "success", nil, nil, "", "", "r2", ts))

	logs, err := repo.GetBySessionID(context.Background(), "sess-1", 50, 0)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Nil(t, logs[0].UserID)
	assert.Empty(t, logs[0].Details)
	require.NotNil(t, logs[1].UserID)
	assert.Equal(t, "7", *logs[1].UserID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepository_ListEmpty(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery("ORDER BY timestamp DESC").
		WithArgs(20, 40).
		WillReturnRows(sqlmock.NewRows(auditRowColumns))

	logs, err := repo.List(context.Background(), 20, 40)
	require.NoError(t, err)
	assert.NotNil(t, logs)
	assert.Empty(t, logs)
}

func TestAuditRepository_QueryError(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery("WHERE request_id = \\$1").
		WithArgs("req-9").
		WillReturnError(errors.New("timeout"))

	_, err := repo.GetByRequestID(context.Background(), "req-9")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to query audit logs")
}

func TestDB_HealthCheck(t *testing.T) {
	sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer sqlDB.Close()

	mock.ExpectPing()
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	db := WrapDB(sqlDB, zap.NewNop())
	require.NoError(t, db.HealthCheck(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDB_InitSchema(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS access_audit_logs").WillReturnResult(sqlmock.NewResult(0, 0))

	db := WrapDB(sqlDB, zap.NewNop())
	require.NoError(t, db.InitSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
