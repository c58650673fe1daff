package app

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/medrecords-portal/config"
	"github.com/upb/medrecords-portal/repositories/postgres"
	"github.com/upb/medrecords-portal/services/audit"
	"github.com/upb/medrecords-portal/session/tokenstore"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func TestNewDependencies(t *testing.T) {
	t.Run("minimal configuration uses in-memory fallbacks", func(t *testing.T) {
		ctx := context.Background()
		cfg := testConfig(t)
		logger := zaptest.NewLogger(t)

		deps, err := NewDependencies(ctx, cfg, logger)
		require.NoError(t, err)
		require.NotNil(t, deps)

		// Verify infrastructure
		assert.NotNil(t, deps.Config)
		assert.NotNil(t, deps.Logger)
		assert.Nil(t, deps.DB)
		assert.Nil(t, deps.Redis)
		assert.Nil(t, deps.SQLDB())
		assert.Nil(t, deps.RedisClient())

		// Verify services
		assert.Nil(t, deps.AuditLogs)
		assert.Nil(t, deps.AuditService)
		assert.IsType(t, audit.NoopRecorder{}, deps.Recorder)
		assert.IsType(t, &tokenstore.MemoryStore{}, deps.TokenStore)
		assert.NotNil(t, deps.Records)
		assert.Equal(t, "http://records.test/api/v1", deps.Records.BaseURL())
		assert.NotNil(t, deps.Sessions)
		assert.NotNil(t, deps.Throttle)

		// Verify access control
		assert.NotNil(t, deps.Guard)
		assert.NotEmpty(t, deps.Navigation)
		assert.NotNil(t, deps.SessionMiddleware)
		assert.Equal(t, "portal_session_test", deps.SessionMiddleware.CookieName())
		assert.NotNil(t, deps.AccessMiddleware)
		assert.NotNil(t, deps.GuardMiddleware)

		err = deps.Close(ctx)
		assert.NoError(t, err)
	})

	t.Run("throttling can be disabled", func(t *testing.T) {
		ctx := context.Background()
		cfg := testConfig(t)
		cfg.LoginThrottle.Enabled = false

		deps, err := NewDependencies(ctx, cfg, zap.NewNop())
		require.NoError(t, err)
		defer deps.Close(ctx)

		assert.Nil(t, deps.Throttle)
	})

	t.Run("sessions are issued and resumed", func(t *testing.T) {
		ctx := context.Background()
		deps, err := NewDependencies(ctx, testConfig(t), zap.NewNop())
		require.NoError(t, err)
		defer deps.Close(ctx)

		holder := deps.Sessions.Issue()
		require.NotNil(t, holder)

		same, ok := deps.Sessions.Resume(ctx, holder.ID())
		require.True(t, ok)
		assert.Same(t, holder, same)
	})

	t.Run("database connection failure", func(t *testing.T) {
		ctx := context.Background()
		cfg := testConfig(t)
		cfg.Database = &config.DatabaseConfig{
			Host:     "127.0.0.1",
			Port:     1,
			User:     "portal",
			Database: "audit",
			SSLMode:  "disable",
		}
		logger := zaptest.NewLogger(t)

		deps, err := NewDependencies(ctx, cfg, logger)
		assert.Error(t, err)
		assert.Nil(t, deps)
		assert.Contains(t, err.Error(), "failed to initialize database")
	})

	t.Run("redis connection failure", func(t *testing.T) {
		ctx := context.Background()
		cfg := testConfig(t)
		cfg.Redis = &config.RedisConfig{Addr: "127.0.0.1:1"}
		logger := zaptest.NewLogger(t)

		deps, err := NewDependencies(ctx, cfg, logger)
		assert.Error(t, err)
		assert.Nil(t, deps)
		assert.Contains(t, err.Error(), "failed to initialize token store")
	})
}

func TestNewDependenciesWithAuditDatabase(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Database = testDatabaseConfig()
	logger := zaptest.NewLogger(t)

	// Skip if database not available
	if !isDatabaseAvailable(t, cfg) {
		t.Skip("database not available")
	}

	deps, err := NewDependencies(ctx, cfg, logger)
	require.NoError(t, err)
	require.NotNil(t, deps)

	assert.NotNil(t, deps.DB)
	assert.NotNil(t, deps.AuditLogs)
	require.NotNil(t, deps.AuditService)
	assert.Same(t, deps.AuditService, deps.Recorder)
	assert.True(t, deps.AuditService.GetStats().Started)

	assert.NoError(t, deps.Close(ctx))
}

func TestDependenciesClose(t *testing.T) {
	t.Run("graceful shutdown", func(t *testing.T) {
		ctx := context.Background()
		cfg := testConfig(t)
		logger := zaptest.NewLogger(t)

		deps, err := NewDependencies(ctx, cfg, logger)
		require.NoError(t, err)
		require.NotNil(t, deps)

		holder := deps.Sessions.Issue()
		require.NotNil(t, holder)

		// Close should succeed
		err = deps.Close(ctx)
		assert.NoError(t, err)
		assert.Zero(t, deps.Sessions.Len())

		// Second close is a no-op
		err = deps.Close(ctx)
		assert.NoError(t, err)
	})
}

// Test helpers

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Environment: "test",
		Server: config.ServerConfig{
			Host:            "localhost",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		RecordsAPI: config.RecordsAPIConfig{
			BaseURL:  "http://records.test/api/v1",
			Timeout:  2 * time.Second,
			RetryMax: 0,
		},
		Session: config.SessionConfig{
			CookieName:      "portal_session_test",
			IdleTTL:         time.Minute,
			MaxSessions:     10,
			InitTimeout:     time.Second,
			CleanupInterval: time.Minute,
			TokenTTL:        time.Hour,
		},
		Audit: config.AuditConfig{
			BufferSize: 10,
			Workers:    1,
		},
		LoginThrottle: config.LoginThrottleConfig{
			Enabled:        true,
			EmailPerMinute: 5,
		},
		Observability: config.ObservabilityConfig{
			LogLevel:  "debug",
			LogFormat: "json",
		},
	}
}

func testDatabaseConfig() *config.DatabaseConfig {
	return &config.DatabaseConfig{
		ConnectionString: os.Getenv("TEST_DATABASE_URL"),
		MaxOpenConns:     5,
		MaxIdleConns:     2,
		ConnMaxLifetime:  5 * time.Minute,
	}
}

func isDatabaseAvailable(t *testing.T, cfg *config.Config) bool {
	t.Helper()
	if cfg.Database == nil || cfg.Database.ConnectionString == "" {
		return false
	}

	factory, err := postgres.NewRepositoryFactory(*cfg.Database, zap.NewNop())
	if err != nil {
		return false
	}
	defer factory.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	return factory.GetDB().PingContext(ctx) == nil
}
