package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/upb/medrecords-portal/clients/records"
	"github.com/upb/medrecords-portal/config"
	"github.com/upb/medrecords-portal/internal/guard"
	"github.com/upb/medrecords-portal/internal/navigation"
	"github.com/upb/medrecords-portal/middleware"
	"github.com/upb/medrecords-portal/repositories"
	"github.com/upb/medrecords-portal/repositories/postgres"
	"github.com/upb/medrecords-portal/services/audit"
	"github.com/upb/medrecords-portal/services/ratelimit"
	"github.com/upb/medrecords-portal/session"
	"github.com/upb/medrecords-portal/session/tokenstore"
	"go.uber.org/zap"
)

const defaultAuditStopTimeout = 5 * time.Second

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	Logger *zap.Logger
	DB     *postgres.DB  // nil when no audit database is configured
	Redis  *redis.Client // nil when tokens are kept in memory

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	AuditLogs repositories.AuditRepository

	// Services
	AuditService *audit.AuditService
	Recorder     audit.Recorder
	Records      *records.Client
	TokenStore   tokenstore.Store
	Sessions     *session.Manager
	Throttle     *ratelimit.RateLimitService // nil when login throttling is disabled

	// Access control
	Guard      *guard.Guard
	Navigation []navigation.Entry

	SessionMiddleware *middleware.SessionMiddleware
	AccessMiddleware  *middleware.AccessMiddleware
	GuardMiddleware   *middleware.GuardMiddleware

	background  context.Context
	stopCleanup context.CancelFunc
	closeOnce   sync.Once
	closeErr    error
}

// NewDependencies creates and wires up all application dependencies. The
// audit database and Redis are optional; without them access events are
// discarded and tokens live in process memory.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	background, stopCleanup := context.WithCancel(context.Background())
	deps := &Dependencies{
		Config:      cfg,
		Logger:      logger,
		background:  background,
		stopCleanup: stopCleanup,
	}

	// Initialize PostgreSQL audit store
	if err := deps.initDatabase(ctx, cfg); err != nil {
		stopCleanup()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	deps.initAudit(cfg)

	// Initialize token store
	if err := deps.initTokenStore(ctx, cfg); err != nil {
		_ = deps.Close(ctx)
		return nil, fmt.Errorf("failed to initialize token store: %w", err)
	}

	deps.initSessions(cfg)
	deps.initThrottle(cfg)
	deps.initAccessControl(cfg)

	logger.Info("all dependencies initialized successfully",
		zap.Bool("audit_enabled", deps.AuditLogs != nil),
		zap.Bool("redis_enabled", deps.Redis != nil))
	return deps, nil
}

// initDatabase opens the audit database, prepares its schema and builds the
// repositories
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	if cfg.Database == nil {
		d.Logger.Warn("no audit database configured, access audit trail disabled")
		return nil
	}

	factory, err := postgres.NewRepositoryFactory(*cfg.Database, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	if err := factory.InitSchema(ctx); err != nil {
		_ = factory.Close()
		return fmt.Errorf("failed to initialize audit schema: %w", err)
	}

	d.RepoFactory = factory
	d.DB = factory.GetDB()

	repos := factory.NewRepositories()
	d.AuditLogs = repos.AuditLogs

	d.Logger.Info("database connection established",
		zap.String("connection", cfg.Database.LogString()))

	return nil
}

// initAudit starts the asynchronous audit writer when there is a store
func (d *Dependencies) initAudit(cfg *config.Config) {
	if d.AuditLogs == nil {
		d.Recorder = audit.NoopRecorder{}
		return
	}

	d.AuditService = audit.NewAuditService(d.AuditLogs, d.Logger, audit.Config{
		BufferSize:  cfg.Audit.BufferSize,
		WorkerCount: cfg.Audit.Workers,
	})
	if err := d.AuditService.Start(); err != nil {
		d.Logger.Warn("audit service already started", zap.Error(err))
	}
	d.Recorder = d.AuditService
}

// initTokenStore connects Redis or falls back to the in-memory store
func (d *Dependencies) initTokenStore(ctx context.Context, cfg *config.Config) error {
	if cfg.Redis == nil {
		d.Logger.Warn("no Redis configured, session tokens are kept in memory")
		d.TokenStore = tokenstore.NewMemoryStore(cfg.Session.TokenTTL)
		return nil
	}

	client, err := tokenstore.NewRedisClient(ctx, tokenstore.RedisOptions{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return err
	}

	d.Redis = client
	d.TokenStore = tokenstore.NewRedisStore(client, cfg.Session.TokenTTL)
	d.Logger.Info("redis token store connected", zap.String("addr", cfg.Redis.Addr))
	return nil
}

// initSessions builds the records client and the session registry
func (d *Dependencies) initSessions(cfg *config.Config) {
	d.Records = records.NewClient(records.Config{
		BaseURL:      cfg.RecordsAPI.BaseURL,
		Timeout:      cfg.RecordsAPI.Timeout,
		RetryMax:     cfg.RecordsAPI.RetryMax,
		RetryWaitMin: cfg.RecordsAPI.RetryWaitMin,
		RetryWaitMax: cfg.RecordsAPI.RetryWaitMax,
	}, d.Logger)

	d.Sessions = session.NewManager(session.ManagerConfig{
		MaxSessions: cfg.Session.MaxSessions,
		IdleTTL:     cfg.Session.IdleTTL,
		InitTimeout: cfg.Session.InitTimeout,
	}, d.Records, d.TokenStore, d.Logger)

	if cfg.Session.CleanupInterval > 0 {
		go d.Sessions.StartCleanupWorker(d.background, cfg.Session.CleanupInterval)
	}
}

// initThrottle limits failed sign-ins, sharing attempt counts through Redis
// when it is configured
func (d *Dependencies) initThrottle(cfg *config.Config) {
	lt := cfg.LoginThrottle
	if !lt.Enabled {
		d.Logger.Warn("login throttling disabled")
		return
	}

	var counter ratelimit.Counter
	if d.Redis != nil {
		counter = ratelimit.NewRedisCounter(d.Redis)
	} else {
		counter = ratelimit.NewMemoryCounter()
	}

	d.Throttle = ratelimit.NewRateLimitService(counter, ratelimit.Config{
		EmailLimits: []ratelimit.Limit{
			{Window: ratelimit.WindowMinute, MaxAttempts: lt.EmailPerMinute},
			{Window: ratelimit.WindowHour, MaxAttempts: lt.EmailPerHour},
		},
		ClientLimits: []ratelimit.Limit{
			{Window: ratelimit.WindowMinute, MaxAttempts: lt.ClientPerMinute},
		},
	}, d.Logger)

	if cfg.Session.CleanupInterval > 0 {
		go d.Throttle.StartCleanupWorker(d.background, cfg.Session.CleanupInterval)
	}
}

// initAccessControl builds the guard, the navigation catalog and the
// middlewares that apply them
func (d *Dependencies) initAccessControl(cfg *config.Config) {
	d.Guard = guard.New()
	d.Navigation = navigation.Catalog()

	d.SessionMiddleware = middleware.NewSessionMiddleware(d.Sessions, middleware.CookieConfig{
		Name:   cfg.Session.CookieName,
		Secure: cfg.Session.CookieSecure,
		MaxAge: cfg.Session.TokenTTL,
	}, d.Logger)
	d.AccessMiddleware = middleware.NewAccessMiddleware(d.Recorder, d.Logger)
	d.GuardMiddleware = middleware.NewGuardMiddleware(d.Guard, d.Recorder, d.Logger)
}

// SQLDB returns the audit database pool, or nil when none is configured
func (d *Dependencies) SQLDB() *sql.DB {
	if d.DB == nil {
		return nil
	}
	return d.DB.DB
}

// RedisClient returns the token store client as an interface, or a nil
// interface when Redis is not configured
func (d *Dependencies) RedisClient() redis.UniversalClient {
	if d.Redis == nil {
		return nil
	}
	return d.Redis
}

// Close gracefully shuts down all dependencies. Only the first call does
// any work.
func (d *Dependencies) Close(ctx context.Context) error {
	d.closeOnce.Do(func() {
		d.closeErr = d.close(ctx)
	})
	return d.closeErr
}

func (d *Dependencies) close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.stopCleanup != nil {
		d.stopCleanup()
	}

	if d.Sessions != nil {
		d.Sessions.Close()
	}

	// Drain pending audit events before the database goes away
	if d.AuditService != nil {
		timeout := defaultAuditStopTimeout
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		if err := d.AuditService.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop audit service: %w", err))
		}
	}

	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		} else {
			d.Logger.Info("redis connection closed")
		}
	}

	// Close database connection
	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	// Sync logger
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %w", errors.Join(errs...))
	}

	return nil
}
