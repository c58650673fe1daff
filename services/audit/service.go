// Package audit records the portal's access-control events asynchronously.
package audit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/upb/medrecords-portal/models"
	"github.com/upb/medrecords-portal/repositories"
	"go.uber.org/zap"
)

// Recorder accepts access audit entries. Record never blocks the request
// path. RecordWait may wait briefly for buffer space and is used for sign-in
// and sign-out events.
type Recorder interface {
	Record(log *models.AccessAuditLog)
	RecordWait(ctx context.Context, log *models.AccessAuditLog)
}

// NoopRecorder discards entries. It is wired when no audit database is configured.
type NoopRecorder struct{}

// Record implements Recorder.
func (NoopRecorder) Record(*models.AccessAuditLog) {}

// RecordWait implements Recorder.
func (NoopRecorder) RecordWait(context.Context, *models.AccessAuditLog) {}

// DefaultMaxWait bounds RecordWait.
const DefaultMaxWait = 500 * time.Millisecond

// AuditService handles asynchronous audit logging
type AuditService struct {
	auditRepo   repositories.AuditRepository
	logger      *zap.Logger
	eventChan   chan *models.AccessAuditLog
	quit        chan struct{}
	quitOnce    sync.Once
	workerCount int
	bufferSize  int
	maxWait     time.Duration
	wg          sync.WaitGroup

	// mu guards started/stopped and the channel close; senders hold the read lock
	mu      sync.RWMutex
	started bool
	stopped bool

	dropped atomic.Uint64
}

// Config holds configuration for the AuditService
type Config struct {
	BufferSize  int           // Size of the event buffer channel
	WorkerCount int           // Number of concurrent workers
	MaxWait     time.Duration // Upper bound for RecordWait; zero uses DefaultMaxWait
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:  1000,
		WorkerCount: 2,
		MaxWait:     DefaultMaxWait,
	}
}

// NewAuditService creates a new AuditService instance
func NewAuditService(auditRepo repositories.AuditRepository, logger *zap.Logger, config Config) *AuditService {
	if config.BufferSize <= 0 || config.WorkerCount <= 0 {
		config = DefaultConfig()
	}
	if config.MaxWait <= 0 {
		config.MaxWait = DefaultMaxWait
	}
	return &AuditService{
		auditRepo:   auditRepo,
		logger:      logger,
		eventChan:   make(chan *models.AccessAuditLog, config.BufferSize),
		quit:        make(chan struct{}),
		workerCount: config.WorkerCount,
		bufferSize:  config.BufferSize,
		maxWait:     config.MaxWait,
	}
}

// Start starts the background workers
func (s *AuditService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("audit service already started")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started audit service",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize))

	return nil
}

// Stop stops accepting events and waits for queued ones to be written.
func (s *AuditService) Stop(timeout time.Duration) error {
	s.mu.RLock()
	running := s.started && !s.stopped
	s.mu.RUnlock()
	if !running {
		return fmt.Errorf("audit service not started")
	}

	// Release senders blocked in LogEventBlocking before taking the write lock
	s.quitOnce.Do(func() { close(s.quit) })

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("audit service not started")
	}
	s.stopped = true
	s.logger.Info("stopping audit service", zap.Int("pending_events", len(s.eventChan)))
	close(s.eventChan)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("audit service stopped gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("audit service stop timeout after %v", timeout)
	}
}

// Record implements Recorder. Failures are logged by LogEvent.
func (s *AuditService) Record(log *models.AccessAuditLog) {
	_ = s.LogEvent(log)
}

// RecordWait implements Recorder. The entry is dropped when no buffer space
// frees up within MaxWait or before ctx is done.
func (s *AuditService) RecordWait(ctx context.Context, log *models.AccessAuditLog) {
	wctx, cancel := context.WithTimeout(ctx, s.maxWait)
	defer cancel()

	if err := s.LogEventBlocking(wctx, log); err != nil {
		s.dropped.Add(1)
		s.logger.Warn("failed to queue audit event",
			zap.String("action", string(log.Action)),
			zap.String("session_id", log.SessionID),
			zap.Error(err))
	}
}

// LogEvent queues an entry without blocking. The entry is dropped when the
// buffer is full.
func (s *AuditService) LogEvent(log *models.AccessAuditLog) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started || s.stopped {
		return fmt.Errorf("audit service not started")
	}

	select {
	case s.eventChan <- log:
		return nil
	default:
		s.dropped.Add(1)
		s.logger.Warn("audit event channel full, dropping event",
			zap.String("action", string(log.Action)),
			zap.String("session_id", log.SessionID))
		return fmt.Errorf("audit event buffer full")
	}
}

// LogEventBlocking waits until the entry is queued, ctx is done or the
// service stops.
func (s *AuditService) LogEventBlocking(ctx context.Context, log *models.AccessAuditLog) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started || s.stopped {
		return fmt.Errorf("audit service not started")
	}

	select {
	case s.eventChan <- log:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.quit:
		return fmt.Errorf("audit service stopped")
	}
}

// worker processes events from the channel
func (s *AuditService) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("audit worker started", zap.Int("worker_id", id))

	for log := range s.eventChan {
		if err := s.processEvent(log); err != nil {
			s.logger.Error("failed to process audit event",
				zap.Int("worker_id", id),
				zap.Error(err),
				zap.String("action", string(log.Action)),
				zap.String("session_id", log.SessionID))
		}
	}

	s.logger.Debug("audit worker stopped", zap.Int("worker_id", id))
}

// processEvent writes a single entry
func (s *AuditService) processEvent(log *models.AccessAuditLog) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.auditRepo.Insert(ctx, log); err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}

	return nil
}

// GetStats returns statistics about the audit service
func (s *AuditService) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		BufferSize:    s.bufferSize,
		PendingEvents: len(s.eventChan),
		WorkerCount:   s.workerCount,
		Started:       s.started && !s.stopped,
		Dropped:       s.dropped.Load(),
	}
}

// Stats represents audit service statistics
type Stats struct {
	BufferSize    int
	PendingEvents int
	WorkerCount   int
	Started       bool
	Dropped       uint64
}
