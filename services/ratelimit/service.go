package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/upb/medrecords-portal/services"
	"go.uber.org/zap"
)

// RateLimitWindow represents the time window for rate limiting
type RateLimitWindow string

const (
	WindowMinute RateLimitWindow = "minute"
	WindowHour   RateLimitWindow = "hour"
	WindowDay    RateLimitWindow = "day"
)

// Duration returns the length of the window
func (w RateLimitWindow) Duration() time.Duration {
	switch w {
	case WindowMinute:
		return time.Minute
	case WindowHour:
		return time.Hour
	case WindowDay:
		return 24 * time.Hour
	default:
		return 0
	}
}

// Limit allows MaxAttempts failures per Window. Zero disables it.
type Limit struct {
	Window      RateLimitWindow
	MaxAttempts int
}

// Config holds the limits applied per account and per client address
type Config struct {
	EmailLimits  []Limit
	ClientLimits []Limit
}

// RateLimitRequest identifies a sign-in attempt
type RateLimitRequest struct {
	Email    string
	ClientIP string
}

// RateLimitResult represents the result of a rate limit check
type RateLimitResult struct {
	Allowed         bool
	Remaining       int // -1 when no limit applies
	RetryAfter      time.Duration
	ViolatedWindow  RateLimitWindow
	ViolationReason string
}

// Err converts a blocked result to the domain error answered to the client
func (r *RateLimitResult) Err() error {
	if r == nil || r.Allowed {
		return nil
	}
	seconds := int(math.Ceil(r.RetryAfter.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	return services.NewDomainError(services.ErrorTypeRateLimit, services.ErrTooManyLoginAttempts.Message, nil).
		WithDetail("retry_after_seconds", seconds)
}

// RateLimitService throttles failed sign-ins per account and per client
type RateLimitService struct {
	counter Counter
	cfg     Config
	logger  *zap.Logger
}

// NewRateLimitService creates a new RateLimitService instance
func NewRateLimitService(counter Counter, cfg Config, logger *zap.Logger) *RateLimitService {
	return &RateLimitService{
		counter: counter,
		cfg:     cfg,
		logger:  logger,
	}
}

type scope struct {
	key    string
	limits []Limit
}

// CheckLimit reports whether another attempt is allowed. Only failures
// count, so a blocked scope opens again when its window closes.
func (s *RateLimitService) CheckLimit(ctx context.Context, req RateLimitRequest) (*RateLimitResult, error) {
	result := &RateLimitResult{Allowed: true, Remaining: math.MaxInt}

	for _, sc := range s.scopes(req) {
		for _, limit := range sc.limits {
			if limit.MaxAttempts <= 0 {
				continue
			}

			count, ttl, err := s.counter.Count(ctx, windowKey(sc.key, limit.Window))
			if err != nil {
				return nil, fmt.Errorf("failed to check %s window: %w", limit.Window, err)
			}

			if count >= limit.MaxAttempts {
				if ttl <= 0 {
					ttl = limit.Window.Duration()
				}
				return &RateLimitResult{
					Allowed:         false,
					RetryAfter:      ttl,
					ViolatedWindow:  limit.Window,
					ViolationReason: fmt.Sprintf("exceeded %d failed attempts per %s", limit.MaxAttempts, limit.Window),
				}, nil
			}

			if remaining := limit.MaxAttempts - count; remaining < result.Remaining {
				result.Remaining = remaining
			}
		}
	}

	if result.Remaining == math.MaxInt {
		result.Remaining = -1
	}
	return result, nil
}

// RecordFailure counts a failed attempt in every window
func (s *RateLimitService) RecordFailure(ctx context.Context, req RateLimitRequest) error {
	for _, sc := range s.scopes(req) {
		for _, limit := range sc.limits {
			if limit.MaxAttempts <= 0 {
				continue
			}
			if _, err := s.counter.Incr(ctx, windowKey(sc.key, limit.Window), limit.Window.Duration()); err != nil {
				return fmt.Errorf("failed to record %s attempt: %w", limit.Window, err)
			}
		}
	}
	return nil
}

// Reset clears the account windows after a successful sign-in. Client
// windows are kept since other accounts may share the address.
func (s *RateLimitService) Reset(ctx context.Context, req RateLimitRequest) error {
	email := normalizeEmail(req.Email)
	if email == "" {
		return nil
	}
	for _, limit := range s.cfg.EmailLimits {
		if err := s.counter.Reset(ctx, windowKey(emailKey(email), limit.Window)); err != nil {
			return err
		}
	}
	return nil
}

// StartCleanupWorker periodically drops closed windows of an in-memory
// counter. Other counters expire keys on their own.
func (s *RateLimitService) StartCleanupWorker(ctx context.Context, interval time.Duration) {
	mem, ok := s.counter.(*MemoryCounter)
	if !ok {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("started rate limit cleanup worker", zap.Duration("interval", interval))

	for {
		select {
		case <-ticker.C:
			if removed := mem.Sweep(); removed > 0 {
				s.logger.Debug("dropped closed rate limit windows", zap.Int("removed", removed))
			}
		case <-ctx.Done():
			s.logger.Info("stopping rate limit cleanup worker")
			return
		}
	}
}

func (s *RateLimitService) scopes(req RateLimitRequest) []scope {
	scopes := make([]scope, 0, 2)
	if email := normalizeEmail(req.Email); email != "" && len(s.cfg.EmailLimits) > 0 {
		scopes = append(scopes, scope{key: emailKey(email), limits: s.cfg.EmailLimits})
	}
	if req.ClientIP != "" && len(s.cfg.ClientLimits) > 0 {
		scopes = append(scopes, scope{key: "login:client:" + req.ClientIP, limits: s.cfg.ClientLimits})
	}
	return scopes
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func emailKey(email string) string {
	return "login:email:" + email
}

func windowKey(scopeKey string, window RateLimitWindow) string {
	return scopeKey + ":" + string(window)
}
