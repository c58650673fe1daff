package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/upb/medrecords-portal/clients/records"
	"github.com/upb/medrecords-portal/internal/auth"
	"github.com/upb/medrecords-portal/services"
	"github.com/upb/medrecords-portal/session/tokenstore"
	"github.com/upb/medrecords-portal/tokens"
	"github.com/upb/medrecords-portal/utils"
	"go.uber.org/zap"
)

// Backend is the part of the records API the holder depends on.
type Backend interface {
	Login(ctx context.Context, email, password string) (*records.LoginResponse, error)
	CurrentUser(ctx context.Context, token string) (*records.User, error)
	Logout(ctx context.Context, token string) error
	ProfileStatus(ctx context.Context, token string) (bool, error)
}

// RegisterRequest is accepted for API symmetry; registration is always refused.
type RegisterRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Holder is the state container for one browser session.
type Holder struct {
	id      atomic.Pointer[string]
	backend Backend
	tokens  tokenstore.Store
	logger  *zap.Logger
	now     func() time.Time

	// newID mints the session ID a successful login moves to. onRotate, when
	// set, is told about the move after the token is stored under the new ID.
	newID    func() string
	onRotate func(oldID, newID string)

	snap      atomic.Pointer[Snapshot]
	ready     chan struct{}
	readyOnce sync.Once

	// mu guards gen and cancel. It is never held across I/O.
	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc

	// writeMu serialises token store writes with the snapshot swap that
	// follows them, so the stored token always belongs to the newest
	// published generation.
	writeMu sync.Mutex

	lastSeen atomic.Int64
}

// NewHolder creates a holder for sessionID. It reports loading until Init,
// Login or Logout publishes a first result.
func NewHolder(sessionID string, backend Backend, store tokenstore.Store, logger *zap.Logger) *Holder {
	h := &Holder{
		backend: backend,
		tokens:  store,
		logger:  logger,
		now:     time.Now,
		newID:   uuid.NewString,
		ready:   make(chan struct{}),
	}
	h.id.Store(&sessionID)
	h.snap.Store(&Snapshot{Loading: true})
	h.touch()
	return h
}

// ID returns the browser session ID. It changes when a login succeeds.
func (h *Holder) ID() string {
	return *h.id.Load()
}

// Ready is closed once the holder has published its first settled snapshot.
func (h *Holder) Ready() <-chan struct{} {
	return h.ready
}

// settle publishes the signed-out state for a session that has no token to
// restore.
func (h *Holder) settle() {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	h.publish(0, Snapshot{})
}

// Snapshot returns the current immutable state.
func (h *Holder) Snapshot() Snapshot {
	return *h.snap.Load()
}

// Init restores the session from the persisted token.
func (h *Holder) Init(ctx context.Context) error {
	tctx, gen, done := h.begin(ctx)
	defer done()

	token, err := h.tokens.Get(tctx, h.ID())
	if err != nil {
		if !errors.Is(err, tokenstore.ErrNotFound) {
			h.logger.Warn("failed to read persisted token",
				zap.String("session_id", h.ID()),
				zap.Error(err))
		}
		return h.apply(tctx, gen, nil, Snapshot{})
	}

	if tokens.Expired(token, h.now()) {
		h.logger.Debug("persisted token expired, discarding")
		if !h.clear(tctx, gen) {
			return services.ErrSuperseded
		}
		return services.ErrSessionExpired
	}

	if !h.publish(gen, Snapshot{Loading: true}) {
		return services.ErrSuperseded
	}

	user, err := h.backend.CurrentUser(tctx, token)
	if err != nil {
		if !h.current(gen) {
			return services.ErrSuperseded
		}
		h.logger.Info("failed to restore session", zap.Error(err))
		if !h.clear(tctx, gen) {
			return services.ErrSuperseded
		}
		return classifyBackendError(err, services.ErrSessionExpired)
	}

	identity := h.resolve(tctx, token, user)
	return h.apply(tctx, gen, nil, Snapshot{Identity: identity})
}

// Login exchanges credentials for an identity and moves the session to a
// fresh ID. On failure any prior identity and its token are cleared. A login
// overtaken by a newer transition returns services.ErrSuperseded and
// publishes nothing.
func (h *Holder) Login(ctx context.Context, email, password string) (*auth.Identity, error) {
	email = strings.TrimSpace(email)
	if err := utils.ValidateRequired(email, "email"); err != nil {
		return nil, services.Wrap(services.ErrInvalidInput, err)
	}
	if err := utils.ValidateRequired(password, "password"); err != nil {
		return nil, services.Wrap(services.ErrInvalidInput, err)
	}
	if err := utils.ValidateEmail(email); err != nil {
		return nil, services.Wrap(services.ErrInvalidEmail, err)
	}

	tctx, gen, done := h.begin(ctx)
	defer done()

	resp, err := h.backend.Login(tctx, email, password)
	if err != nil {
		if !h.clear(tctx, gen) {
			return nil, services.ErrSuperseded
		}
		return nil, classifyBackendError(err, services.ErrInvalidCredentials)
	}

	user := resp.User
	if user == nil {
		user, err = h.backend.CurrentUser(tctx, resp.AccessToken)
		if err != nil {
			if !h.clear(tctx, gen) {
				return nil, services.ErrSuperseded
			}
			return nil, classifyBackendError(err, services.ErrInvalidCredentials)
		}
	}

	identity := h.resolve(tctx, resp.AccessToken, user)

	persist := func(ctx context.Context) error {
		return h.rotate(ctx, resp.AccessToken)
	}
	if err := h.apply(tctx, gen, persist, Snapshot{Identity: identity}); err != nil {
		if errors.Is(err, services.ErrTokenStore) && !h.clear(tctx, gen) {
			return nil, services.ErrSuperseded
		}
		return nil, err
	}

	h.logger.Info("user logged in",
		zap.String("session_id", h.ID()),
		zap.String("user_id", identity.ID),
		zap.String("role", identity.Role.String()))
	return identity, nil
}

// Logout clears the identity and the persisted token, then invalidates the
// remote session. Remote failures are only logged. Calling Logout on a
// signed-out session is a no-op.
func (h *Holder) Logout(ctx context.Context) error {
	tctx, gen, done := h.begin(ctx)
	defer done()

	token, err := h.tokens.Get(tctx, h.ID())
	if err != nil && !errors.Is(err, tokenstore.ErrNotFound) {
		h.logger.Warn("failed to read persisted token", zap.Error(err))
	}

	if !h.clear(tctx, gen) {
		return services.ErrSuperseded
	}

	if token == "" {
		return nil
	}

	if err := h.backend.Logout(context.WithoutCancel(ctx), token); err != nil {
		h.logger.Warn("remote logout failed", zap.Error(err))
	}
	return nil
}

// Register always fails: accounts are created by an administrator.
func (h *Holder) Register(_ context.Context, _ RegisterRequest) error {
	return services.ErrRegistrationDisabled
}

// RefreshProfileStatus re-runs the doctor profile check for the current
// identity. Non-doctor sessions are returned unchanged.
func (h *Holder) RefreshProfileStatus(ctx context.Context) (Snapshot, error) {
	current := h.Snapshot()
	if !current.Authenticated() {
		return current, services.ErrUnauthenticated
	}
	if !current.Identity.IsDoctor() {
		return current, nil
	}

	tctx, gen, done := h.begin(ctx)
	defer done()

	token, err := h.tokens.Get(tctx, h.ID())
	if err != nil {
		if !errors.Is(err, tokenstore.ErrNotFound) {
			return current, services.Wrap(services.ErrTokenStore, err)
		}
		if applyErr := h.apply(tctx, gen, nil, Snapshot{}); applyErr != nil {
			return h.Snapshot(), applyErr
		}
		return h.Snapshot(), services.ErrSessionExpired
	}

	completed := h.profileCompleted(tctx, token)
	next := Snapshot{Identity: current.Identity.WithProfileCompleted(completed)}
	if err := h.apply(tctx, gen, nil, next); err != nil {
		return h.Snapshot(), err
	}
	return h.Snapshot(), nil
}

// Token returns the persisted access token of an authenticated session.
func (h *Holder) Token(ctx context.Context) (string, error) {
	if !h.Snapshot().Authenticated() {
		return "", services.ErrUnauthenticated
	}
	token, err := h.tokens.Get(ctx, h.ID())
	if err != nil {
		if errors.Is(err, tokenstore.ErrNotFound) {
			return "", services.ErrSessionExpired
		}
		return "", services.Wrap(services.ErrTokenStore, err)
	}
	return token, nil
}

// Close cancels any in-flight transition. The persisted token is kept.
func (h *Holder) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// LastSeen returns when the holder was last touched.
func (h *Holder) LastSeen() time.Time {
	return time.Unix(0, h.lastSeen.Load())
}

func (h *Holder) touch() {
	h.lastSeen.Store(h.now().UnixNano())
}

// resolve builds the identity for user. Doctors get their profile flag from
// the backend; a failed check counts as incomplete.
func (h *Holder) resolve(ctx context.Context, token string, user *records.User) *auth.Identity {
	identity := auth.NewIdentity(user.ID, user.Email, user.DisplayName(), auth.ParseRole(user.Role))
	if user.AssignedDoctorID != nil {
		id := *user.AssignedDoctorID
		identity.AssignedDoctorID = &id
	}
	if !identity.Role.Valid() {
		h.logger.Warn("user has unrecognised role", zap.String("user_id", user.ID), zap.String("role", user.Role))
	}
	if identity.IsDoctor() {
		identity.ProfileCompleted = h.profileCompleted(ctx, token)
	}
	return identity
}

func (h *Holder) profileCompleted(ctx context.Context, token string) bool {
	done, err := h.backend.ProfileStatus(ctx, token)
	if err != nil {
		h.logger.Warn("doctor profile status check failed, treating profile as incomplete",
			zap.Error(services.Wrap(services.ErrProfileCheckFailed, err)))
		return false
	}
	return done
}

func (h *Holder) deleteToken(ctx context.Context) error {
	return h.tokens.Delete(ctx, h.ID())
}

// rotate stores token under a fresh session ID and retires the current one.
// Must be called with writeMu held.
func (h *Holder) rotate(ctx context.Context, token string) error {
	oldID := h.ID()
	newID := h.newID()
	if err := h.tokens.Set(ctx, newID, token); err != nil {
		return err
	}
	if err := h.tokens.Delete(ctx, oldID); err != nil {
		h.logger.Warn("failed to delete token of retired session ID",
			zap.String("session_id", oldID),
			zap.Error(err))
	}
	h.id.Store(&newID)
	if h.onRotate != nil {
		h.onRotate(oldID, newID)
	}
	return nil
}

// clear publishes the signed-out state for gen even when the persisted token
// cannot be deleted. It reports false when gen was superseded.
func (h *Holder) clear(ctx context.Context, gen uint64) bool {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	if !h.current(gen) {
		return false
	}
	if err := h.deleteToken(ctx); err != nil {
		h.logger.Warn("failed to delete persisted token",
			zap.String("session_id", h.ID()),
			zap.Error(err))
	}
	return h.publish(gen, Snapshot{})
}

// begin starts a new generation and cancels the previous transition.
func (h *Holder) begin(parent context.Context) (context.Context, uint64, func()) {
	ctx, cancel := context.WithCancel(parent)

	h.mu.Lock()
	if h.cancel != nil {
		h.cancel()
	}
	h.gen++
	gen := h.gen
	h.cancel = cancel
	h.mu.Unlock()

	h.touch()

	return ctx, gen, func() {
		cancel()
		h.mu.Lock()
		if h.gen == gen {
			h.cancel = nil
		}
		h.mu.Unlock()
	}
}

func (h *Holder) current(gen uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.gen == gen
}

// publish swaps in next if gen is still the newest generation.
func (h *Holder) publish(gen uint64, next Snapshot) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.gen != gen {
		return false
	}
	next.Generation = gen
	h.snap.Store(&next)
	if !next.Loading {
		h.readyOnce.Do(func() { close(h.ready) })
	}
	return true
}

// apply runs persist and publishes next as one step for generation gen.
func (h *Holder) apply(ctx context.Context, gen uint64, persist func(context.Context) error, next Snapshot) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	if !h.current(gen) {
		return services.ErrSuperseded
	}
	if persist != nil {
		if err := persist(ctx); err != nil {
			if !h.current(gen) {
				return services.ErrSuperseded
			}
			return services.Wrap(services.ErrTokenStore, err)
		}
	}
	if !h.publish(gen, next) {
		return services.ErrSuperseded
	}
	return nil
}

// classifyBackendError maps records failures onto the session error taxonomy.
func classifyBackendError(err error, authErr *services.DomainError) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return services.Wrap(services.ErrRecordsUnavailable, err)
	case errors.Is(err, records.ErrUnauthorized):
		return services.Wrap(authErr, err)
	default:
		var apiErr *records.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode < 500 {
			return services.Wrap(authErr, err)
		}
		return services.Wrap(services.ErrRecordsUnavailable, err)
	}
}
