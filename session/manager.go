package session

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/upb/medrecords-portal/services"
	"github.com/upb/medrecords-portal/session/tokenstore"
	"go.uber.org/zap"
)

// ManagerConfig bounds the in-memory session registry.
type ManagerConfig struct {
	MaxSessions int
	IdleTTL     time.Duration
	InitTimeout time.Duration
}

// managerEntry is one registry slot with its LRU element.
type managerEntry struct {
	holder  *Holder
	element *list.Element
}

// Manager maps browser session IDs to holders. It is an LRU with idle
// expiry; dropping a holder loses only in-memory state, the persisted token
// is re-resolved by Init on the next request. Only IDs minted by Issue or by
// a login rotation are ever registered.
type Manager struct {
	mu      sync.Mutex
	entries map[string]*managerEntry
	lruList *list.List

	cfg     ManagerConfig
	backend Backend
	tokens  tokenstore.Store
	logger  *zap.Logger
	now     func() time.Time
	newID   func() string

	evictions uint64
}

// NewManager creates a Manager.
func NewManager(cfg ManagerConfig, backend Backend, store tokenstore.Store, logger *zap.Logger) *Manager {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 10000
	}
	if cfg.InitTimeout <= 0 {
		cfg.InitTimeout = 10 * time.Second
	}
	return &Manager{
		entries: make(map[string]*managerEntry),
		lruList: list.New(),
		cfg:     cfg,
		backend: backend,
		tokens:  store,
		logger:  logger,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// Issue creates a signed-out holder under a newly minted session ID.
func (m *Manager) Issue() *Holder {
	holder := m.newHolder(m.newID())
	holder.settle()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.insert(holder)
	return holder
}

// Resume returns the holder for a session ID this portal issued: one that is
// still registered or that has a persisted token. Unknown IDs report false.
// A holder that is still restoring is waited for, up to InitTimeout.
func (m *Manager) Resume(ctx context.Context, sessionID string) (*Holder, bool) {
	holder, ok := m.lookup(sessionID)
	if !ok {
		if !m.persisted(ctx, sessionID) {
			return nil, false
		}
		holder = m.restore(ctx, sessionID)
	}

	m.awaitReady(ctx, holder)
	return holder, true
}

// lookup returns a live registered holder and marks it recently used.
func (m *Manager) lookup(sessionID string) (*Holder, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[sessionID]
	if !ok {
		return nil, false
	}
	if m.isIdle(entry.holder) {
		m.removeEntry(sessionID)
		return nil, false
	}
	m.lruList.MoveToFront(entry.element)
	entry.holder.touch()
	return entry.holder, true
}

// persisted reports whether a token is stored for sessionID. A failing store
// counts as known so that Init can decide once it recovers.
func (m *Manager) persisted(ctx context.Context, sessionID string) bool {
	lctx, cancel := context.WithTimeout(ctx, m.cfg.InitTimeout)
	defer cancel()

	_, err := m.tokens.Get(lctx, sessionID)
	switch {
	case err == nil:
		return true
	case errors.Is(err, tokenstore.ErrNotFound):
		return false
	default:
		m.logger.Warn("failed to look up persisted session",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return true
	}
}

// restore registers a holder for sessionID and starts Init in the background.
// A holder registered concurrently for the same ID wins.
func (m *Manager) restore(ctx context.Context, sessionID string) *Holder {
	m.mu.Lock()
	if entry, ok := m.entries[sessionID]; ok {
		m.mu.Unlock()
		return entry.holder
	}
	holder := m.newHolder(sessionID)
	m.insert(holder)
	m.mu.Unlock()

	initCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.InitTimeout)
	go func() {
		defer cancel()
		if err := holder.Init(initCtx); err != nil && !errors.Is(err, services.ErrSuperseded) {
			m.logger.Debug("session restore did not authenticate",
				zap.String("session_id", sessionID),
				zap.Error(err))
		}
	}()
	return holder
}

func (m *Manager) awaitReady(ctx context.Context, holder *Holder) {
	timer := time.NewTimer(m.cfg.InitTimeout)
	defer timer.Stop()

	select {
	case <-holder.Ready():
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (m *Manager) newHolder(sessionID string) *Holder {
	holder := NewHolder(sessionID, m.backend, m.tokens, m.logger)
	holder.now = m.now
	holder.newID = m.newID
	holder.onRotate = m.rekey
	holder.touch()
	return holder
}

// insert must be called with the lock held.
func (m *Manager) insert(holder *Holder) {
	for m.lruList.Len() >= m.cfg.MaxSessions {
		m.evictLRU()
	}
	id := holder.ID()
	m.entries[id] = &managerEntry{
		holder:  holder,
		element: m.lruList.PushFront(id),
	}
}

// rekey moves a registered holder to the ID its login rotated to.
func (m *Manager) rekey(oldID, newID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[oldID]
	if !ok {
		return
	}
	delete(m.entries, oldID)
	entry.element.Value = newID
	m.entries[newID] = entry
}

// Get returns a live holder without creating one.
func (m *Manager) Get(sessionID string) (*Holder, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[sessionID]
	if !ok || m.isIdle(entry.holder) {
		return nil, false
	}
	return entry.holder, true
}

// Remove drops the holder for sessionID.
func (m *Manager) Remove(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeEntry(sessionID)
}

// Len returns the number of live holders.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lruList.Len()
}

// Stats reports registry size and evictions.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ManagerStats{
		Size:      m.lruList.Len(),
		MaxSize:   m.cfg.MaxSessions,
		Evictions: m.evictions,
	}
}

// ManagerStats is a point-in-time view of the registry.
type ManagerStats struct {
	Size      int    `json:"size"`
	MaxSize   int    `json:"max_size"`
	Evictions uint64 `json:"evictions"`
}

// CleanupIdle removes holders that were not touched within IdleTTL.
func (m *Manager) CleanupIdle() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	idle := make([]string, 0)
	for id, entry := range m.entries {
		if m.isIdle(entry.holder) {
			idle = append(idle, id)
		}
	}
	for _, id := range idle {
		m.removeEntry(id)
	}
	return len(idle)
}

// StartCleanupWorker runs CleanupIdle every interval until ctx is done.
func (m *Manager) StartCleanupWorker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := m.CleanupIdle(); n > 0 {
				m.logger.Debug("removed idle sessions", zap.Int("count", n))
			}
		case <-ctx.Done():
			return
		}
	}
}

// Close cancels every in-flight transition and empties the registry.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id := range m.entries {
		m.removeEntry(id)
	}
}

func (m *Manager) isIdle(h *Holder) bool {
	return m.cfg.IdleTTL > 0 && m.now().Sub(h.LastSeen()) > m.cfg.IdleTTL
}

// removeEntry must be called with the lock held.
func (m *Manager) removeEntry(sessionID string) {
	if entry, ok := m.entries[sessionID]; ok {
		entry.holder.Close()
		m.lruList.Remove(entry.element)
		delete(m.entries, sessionID)
	}
}

// evictLRU must be called with the lock held.
func (m *Manager) evictLRU() {
	back := m.lruList.Back()
	if back == nil {
		return
	}
	m.removeEntry(back.Value.(string))
	m.evictions++
}
