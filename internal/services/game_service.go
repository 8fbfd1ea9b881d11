// internal/services/game_service.go
package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	apperrors "github.com/Corphon/SceneWeaver/internal/errors"
	"github.com/Corphon/SceneWeaver/internal/models"
	"github.com/Corphon/SceneWeaver/internal/storage"
	"github.com/Corphon/SceneWeaver/internal/utils"
)

// SessionOptions configures sessions
type SessionOptions struct {
	Navigator    NavigatorConfig
	SaveDebounce time.Duration
	TTL          time.Duration
	Scheduler    Scheduler
}

// GameSession 一次游戏流程: one store, navigator and autosaver
type GameSession struct {
	ID        string
	Store     *StateStore
	Navigator *Navigator
	Saves     *SaveService

	autosaver *AutoSaver
	logger    *utils.Logger

	mu       sync.Mutex
	lastSeen time.Time
	holds    int
	closed   bool
}

// NewGameSession wires a session over catalog, saving under key
func NewGameSession(id, key string, catalog *Catalog, kv storage.KeyValueStore, opts SessionOptions, logger *utils.Logger, metrics *utils.EngineMetrics) *GameSession {
	if logger == nil {
		logger = utils.GetLogger()
	}
	if metrics == nil {
		metrics = utils.NewEngineMetrics(nil, logger)
	}

	store := NewStateStore(catalog, logger, metrics)
	saves := NewSaveService(kv, key, logger, metrics)
	autosaver := NewAutoSaver(saves, opts.SaveDebounce, logger)
	autosaver.Watch(store)

	nav := NewNavigator(NavigatorDeps{
		Catalog:   catalog,
		Store:     store,
		Scheduler: opts.Scheduler,
		Logger:    logger,
		Metrics:   metrics,
	}, opts.Navigator)
	nav.OnReset(autosaver.Discard)

	return &GameSession{
		ID:        id,
		Store:     store,
		Navigator: nav,
		Saves:     saves,
		autosaver: autosaver,
		logger:    logger,
		lastSeen:  time.Now(),
	}
}

// Restore loads the saved state into the store; reports whether one existed
func (s *GameSession) Restore(ctx context.Context) bool {
	state, ok := s.Saves.Load(ctx)
	if !ok {
		return false
	}
	s.Store.Restore(state)
	return true
}

// Start enters the stored current scene
func (s *GameSession) Start() {
	s.Navigator.Begin(s.Store.CurrentScene())
}

// Touch marks the session as used
func (s *GameSession) Touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

// Hold keeps the session out of idle eviction until the returned release
// func is called, e.g. while a live connection is attached
func (s *GameSession) Hold() func() {
	s.mu.Lock()
	s.holds++
	s.lastSeen = time.Now()
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.holds--
			s.lastSeen = time.Now()
			s.mu.Unlock()
		})
	}
}

// idleSince reports whether the session is unheld and unused since cutoff
func (s *GameSession) idleSince(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.holds == 0 && s.lastSeen.Before(cutoff)
}

// LastSeen returns the last use time
func (s *GameSession) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// SetPlayerName is the name-entry operation
func (s *GameSession) SetPlayerName(name string) error {
	s.Touch()
	return s.Store.SetPlayerName(name)
}

// Advance forwards the manual advance intent
func (s *GameSession) Advance() bool {
	s.Touch()
	return s.Navigator.Advance()
}

// Choose forwards a choice selection
func (s *GameSession) Choose(index int) error {
	s.Touch()
	return s.Navigator.SelectChoice(index)
}

// Navigate forwards the override intent
func (s *GameSession) Navigate(sceneID string) {
	s.Touch()
	s.Navigator.Navigate(sceneID)
}

// Reset starts a new game and deletes the stored record
func (s *GameSession) Reset(ctx context.Context) error {
	s.Touch()
	s.Navigator.Reset()
	return s.Saves.Clear(ctx)
}

// Save writes the current state now
func (s *GameSession) Save(ctx context.Context) (*models.SaveRecord, error) {
	s.Touch()
	return s.Saves.Save(ctx, s.Store.Snapshot())
}

// View returns the navigator view
func (s *GameSession) View() models.SceneView {
	return s.Navigator.View()
}

// Snapshot returns the player state
func (s *GameSession) Snapshot() *models.PlayerState {
	return s.Store.Snapshot()
}

// Close stops timers, flushes pending saves and stops the autosaver
func (s *GameSession) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.Navigator.Close()
	err := s.autosaver.Flush(ctx)
	s.autosaver.Close()
	return err
}

// SessionManager 会话管理器 keyed by session id
type SessionManager struct {
	catalog *Catalog
	kv      storage.KeyValueStore
	opts    SessionOptions
	logger  *utils.Logger
	metrics *utils.EngineMetrics

	mu       sync.RWMutex
	sessions map[string]*GameSession
	group    singleflight.Group
	now      func() time.Time

	stopJanitor chan struct{}
	janitorDone chan struct{}
	closeOnce   sync.Once
}

// NewSessionManager creates a manager
func NewSessionManager(catalog *Catalog, kv storage.KeyValueStore, opts SessionOptions, logger *utils.Logger, metrics *utils.EngineMetrics) *SessionManager {
	if logger == nil {
		logger = utils.GetLogger()
	}
	if metrics == nil {
		metrics = utils.NewEngineMetrics(nil, logger)
	}
	return &SessionManager{
		catalog:  catalog,
		kv:       kv,
		opts:     opts,
		logger:   logger,
		metrics:  metrics,
		sessions: make(map[string]*GameSession),
		now:      time.Now,
	}
}

// Catalog returns the shared catalog
func (m *SessionManager) Catalog() *Catalog {
	return m.catalog
}

// Pacing returns the navigator delays used for new sessions
func (m *SessionManager) Pacing() NavigatorConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.opts.Navigator
}

// SetPacing changes the delays of sessions created or restored from now on;
// live sessions keep theirs
func (m *SessionManager) SetPacing(cfg NavigatorConfig) {
	m.mu.Lock()
	m.opts.Navigator = cfg
	m.mu.Unlock()
	m.logger.Info("Pacing updated", map[string]interface{}{
		"auto_advance_delay": cfg.AutoAdvanceDelay.String(),
		"reveal_delay":       cfg.RevealDelay.String(),
	})
}

// Metrics returns the shared engine metrics
func (m *SessionManager) Metrics() *utils.EngineMetrics {
	return m.metrics
}

// newSession builds the session for id and restores its save. With
// requireSave an id without a save yields nil and nothing is written.
func (m *SessionManager) newSession(ctx context.Context, id string, requireSave bool) (*GameSession, bool) {
	m.mu.RLock()
	opts := m.opts
	m.mu.RUnlock()

	session := NewGameSession(id, SessionSaveKey(id), m.catalog, m.kv, opts, m.logger, m.metrics)
	restored := session.Restore(ctx)
	if !restored && requireSave {
		session.autosaver.Discard()
		_ = session.Close(ctx)
		return nil, false
	}
	session.Start()
	return session, restored
}

// Create starts a new session with a fresh id
func (m *SessionManager) Create(ctx context.Context) (*GameSession, error) {
	id := uuid.NewString()
	session, _ := m.newSession(ctx, id, false)

	m.mu.Lock()
	m.sessions[id] = session
	count := len(m.sessions)
	m.mu.Unlock()

	m.metrics.Collector().SetGauge("sessions_active", int64(count))
	m.logger.Info("Session created", map[string]interface{}{"session_id": id})
	return session, nil
}

// Get returns a live session or restores it from its save. Concurrent
// restores of the same id share one load.
func (m *SessionManager) Get(ctx context.Context, id string) (*GameSession, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperrors.NewValidationError(fmt.Sprintf("invalid session id %q", id), err)
	}

	m.mu.RLock()
	session, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		session.Touch()
		return session, nil
	}

	v, err, _ := m.group.Do(id, func() (interface{}, error) {
		m.mu.RLock()
		existing, ok := m.sessions[id]
		m.mu.RUnlock()
		if ok {
			return existing, nil
		}

		session, restored := m.newSession(ctx, id, true)
		if !restored {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("session %s not found", id), nil)
		}

		m.mu.Lock()
		m.sessions[id] = session
		count := len(m.sessions)
		m.mu.Unlock()
		m.metrics.Collector().SetGauge("sessions_active", int64(count))
		m.logger.Info("Session restored", map[string]interface{}{"session_id": id})
		return session, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*GameSession), nil
}

// IDs lists live session ids, sorted
func (m *SessionManager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// EvictIdle closes sessions unused for longer than the TTL; their state is
// flushed first. Returns how many were evicted.
func (m *SessionManager) EvictIdle(ctx context.Context) int {
	if m.opts.TTL <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.opts.TTL)

	m.mu.Lock()
	var idle []*GameSession
	for id, session := range m.sessions {
		if session.idleSince(cutoff) {
			idle = append(idle, session)
			delete(m.sessions, id)
		}
	}
	count := len(m.sessions)
	m.mu.Unlock()

	for _, session := range idle {
		if err := session.Close(ctx); err != nil {
			m.logger.Warn("Flush on eviction failed", map[string]interface{}{
				"session_id": session.ID,
				"error":      err,
			})
		}
	}
	if len(idle) > 0 {
		m.metrics.Collector().SetGauge("sessions_active", int64(count))
		m.logger.Info("Idle sessions evicted", map[string]interface{}{"count": len(idle)})
	}
	return len(idle)
}

// StartJanitor evicts idle sessions every interval until Close
func (m *SessionManager) StartJanitor(interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	m.mu.Lock()
	if m.stopJanitor != nil {
		m.mu.Unlock()
		return
	}
	m.stopJanitor = make(chan struct{})
	m.janitorDone = make(chan struct{})
	stop, done := m.stopJanitor, m.janitorDone
	m.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				m.EvictIdle(context.Background())
			}
		}
	}()
}

// Close stops the janitor and closes every session
func (m *SessionManager) Close(ctx context.Context) error {
	var firstErr error
	m.closeOnce.Do(func() {
		m.mu.Lock()
		stop, done := m.stopJanitor, m.janitorDone
		sessions := m.sessions
		m.sessions = make(map[string]*GameSession)
		m.mu.Unlock()

		if stop != nil {
			close(stop)
			<-done
		}
		for _, session := range sessions {
			if err := session.Close(ctx); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	})
	return firstErr
}
