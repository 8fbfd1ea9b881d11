// internal/services/save_service.go
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/Corphon/SceneWeaver/internal/errors"
	"github.com/Corphon/SceneWeaver/internal/models"
	"github.com/Corphon/SceneWeaver/internal/storage"
	"github.com/Corphon/SceneWeaver/internal/utils"
)

const (
	// CurrentSaveVersion is the schema version written by Save
	CurrentSaveVersion = 2
	// DefaultSaveKey is the single-player save slot
	DefaultSaveKey = "player_state"
)

// SessionSaveKey is the save slot of a server session
func SessionSaveKey(sessionID string) string {
	return DefaultSaveKey + ":" + sessionID
}

// Migration upgrades a decoded state object by exactly one version
type Migration func(state map[string]interface{}) error

// defaultMigrations is keyed by the version migrated from
var defaultMigrations = map[int]Migration{
	1: func(state map[string]interface{}) error {
		if _, ok := state["memories"]; !ok {
			state["memories"] = []interface{}{}
		}
		return nil
	},
}

// SaveService 存档服务: versioned SaveRecord round-trip over a KeyValueStore.
// Failures never escape as panics; Load degrades to "no save".
type SaveService struct {
	kv         storage.KeyValueStore
	key        string
	migrations map[int]Migration
	now        func() time.Time
	logger     *utils.Logger
	metrics    *utils.EngineMetrics
}

// NewSaveService creates a save service for one slot
func NewSaveService(kv storage.KeyValueStore, key string, logger *utils.Logger, metrics *utils.EngineMetrics) *SaveService {
	if key == "" {
		key = DefaultSaveKey
	}
	if logger == nil {
		logger = utils.GetLogger()
	}
	if metrics == nil {
		metrics = utils.NewEngineMetrics(nil, logger)
	}
	return &SaveService{
		kv:         kv,
		key:        key,
		migrations: defaultMigrations,
		now:        time.Now,
		logger:     logger,
		metrics:    metrics,
	}
}

// Key returns the save slot
func (s *SaveService) Key() string {
	return s.key
}

// Save writes {version, timestamp, state}
func (s *SaveService) Save(ctx context.Context, state *models.PlayerState) (*models.SaveRecord, error) {
	start := time.Now()
	record := &models.SaveRecord{
		Version:   CurrentSaveVersion,
		Timestamp: s.now().UnixMilli(),
		State:     state.Clone(),
	}

	err := s.write(ctx, record)
	s.metrics.RecordSave(time.Since(start), err)
	if err != nil {
		s.logger.Error("Save failed", map[string]interface{}{
			"key":   s.key,
			"error": err,
		})
		return nil, apperrors.NewPersistenceError("save failed", err)
	}
	return record, nil
}

func (s *SaveService) write(ctx context.Context, record *models.SaveRecord) error {
	if record.State == nil {
		return errors.New("nil state")
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode save record: %w", err)
	}
	return s.kv.Put(ctx, s.key, data)
}

// Load returns the saved state. Absent, unreadable, corrupt or newer-version
// records all yield false.
func (s *SaveService) Load(ctx context.Context) (*models.PlayerState, bool) {
	data, err := s.kv.Get(ctx, s.key)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			s.logger.Debug("No save data", map[string]interface{}{"key": s.key})
		} else {
			s.logger.Warn("Save data unreadable", map[string]interface{}{"key": s.key, "error": err})
		}
		return nil, false
	}

	state, err := s.decode(data)
	if err != nil {
		s.logger.Warn("Save data ignored", map[string]interface{}{"key": s.key, "error": err})
		return nil, false
	}
	return state, true
}

func (s *SaveService) decode(data []byte) (*models.PlayerState, error) {
	var envelope struct {
		Version   int             `json:"version"`
		Timestamp int64           `json:"timestamp"`
		State     json.RawMessage `json:"state"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("corrupt save record: %w", err)
	}
	switch {
	case envelope.Version < 1:
		return nil, fmt.Errorf("save record has no version")
	case envelope.Version > CurrentSaveVersion:
		return nil, fmt.Errorf("save version %d is newer than %d", envelope.Version, CurrentSaveVersion)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(envelope.State, &raw); err != nil || raw == nil {
		return nil, fmt.Errorf("corrupt save state: %v", err)
	}
	for v := envelope.Version; v < CurrentSaveVersion; v++ {
		if migrate, ok := s.migrations[v]; ok {
			if err := migrate(raw); err != nil {
				return nil, fmt.Errorf("migrate save from v%d: %w", v, err)
			}
		}
	}

	migrated, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("re-encode save state: %w", err)
	}
	state := &models.PlayerState{}
	if err := json.Unmarshal(migrated, state); err != nil {
		return nil, fmt.Errorf("corrupt save state: %w", err)
	}
	state.Normalize()
	return state, nil
}

// Clear deletes the record
func (s *SaveService) Clear(ctx context.Context) error {
	if err := s.kv.Delete(ctx, s.key); err != nil {
		s.logger.Warn("Clear save failed", map[string]interface{}{"key": s.key, "error": err})
		return apperrors.NewPersistenceError("clear save failed", err)
	}
	return nil
}

// AutoSaver 自动存档. Store changes are coalesced to the latest snapshot and
// written on one goroutine at most once per debounce window.
type AutoSaver struct {
	saves    *SaveService
	debounce time.Duration
	logger   *utils.Logger

	mu             sync.Mutex
	latest         *models.PlayerState
	latestRev      uint64
	writtenRev     uint64
	epoch          uint64
	inflightCancel context.CancelFunc
	unsubscribe    func()

	writeMu sync.Mutex
	notify  chan struct{}

	root      context.Context
	stop      context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// NewAutoSaver starts the writer goroutine; call Close to stop it
func NewAutoSaver(saves *SaveService, debounce time.Duration, logger *utils.Logger) *AutoSaver {
	if logger == nil {
		logger = utils.GetLogger()
	}
	root, stop := context.WithCancel(context.Background())
	a := &AutoSaver{
		saves:    saves,
		debounce: debounce,
		logger:   logger,
		notify:   make(chan struct{}, 1),
		root:     root,
		stop:     stop,
		done:     make(chan struct{}),
	}
	go a.run()
	return a
}

// Watch subscribes to store changes
func (a *AutoSaver) Watch(store *StateStore) {
	unsubscribe := store.Subscribe(a.Notify)
	a.mu.Lock()
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
	a.unsubscribe = unsubscribe
	a.mu.Unlock()
}

// Notify records a change; older revisions are ignored
func (a *AutoSaver) Notify(change StateChange) {
	a.mu.Lock()
	if change.Revision <= a.latestRev {
		a.mu.Unlock()
		return
	}
	a.latest = change.State
	a.latestRev = change.Revision
	a.mu.Unlock()

	select {
	case a.notify <- struct{}{}:
	default:
	}
}

// Discard drops the pending snapshot and cancels the in-flight write.
// A write that still lands afterwards is reverted.
func (a *AutoSaver) Discard() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.epoch++
	a.latest = nil
	if a.inflightCancel != nil {
		a.inflightCancel()
	}
}

// Flush writes the pending snapshot now
func (a *AutoSaver) Flush(ctx context.Context) error {
	return a.writeLatest(ctx)
}

// Close stops the writer goroutine without flushing
func (a *AutoSaver) Close() {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		if a.unsubscribe != nil {
			a.unsubscribe()
			a.unsubscribe = nil
		}
		a.mu.Unlock()
		a.stop()
		<-a.done
	})
}

func (a *AutoSaver) run() {
	defer close(a.done)
	for {
		select {
		case <-a.root.Done():
			return
		case <-a.notify:
		}

		if a.debounce > 0 {
			timer := time.NewTimer(a.debounce)
			select {
			case <-a.root.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}

		if err := a.writeLatest(a.root); err != nil && a.root.Err() == nil {
			a.logger.Warn("Autosave failed", map[string]interface{}{"error": err})
		}
	}
}

func (a *AutoSaver) writeLatest(parent context.Context) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	a.mu.Lock()
	if a.latest == nil || a.latestRev == a.writtenRev {
		a.mu.Unlock()
		return nil
	}
	state, rev, epoch := a.latest, a.latestRev, a.epoch
	ctx, cancel := context.WithCancel(parent)
	a.inflightCancel = cancel
	a.mu.Unlock()

	_, err := a.saves.Save(ctx, state)
	cancel()

	a.mu.Lock()
	a.inflightCancel = nil
	stale := epoch != a.epoch
	if !stale && err == nil {
		a.writtenRev = rev
	}
	revert := stale && err == nil && a.latest == nil
	a.mu.Unlock()

	if stale {
		a.logger.Debug("Autosave result discarded", map[string]interface{}{"revision": rev})
		if revert {
			return a.saves.Clear(parent)
		}
		return nil
	}
	return err
}
