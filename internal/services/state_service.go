// internal/services/state_service.go
package services

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	apperrors "github.com/Corphon/SceneWeaver/internal/errors"
	"github.com/Corphon/SceneWeaver/internal/models"
	"github.com/Corphon/SceneWeaver/internal/utils"
)

// ErrUnknownFaction is returned for influence changes on undeclared factions
var ErrUnknownFaction = errors.New("unknown faction")

// StateChange is delivered to subscribers after every mutation.
// Revision increases strictly; State is a private deep copy.
type StateChange struct {
	Revision uint64
	State    *models.PlayerState
}

// ApplyResult summarises one consequence batch
type ApplyResult struct {
	Applied   int
	Dropped   []models.Directive
	NewGlyphs []string
}

// StateStore 玩家状态存储. Sole owner and mutator of one PlayerState;
// every operation and every batch runs under a single lock.
type StateStore struct {
	mu       sync.Mutex
	catalog  *Catalog
	state    *models.PlayerState
	revision uint64

	subMu       sync.Mutex
	subscribers map[int]func(StateChange)
	nextSubID   int

	logger  *utils.Logger
	metrics *utils.EngineMetrics
}

// NewStateStore creates a store holding the default state for catalog
func NewStateStore(catalog *Catalog, logger *utils.Logger, metrics *utils.EngineMetrics) *StateStore {
	if logger == nil {
		logger = utils.GetLogger()
	}
	if metrics == nil {
		metrics = utils.NewEngineMetrics(nil, logger)
	}
	return &StateStore{
		catalog:     catalog,
		state:       models.NewPlayerState(catalog.Start(), catalog.Factions()),
		subscribers: make(map[int]func(StateChange)),
		logger:      logger,
		metrics:     metrics,
	}
}

// Subscribe registers fn for change notifications and returns its cancel func
func (s *StateStore) Subscribe(fn func(StateChange)) func() {
	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subscribers, id)
		s.subMu.Unlock()
	}
}

// mutate runs fn under the lock and notifies subscribers afterwards when fn
// reports a change
func (s *StateStore) mutate(fn func(state *models.PlayerState) bool) {
	s.mu.Lock()
	changed := fn(s.state)
	var change StateChange
	if changed {
		s.revision++
		change = StateChange{Revision: s.revision, State: s.state.Clone()}
	}
	s.mu.Unlock()

	if changed {
		s.notify(change)
	}
}

func (s *StateStore) notify(change StateChange) {
	s.subMu.Lock()
	subs := make([]func(StateChange), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	s.subMu.Unlock()

	for _, fn := range subs {
		fn(change)
	}
}

// Snapshot returns a deep copy of the current state
func (s *StateStore) Snapshot() *models.PlayerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// CurrentScene returns the stored scene pointer
func (s *StateStore) CurrentScene() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.CurrentScene
}

// SetPlayerName stores a trimmed, non-empty name; overwriting is allowed
func (s *StateStore) SetPlayerName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return apperrors.NewValidationError("player name must not be empty", nil)
	}
	s.mutate(func(state *models.PlayerState) bool {
		if state.PlayerName == trimmed {
			return false
		}
		state.PlayerName = trimmed
		return true
	})
	return nil
}

// LearnLanguage grants code once and returns the glyphs unlocked by this grant
func (s *StateStore) LearnLanguage(code string) []string {
	var unlocked []string
	s.mutate(func(state *models.PlayerState) bool {
		var learned bool
		learned, unlocked = s.learnLanguageLocked(state, code)
		return learned
	})
	return unlocked
}

func (s *StateStore) learnLanguageLocked(state *models.PlayerState, code string) (bool, []string) {
	if code == "" || state.KnowsLanguage(code) {
		return false, nil
	}
	state.KnownLanguages = append(state.KnownLanguages, code)

	var unlocked []string
	for _, glyph := range s.catalog.GlyphsForLanguage(code) {
		if !state.HasGlyph(glyph) {
			state.UnlockedGlyphs = append(state.UnlockedGlyphs, glyph)
			unlocked = append(unlocked, glyph)
		}
	}
	return true, unlocked
}

// UpdateFactionInfluence applies delta, clamped to [0,100], and returns the new value
func (s *StateStore) UpdateFactionInfluence(id string, delta int) (int, error) {
	var (
		value int
		err   error
	)
	s.mutate(func(state *models.PlayerState) bool {
		var changed bool
		value, changed, err = s.updateFactionLocked(state, id, delta)
		return changed
	})
	return value, err
}

func (s *StateStore) updateFactionLocked(state *models.PlayerState, id string, delta int) (int, bool, error) {
	old, ok := state.FactionInfluence[id]
	if !ok {
		if !s.catalog.HasFaction(id) {
			return 0, false, fmt.Errorf("%w: %s", ErrUnknownFaction, id)
		}
		// declared but missing from an older restored record
		old = 0
	}
	value := models.ClampInfluence(old + delta)
	state.FactionInfluence[id] = value
	return value, value != old || !ok, nil
}

// RecordConsequence appends text to category; duplicates are kept
func (s *StateStore) RecordConsequence(category, text string) {
	s.mutate(func(state *models.PlayerState) bool {
		state.Consequences[category] = append(state.Consequences[category], text)
		return true
	})
}

// ApplyConsequences applies directives in order under one lock. Later
// directives observe the effects of earlier ones. Malformed directives and
// unknown factions are logged and dropped; they never abort the batch.
func (s *StateStore) ApplyConsequences(directives []models.Directive) ApplyResult {
	var result ApplyResult
	if len(directives) == 0 {
		return result
	}

	s.mutate(func(state *models.PlayerState) bool {
		changed := false
		for _, d := range directives {
			switch d.Kind {
			case models.DirectiveLearnLanguage:
				learned, glyphs := s.learnLanguageLocked(state, d.Language)
				changed = changed || learned
				result.NewGlyphs = append(result.NewGlyphs, glyphs...)
			case models.DirectiveAdjustFaction:
				_, moved, err := s.updateFactionLocked(state, d.Faction, d.Delta)
				if err != nil {
					s.drop(&result, d, err.Error())
					continue
				}
				changed = changed || moved
			case models.DirectiveGeneric:
				state.Consequences[models.GeneralCategory] = append(state.Consequences[models.GeneralCategory], d.Raw)
				changed = true
			default:
				s.drop(&result, d, d.Reason)
				continue
			}
			result.Applied++
		}
		return changed
	})
	return result
}

func (s *StateStore) drop(result *ApplyResult, d models.Directive, reason string) {
	result.Dropped = append(result.Dropped, d)
	s.metrics.RecordDroppedDirective()
	s.logger.Warn("Directive dropped", map[string]interface{}{
		"directive": d.Raw,
		"reason":    reason,
	})
}

// ApplyRawConsequences parses then applies directive strings
func (s *StateStore) ApplyRawConsequences(raws []string) ApplyResult {
	return s.ApplyConsequences(ParseDirectives(raws))
}

// NavigateToScene moves the scene pointer; the id is not checked
func (s *StateStore) NavigateToScene(id string) {
	s.mutate(func(state *models.PlayerState) bool {
		if state.CurrentScene == id {
			return false
		}
		state.CurrentScene = id
		return true
	})
}

// UnlockMemory records a memory fragment; reports whether it was new
func (s *StateStore) UnlockMemory(id string) bool {
	if id == "" {
		return false
	}
	var added bool
	s.mutate(func(state *models.PlayerState) bool {
		if state.HasMemory(id) {
			return false
		}
		state.Memories = append(state.Memories, id)
		added = true
		return true
	})
	return added
}

// Restore replaces the whole state with a normalised copy of restored
func (s *StateStore) Restore(restored *models.PlayerState) {
	if restored == nil {
		return
	}
	next := restored.Clone()
	next.Normalize()
	for _, f := range s.catalog.Factions() {
		if _, ok := next.FactionInfluence[f.ID]; !ok {
			next.FactionInfluence[f.ID] = f.Initial
		}
	}
	s.mutate(func(state *models.PlayerState) bool {
		*state = *next
		return true
	})
}

// Reset restores the documented defaults
func (s *StateStore) Reset() {
	fresh := models.NewPlayerState(s.catalog.Start(), s.catalog.Factions())
	s.mutate(func(state *models.PlayerState) bool {
		*state = *fresh
		return true
	})
}
