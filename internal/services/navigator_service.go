// internal/services/navigator_service.go
package services

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Corphon/SceneWeaver/internal/models"
	"github.com/Corphon/SceneWeaver/internal/utils"
)

// ErrChoiceUnavailable rejects a selection; the navigator state is unchanged
var ErrChoiceUnavailable = errors.New("choice unavailable")

// Timer is a scheduled callback that can be cancelled
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type systemScheduler struct{}

func (systemScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// SystemScheduler is the wall-clock scheduler
func SystemScheduler() Scheduler {
	return systemScheduler{}
}

// NavigatorConfig holds pacing delays
type NavigatorConfig struct {
	AutoAdvanceDelay time.Duration
	RevealDelay      time.Duration
}

// DefaultNavigatorConfig returns the default pacing
func DefaultNavigatorConfig() NavigatorConfig {
	return NavigatorConfig{
		AutoAdvanceDelay: 3 * time.Second,
		RevealDelay:      1500 * time.Millisecond,
	}
}

// timerTag identifies the visit a timer was scheduled for
type timerTag struct {
	epoch   uint64
	visit   uint64
	sceneID string
}

// Navigator 场景导航状态机. Every intent and every timer firing runs under
// one mutex; observers are called after it is released.
type Navigator struct {
	mu        sync.Mutex
	catalog   *Catalog
	store     *StateStore
	evaluator *ChoiceEvaluator
	text      *TextProcessor
	scheduler Scheduler
	cfg       NavigatorConfig

	state  models.NavigatorState
	epoch  uint64
	visit  uint64
	timers []Timer
	closed bool

	obsMu      sync.Mutex
	observers  map[int]func(models.SceneView)
	nextObs    int
	resetHooks []func()

	logger  *utils.Logger
	metrics *utils.EngineMetrics
}

// NavigatorDeps are the collaborators of a navigator
type NavigatorDeps struct {
	Catalog   *Catalog
	Store     *StateStore
	Evaluator *ChoiceEvaluator
	Text      *TextProcessor
	Scheduler Scheduler
	Logger    *utils.Logger
	Metrics   *utils.EngineMetrics
}

// NewNavigator creates a navigator. Call Begin to enter the first node.
func NewNavigator(deps NavigatorDeps, cfg NavigatorConfig) *Navigator {
	if deps.Evaluator == nil {
		deps.Evaluator = NewChoiceEvaluator()
	}
	if deps.Text == nil {
		deps.Text = NewTextProcessor(deps.Catalog)
	}
	if deps.Scheduler == nil {
		deps.Scheduler = SystemScheduler()
	}
	if deps.Logger == nil {
		deps.Logger = utils.GetLogger()
	}
	if deps.Metrics == nil {
		deps.Metrics = utils.NewEngineMetrics(nil, deps.Logger)
	}
	return &Navigator{
		catalog:   deps.Catalog,
		store:     deps.Store,
		evaluator: deps.Evaluator,
		text:      deps.Text,
		scheduler: deps.Scheduler,
		cfg:       cfg,
		state:     models.NavigatorState{Kind: models.StateAtNode, SceneID: deps.Catalog.Start()},
		observers: make(map[int]func(models.SceneView)),
		logger:    deps.Logger,
		metrics:   deps.Metrics,
	}
}

// OnChange registers an observer for view changes and returns its cancel func
func (n *Navigator) OnChange(fn func(models.SceneView)) func() {
	n.obsMu.Lock()
	id := n.nextObs
	n.nextObs++
	n.observers[id] = fn
	n.obsMu.Unlock()

	return func() {
		n.obsMu.Lock()
		delete(n.observers, id)
		n.obsMu.Unlock()
	}
}

// OnReset registers a hook run at the start of every Reset, before the store
// is reset
func (n *Navigator) OnReset(fn func()) {
	n.obsMu.Lock()
	n.resetHooks = append(n.resetHooks, fn)
	n.obsMu.Unlock()
}

// State returns the current state
func (n *Navigator) State() models.NavigatorState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Begin enters sceneID, or the start scene when it is empty
func (n *Navigator) Begin(sceneID string) {
	if sceneID == "" {
		sceneID = n.catalog.Start()
	}
	n.mu.Lock()
	n.enterLocked(sceneID)
	n.mu.Unlock()
	n.publish()
}

// Advance is the manual advance intent. It skips a pending auto-advance or
// reveals pending choices; anything else is a no-op. Reports whether it acted.
func (n *Navigator) Advance() bool {
	n.mu.Lock()
	acted := false
	if n.state.Kind == models.StateAtNode && !n.closed {
		node, err := n.catalog.Lookup(n.state.SceneID)
		if err == nil {
			switch {
			case node.IsPassThrough():
				n.enterLocked(node.AutoAdvance)
				acted = true
			case node.IsChoicePoint():
				n.revealLocked()
				acted = true
			}
		}
	}
	n.mu.Unlock()

	n.metrics.RecordIntent("advance", acted)
	if acted {
		n.publish()
	}
	return acted
}

// SelectChoice resolves choice k of the current node. It is accepted only
// while awaiting a choice and only for an available choice; a rejection
// leaves every piece of state untouched.
func (n *Navigator) SelectChoice(k int) error {
	n.mu.Lock()
	err := n.selectLocked(k)
	n.mu.Unlock()

	n.metrics.RecordIntent("choose", err == nil)
	if err != nil {
		n.logger.Debug("Choice rejected", map[string]interface{}{
			"index": k,
			"error": err,
		})
		return err
	}
	n.publish()
	return nil
}

func (n *Navigator) selectLocked(k int) error {
	if n.closed || n.state.Kind != models.StateAwaitingChoice {
		return fmt.Errorf("%w: not awaiting a choice (state %s)", ErrChoiceUnavailable, n.state.Kind)
	}
	node, err := n.catalog.Lookup(n.state.SceneID)
	if err != nil {
		return err
	}
	if k < 0 || k >= len(node.Choices) {
		return fmt.Errorf("%w: index %d out of range", ErrChoiceUnavailable, k)
	}
	choice := &node.Choices[k]
	if !n.evaluator.IsAvailable(choice, n.store.Snapshot()) {
		return fmt.Errorf("%w: %s requirements not met", ErrChoiceUnavailable, choice.ID)
	}

	n.state = models.NavigatorState{Kind: models.StateTransitioning, SceneID: node.ID}
	target, _ := n.evaluator.Resolve(choice, n.store)
	n.enterLocked(target)
	return nil
}

// Navigate is the external override: valid in any state
func (n *Navigator) Navigate(sceneID string) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.enterLocked(sceneID)
	n.mu.Unlock()

	n.metrics.RecordIntent("navigate", true)
	n.publish()
}

// Reset starts a new playthrough: timers are cancelled, the epoch is bumped
// so no late firing can apply, the store returns to defaults and the start
// scene is entered.
func (n *Navigator) Reset() {
	n.obsMu.Lock()
	hooks := append([]func(){}, n.resetHooks...)
	n.obsMu.Unlock()

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.stopTimersLocked()
	n.epoch++
	for _, hook := range hooks {
		hook()
	}
	n.store.Reset()
	n.enterLocked(n.catalog.Start())
	n.mu.Unlock()

	n.metrics.RecordIntent("reset", true)
	n.logger.Info("Playthrough reset", map[string]interface{}{"epoch": n.Epoch()})
	n.publish()
}

// Epoch returns the playthrough counter
func (n *Navigator) Epoch() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.epoch
}

// Close stops all timers; later intents and firings are ignored
func (n *Navigator) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stopTimersLocked()
	n.closed = true
}

func (n *Navigator) enterLocked(sceneID string) {
	n.stopTimersLocked()
	n.visit++

	node, err := n.catalog.Lookup(sceneID)
	if err != nil {
		n.state = models.NavigatorState{Kind: models.StateNotFound, RequestedID: sceneID}
		n.metrics.RecordTransition(sceneID, false)
		return
	}

	n.state = models.NavigatorState{Kind: models.StateAtNode, SceneID: node.ID}
	n.store.NavigateToScene(node.ID)
	n.store.UnlockMemory(node.Memory)
	n.metrics.RecordTransition(node.ID, true)

	tag := timerTag{epoch: n.epoch, visit: n.visit, sceneID: node.ID}
	switch {
	case node.IsPassThrough():
		target := node.AutoAdvance
		n.scheduleLocked(n.cfg.AutoAdvanceDelay, tag, func() { n.enterLocked(target) })
	case node.IsChoicePoint():
		if n.cfg.RevealDelay <= 0 {
			n.revealLocked()
			return
		}
		n.scheduleLocked(n.cfg.RevealDelay, tag, n.revealLocked)
	}
}

func (n *Navigator) revealLocked() {
	n.stopTimersLocked()
	n.state = models.NavigatorState{Kind: models.StateAwaitingChoice, SceneID: n.state.SceneID}
}

func (n *Navigator) scheduleLocked(d time.Duration, tag timerTag, action func()) {
	timer := n.scheduler.AfterFunc(d, func() { n.fire(tag, action) })
	n.timers = append(n.timers, timer)
}

func (n *Navigator) fire(tag timerTag, action func()) {
	n.mu.Lock()
	current := !n.closed &&
		tag.epoch == n.epoch &&
		tag.visit == n.visit &&
		tag.sceneID == n.state.SceneID &&
		n.state.Kind == models.StateAtNode
	if !current {
		n.mu.Unlock()
		n.metrics.RecordStaleTimer()
		n.logger.Debug("Stale timer discarded", map[string]interface{}{
			"scene_id": tag.sceneID,
			"visit":    tag.visit,
		})
		return
	}
	action()
	n.mu.Unlock()
	n.publish()
}

func (n *Navigator) stopTimersLocked() {
	for _, t := range n.timers {
		t.Stop()
	}
	n.timers = n.timers[:0]
}

// View builds the presentation view of the current state
func (n *Navigator) View() models.SceneView {
	n.mu.Lock()
	state := n.state
	n.mu.Unlock()
	return n.viewOf(state)
}

func (n *Navigator) viewOf(state models.NavigatorState) models.SceneView {
	view := models.SceneView{State: state, SceneID: state.SceneID}
	if state.Kind == models.StateNotFound {
		return view
	}
	node, err := n.catalog.Lookup(state.SceneID)
	if err != nil {
		return view
	}

	snapshot := n.store.Snapshot()
	view.Speaker = n.text.Resolve(node.Speaker, snapshot)
	view.Segments = n.text.Segments(node.Text, snapshot)
	view.Text = n.text.Plain(view.Segments)
	view.Background = node.Background
	view.Input = node.Input
	view.AutoAdvance = node.IsPassThrough()
	if state.Kind == models.StateAwaitingChoice {
		view.ChoicesRevealed = true
		view.Choices = n.evaluator.Annotate(node, snapshot)
	}
	return view
}

func (n *Navigator) publish() {
	n.obsMu.Lock()
	observers := make([]func(models.SceneView), 0, len(n.observers))
	for _, fn := range n.observers {
		observers = append(observers, fn)
	}
	n.obsMu.Unlock()
	if len(observers) == 0 {
		return
	}

	view := n.View()
	for _, fn := range observers {
		fn(view)
	}
}
