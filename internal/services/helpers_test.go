package services

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Corphon/SceneWeaver/internal/content"
	"github.com/Corphon/SceneWeaver/internal/models"
	"github.com/Corphon/SceneWeaver/internal/utils"
)

// fakeScheduler queues callbacks until the test fires them
type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	wasActive := !t.stopped
	t.stopped = true
	return wasActive
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{delay: d, fn: f}
	s.timers = append(s.timers, t)
	return t
}

// pending returns timers that have not been stopped
func (s *fakeScheduler) pending() []*fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*fakeTimer
	for _, t := range s.timers {
		if !t.stopped {
			out = append(out, t)
		}
	}
	return out
}

// last returns the most recently scheduled timer, stopped or not
func (s *fakeScheduler) last() *fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.timers) == 0 {
		return nil
	}
	return s.timers[len(s.timers)-1]
}

// fireAll runs every pending timer once
func (s *fakeScheduler) fireAll() {
	for _, t := range s.pending() {
		t.stopped = true
		t.fn()
	}
}

func testLogger() *utils.Logger {
	return utils.NewLogger(zap.NewNop())
}

func testMetrics() *utils.EngineMetrics {
	return utils.NewEngineMetrics(utils.NewMetricsCollector(), testLogger())
}

func testDefinition() *content.Definition {
	return &content.Definition{
		Source: "test",
		Start:  "a",
		Factions: []models.FactionDef{
			{ID: "clans", Initial: 0},
			{ID: "archive", Initial: 95},
		},
		Glyphs: []models.GlyphDef{
			{ID: "sun", Languages: []string{"latin"}},
			{ID: "river", Languages: []string{"latin", "greek"}},
			{ID: "owl", Languages: []string{"greek"}},
		},
		Scenes: []content.SceneDef{
			{ID: "a", Text: "Dawn.", Entry: "prologue", AutoAdvance: "b"},
			{ID: "b", Speaker: "Guide", Text: "Hello {playerName}. *Choose* ((carefully)).", Entry: "hub", Choices: []content.ChoiceDef{
				{
					ID: "greet", Text: "Speak Greek",
					Requires: []content.RequirementDef{{Kind: "language", Value: "greek"}},
					Unlocks:  []string{"c"},
				},
				{
					ID: "go", Text: "Go on",
					Consequences: []string{"learned_latin", "faction_clans_5", "visited_ruins"},
					Unlocks:      []string{"c"},
				},
				{ID: "stay", Text: "Stay", Consequences: []string{"lingered"}},
			}},
			{ID: "c", Text: "The [[glyph:sun]] burns.", Memory: "saw_sun", Choices: []content.ChoiceDef{
				{ID: "back", Text: "Back", Unlocks: []string{"a"}},
			}},
			{ID: "d", Text: "The end."},
		},
	}
}

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	catalog, err := LoadCatalog(testDefinition(), CatalogOptions{Strict: true, Logger: testLogger()})
	require.NoError(t, err)
	return catalog
}

type navigatorFixture struct {
	catalog   *Catalog
	store     *StateStore
	nav       *Navigator
	scheduler *fakeScheduler
	metrics   *utils.EngineMetrics
}

func newNavigatorFixture(t *testing.T) *navigatorFixture {
	t.Helper()
	return newNavigatorFixtureFor(t, testCatalog(t))
}

func newNavigatorFixtureFor(t *testing.T, catalog *Catalog) *navigatorFixture {
	t.Helper()
	metrics := testMetrics()
	store := NewStateStore(catalog, testLogger(), metrics)
	scheduler := &fakeScheduler{}
	nav := NewNavigator(NavigatorDeps{
		Catalog:   catalog,
		Store:     store,
		Scheduler: scheduler,
		Logger:    testLogger(),
		Metrics:   metrics,
	}, DefaultNavigatorConfig())
	return &navigatorFixture{catalog: catalog, store: store, nav: nav, scheduler: scheduler, metrics: metrics}
}
