// internal/models/player.go
package models

// Influence bounds
const (
	MinInfluence = 0
	MaxInfluence = 100
)

// PlayerState is the single mutable aggregate of a playthrough.
// Only the state store mutates it; everyone else reads snapshots.
type PlayerState struct {
	PlayerName       string              `json:"playerName"`
	CurrentScene     string              `json:"currentScene"`
	KnownLanguages   []string            `json:"knownLanguages"`
	UnlockedGlyphs   []string            `json:"unlockedGlyphs"`
	FactionInfluence map[string]int      `json:"factionInfluence"`
	Consequences     map[string][]string `json:"consequenceMap"`
	Memories         []string            `json:"memories"`
}

// NewPlayerState returns the documented defaults
func NewPlayerState(startScene string, factions []FactionDef) *PlayerState {
	state := &PlayerState{
		CurrentScene:     startScene,
		KnownLanguages:   []string{},
		UnlockedGlyphs:   []string{},
		FactionInfluence: make(map[string]int, len(factions)),
		Consequences:     map[string][]string{},
		Memories:         []string{},
	}
	for _, f := range factions {
		state.FactionInfluence[f.ID] = ClampInfluence(f.Initial)
	}
	return state
}

// ClampInfluence bounds v to [MinInfluence, MaxInfluence]
func ClampInfluence(v int) int {
	if v < MinInfluence {
		return MinInfluence
	}
	if v > MaxInfluence {
		return MaxInfluence
	}
	return v
}

// Clone returns a deep copy
func (s *PlayerState) Clone() *PlayerState {
	if s == nil {
		return nil
	}
	out := &PlayerState{
		PlayerName:       s.PlayerName,
		CurrentScene:     s.CurrentScene,
		KnownLanguages:   append([]string{}, s.KnownLanguages...),
		UnlockedGlyphs:   append([]string{}, s.UnlockedGlyphs...),
		FactionInfluence: make(map[string]int, len(s.FactionInfluence)),
		Consequences:     make(map[string][]string, len(s.Consequences)),
		Memories:         append([]string{}, s.Memories...),
	}
	for k, v := range s.FactionInfluence {
		out.FactionInfluence[k] = v
	}
	for k, v := range s.Consequences {
		out.Consequences[k] = append([]string{}, v...)
	}
	return out
}

// Normalize replaces nil collections with empty ones, drops duplicate
// set entries and clamps influence. Used on restored data.
func (s *PlayerState) Normalize() {
	s.KnownLanguages = dedupe(s.KnownLanguages)
	s.UnlockedGlyphs = dedupe(s.UnlockedGlyphs)
	s.Memories = dedupe(s.Memories)
	if s.FactionInfluence == nil {
		s.FactionInfluence = map[string]int{}
	}
	for k, v := range s.FactionInfluence {
		s.FactionInfluence[k] = ClampInfluence(v)
	}
	if s.Consequences == nil {
		s.Consequences = map[string][]string{}
	}
	for k, v := range s.Consequences {
		if v == nil {
			s.Consequences[k] = []string{}
		}
	}
}

// KnowsLanguage reports whether code is known
func (s *PlayerState) KnowsLanguage(code string) bool {
	return contains(s.KnownLanguages, code)
}

// HasGlyph reports whether the glyph is unlocked
func (s *PlayerState) HasGlyph(id string) bool {
	return contains(s.UnlockedGlyphs, id)
}

// HasMemory reports whether the memory fragment is unlocked
func (s *PlayerState) HasMemory(id string) bool {
	return contains(s.Memories, id)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func dedupe(list []string) []string {
	out := make([]string, 0, len(list))
	seen := make(map[string]bool, len(list))
	for _, item := range list {
		if seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	return out
}

// SaveRecord is the versioned envelope written by the persistence adapter
type SaveRecord struct {
	Version   int          `json:"version"`
	Timestamp int64        `json:"timestamp"` // unix milliseconds
	State     *PlayerState `json:"state"`
}
