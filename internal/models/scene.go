// internal/models/scene.go
package models

import "fmt"

// SceneNode is one immutable unit of narrative content.
// A node either offers choices or auto-advances, never both.
type SceneNode struct {
	ID          string   `json:"id"`
	Speaker     string   `json:"speaker,omitempty"`
	Text        string   `json:"text"`
	Choices     []Choice `json:"choices,omitempty"`
	AutoAdvance string   `json:"auto_advance,omitempty"`
	Background  string   `json:"background,omitempty"` // opaque to the engine
	Entry       string   `json:"entry,omitempty"`      // section name when this node starts a section
	Input       string   `json:"input,omitempty"`      // e.g. InputPlayerName
	Memory      string   `json:"memory,omitempty"`     // fragment unlocked on entry
}

// InputPlayerName marks the dedicated name-entry scene
const InputPlayerName = "player_name"

// IsChoicePoint reports whether the node waits for a selection
func (n *SceneNode) IsChoicePoint() bool {
	return len(n.Choices) > 0
}

// IsPassThrough reports whether the node advances on a timer
func (n *SceneNode) IsPassThrough() bool {
	return n.AutoAdvance != ""
}

// Choice is a selectable option owned by its SceneNode
type Choice struct {
	ID           string        `json:"id"`
	Text         string        `json:"text"`
	Requirements []Requirement `json:"requirements,omitempty"`
	Consequences []Directive   `json:"consequences,omitempty"`
	Unlocks      []string      `json:"unlocks,omitempty"`
}

// Target returns the navigation target, the last unlock, or "" when there is none
func (c *Choice) Target() string {
	if len(c.Unlocks) == 0 {
		return ""
	}
	return c.Unlocks[len(c.Unlocks)-1]
}

// RequirementKind names a predicate over PlayerState
type RequirementKind string

const (
	RequireLanguage   RequirementKind = "language"
	RequireGlyph      RequirementKind = "glyph"
	RequireMemory     RequirementKind = "memory"
	RequireFactionMin RequirementKind = "faction_min"
)

// Requirement gates a choice
type Requirement struct {
	Kind  RequirementKind `json:"kind"`
	Value string          `json:"value"`
	Min   int             `json:"min,omitempty"` // faction_min only
}

// DirectiveKind tags a parsed consequence directive
type DirectiveKind string

const (
	DirectiveLearnLanguage DirectiveKind = "learn_language"
	DirectiveAdjustFaction DirectiveKind = "adjust_faction"
	DirectiveGeneric       DirectiveKind = "generic"
	DirectiveMalformed     DirectiveKind = "malformed"
)

// GeneralCategory is where unclassified directives are recorded
const GeneralCategory = "general"

// Directive is a consequence parsed once at content load
type Directive struct {
	Kind     DirectiveKind `json:"kind"`
	Raw      string        `json:"raw"`
	Language string        `json:"language,omitempty"`
	Faction  string        `json:"faction,omitempty"`
	Delta    int           `json:"delta,omitempty"`
	Reason   string        `json:"reason,omitempty"` // malformed only
}

// LearnLanguage builds a learn-language directive
func LearnLanguage(code string) Directive {
	return Directive{Kind: DirectiveLearnLanguage, Raw: "learned_" + code, Language: code}
}

// AdjustFaction builds a faction-influence directive
func AdjustFaction(id string, delta int) Directive {
	return Directive{Kind: DirectiveAdjustFaction, Raw: fmt.Sprintf("faction_%s_%d", id, delta), Faction: id, Delta: delta}
}

// Generic builds a directive recorded verbatim under the general category
func Generic(text string) Directive {
	return Directive{Kind: DirectiveGeneric, Raw: text}
}

// GlyphDef declares an unlockable glyph and the languages that grant it
type GlyphDef struct {
	ID        string   `json:"id" yaml:"id"`
	Name      string   `json:"name,omitempty" yaml:"name"`
	Languages []string `json:"languages" yaml:"languages"`
}

// FactionDef declares a faction and its starting influence
type FactionDef struct {
	ID      string `json:"id" yaml:"id"`
	Name    string `json:"name,omitempty" yaml:"name"`
	Initial int    `json:"initial,omitempty" yaml:"initial"`
}
