// internal/models/view.go
package models

// NavigatorStateKind is the state of the scene navigator
type NavigatorStateKind string

const (
	StateAtNode         NavigatorStateKind = "at_node"
	StateAwaitingChoice NavigatorStateKind = "awaiting_choice"
	StateTransitioning  NavigatorStateKind = "transitioning"
	StateNotFound       NavigatorStateKind = "not_found"
)

// NavigatorState is the current state plus the scene it refers to
type NavigatorState struct {
	Kind    NavigatorStateKind `json:"kind"`
	SceneID string             `json:"scene_id,omitempty"`
	// RequestedID is the missing id in the not-found state
	RequestedID string `json:"requested_id,omitempty"`
}

// SegmentKind tags a span of processed scene text
type SegmentKind string

const (
	SegmentPlain    SegmentKind = "plain"
	SegmentEmphasis SegmentKind = "emphasis"
	SegmentAside    SegmentKind = "aside"
	SegmentGlyph    SegmentKind = "glyph"
)

// TextSegment is one span of processed text
type TextSegment struct {
	Kind    SegmentKind `json:"kind"`
	Text    string      `json:"text"`
	GlyphID string      `json:"glyph_id,omitempty"`
	// Unlocked is set on glyph spans the player already holds
	Unlocked bool `json:"unlocked,omitempty"`
}

// ChoiceView is a choice as presented, with its availability
type ChoiceView struct {
	Index     int           `json:"index"`
	ID        string        `json:"id"`
	Text      string        `json:"text"`
	Available bool          `json:"available"`
	Unmet     []Requirement `json:"unmet,omitempty"`
}

// SceneView is everything presentation needs to render the current step
type SceneView struct {
	State      NavigatorState `json:"state"`
	SceneID    string         `json:"scene_id,omitempty"`
	Speaker    string         `json:"speaker,omitempty"`
	Text       string         `json:"text,omitempty"`
	Segments   []TextSegment  `json:"segments,omitempty"`
	Background string         `json:"background,omitempty"`
	Input      string         `json:"input,omitempty"`
	Choices    []ChoiceView   `json:"choices,omitempty"`
	// ChoicesRevealed is false until the reveal delay has elapsed
	ChoicesRevealed bool `json:"choices_revealed"`
	AutoAdvance     bool `json:"auto_advance,omitempty"`
}
