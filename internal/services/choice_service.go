// internal/services/choice_service.go
package services

import (
	"github.com/Corphon/SceneWeaver/internal/models"
)

// ChoiceEvaluator decides availability and resolves selected choices.
// It holds no state of its own.
type ChoiceEvaluator struct{}

// NewChoiceEvaluator creates an evaluator
func NewChoiceEvaluator() *ChoiceEvaluator {
	return &ChoiceEvaluator{}
}

// Satisfied reports whether state meets a single requirement
func (e *ChoiceEvaluator) Satisfied(req models.Requirement, state *models.PlayerState) bool {
	switch req.Kind {
	case models.RequireLanguage:
		return state.KnowsLanguage(req.Value)
	case models.RequireGlyph:
		return state.HasGlyph(req.Value)
	case models.RequireMemory:
		return state.HasMemory(req.Value)
	case models.RequireFactionMin:
		influence, ok := state.FactionInfluence[req.Value]
		return ok && influence >= req.Min
	default:
		return false
	}
}

// Unmet returns the requirements of choice that state does not meet
func (e *ChoiceEvaluator) Unmet(choice *models.Choice, state *models.PlayerState) []models.Requirement {
	var unmet []models.Requirement
	for _, req := range choice.Requirements {
		if !e.Satisfied(req, state) {
			unmet = append(unmet, req)
		}
	}
	return unmet
}

// IsAvailable reports whether every requirement holds; pure
func (e *ChoiceEvaluator) IsAvailable(choice *models.Choice, state *models.PlayerState) bool {
	for _, req := range choice.Requirements {
		if !e.Satisfied(req, state) {
			return false
		}
	}
	return true
}

// Resolve applies the consequences in one batch and returns the navigation
// target: the last unlock, or the current scene when there is none.
func (e *ChoiceEvaluator) Resolve(choice *models.Choice, store *StateStore) (string, ApplyResult) {
	result := store.ApplyConsequences(choice.Consequences)
	if target := choice.Target(); target != "" {
		return target, result
	}
	return store.CurrentScene(), result
}

// Annotate lists every choice of node with its availability.
// Unavailable choices stay in the list.
func (e *ChoiceEvaluator) Annotate(node *models.SceneNode, state *models.PlayerState) []models.ChoiceView {
	views := make([]models.ChoiceView, 0, len(node.Choices))
	for i := range node.Choices {
		choice := &node.Choices[i]
		unmet := e.Unmet(choice, state)
		views = append(views, models.ChoiceView{
			Index:     i,
			ID:        choice.ID,
			Text:      choice.Text,
			Available: len(unmet) == 0,
			Unmet:     unmet,
		})
	}
	return views
}
