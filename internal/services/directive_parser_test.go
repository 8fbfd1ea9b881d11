package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Corphon/SceneWeaver/internal/models"
)

func TestParseDirective(t *testing.T) {
	tests := []struct {
		raw      string
		kind     models.DirectiveKind
		language string
		faction  string
		delta    int
	}{
		{raw: "learned_latin", kind: models.DirectiveLearnLanguage, language: "latin"},
		{raw: "learned_", kind: models.DirectiveMalformed},
		{raw: "faction_clans_5", kind: models.DirectiveAdjustFaction, faction: "clans", delta: 5},
		{raw: "faction_clans_-12", kind: models.DirectiveAdjustFaction, faction: "clans", delta: -12},
		{raw: "sided_with_faction_archive_3", kind: models.DirectiveAdjustFaction, faction: "archive", delta: 3},
		{raw: "faction_clans_many", kind: models.DirectiveMalformed},
		{raw: "faction__4", kind: models.DirectiveMalformed},
		{raw: "faction_clans_5_extra", kind: models.DirectiveGeneric},
		{raw: "visited_ruins", kind: models.DirectiveGeneric},
		// rule 1 is checked before rule 2
		{raw: "learned_faction_clans_5", kind: models.DirectiveLearnLanguage, language: "faction_clans_5"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			d := ParseDirective(tt.raw)
			assert.Equal(t, tt.kind, d.Kind)
			assert.Equal(t, tt.raw, d.Raw)
			assert.Equal(t, tt.language, d.Language)
			assert.Equal(t, tt.faction, d.Faction)
			assert.Equal(t, tt.delta, d.Delta)
			if tt.kind == models.DirectiveMalformed {
				assert.NotEmpty(t, d.Reason)
			}
		})
	}
}

func TestParseDirectivesKeepsOrder(t *testing.T) {
	got := ParseDirectives([]string{"learned_latin", "faction_clans_5", "visited_ruins"})
	assert.Equal(t, []models.DirectiveKind{
		models.DirectiveLearnLanguage,
		models.DirectiveAdjustFaction,
		models.DirectiveGeneric,
	}, []models.DirectiveKind{got[0].Kind, got[1].Kind, got[2].Kind})
}
