package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Corphon/SceneWeaver/internal/models"
)

func TestResolvePlaceholders(t *testing.T) {
	p := NewTextProcessor(nil)
	state := models.NewPlayerState("a", nil)

	assert.Equal(t, "Hello Traveller, {unknown}", p.Resolve("Hello {playerName}, {unknown}", state))
	state.PlayerName = "Ada"
	assert.Equal(t, "Hello Ada", p.Resolve("Hello {playerName}", state))
	assert.Equal(t, "Hello Traveller", p.Resolve("Hello {playerName}", nil))
}

func TestSegments(t *testing.T) {
	catalog := testCatalog(t)
	p := NewTextProcessor(catalog)
	state := models.NewPlayerState("a", nil)
	state.PlayerName = "Ada"
	state.UnlockedGlyphs = []string{"sun"}

	got := p.Segments("Hi {playerName}. *Look* ((quietly)) at [[glyph:sun]] and [[glyph:owl]]", state)
	want := []models.TextSegment{
		{Kind: models.SegmentPlain, Text: "Hi Ada. "},
		{Kind: models.SegmentEmphasis, Text: "Look"},
		{Kind: models.SegmentPlain, Text: " "},
		{Kind: models.SegmentAside, Text: "quietly"},
		{Kind: models.SegmentPlain, Text: " at "},
		{Kind: models.SegmentGlyph, Text: "sun", GlyphID: "sun", Unlocked: true},
		{Kind: models.SegmentPlain, Text: " and "},
		{Kind: models.SegmentGlyph, Text: "owl", GlyphID: "owl"},
	}
	assert.Equal(t, want, got)
	assert.Equal(t, "Hi Ada. Look quietly at sun and owl", p.Plain(got))
}

func TestSegmentsPlainText(t *testing.T) {
	p := NewTextProcessor(nil)
	assert.Equal(t, []models.TextSegment{{Kind: models.SegmentPlain, Text: "just words"}}, p.Segments("just words", nil))
	assert.Nil(t, p.Segments("", nil))
}

func TestSegmentsKeepNameLiteral(t *testing.T) {
	p := NewTextProcessor(testCatalog(t))
	state := models.NewPlayerState("a", nil)
	state.PlayerName = "*Bob* ((x)) [[glyph:sun]]"

	got := p.Segments("Well met, {playerName}. *Go* {playerName}", state)
	want := []models.TextSegment{
		{Kind: models.SegmentPlain, Text: "Well met, *Bob* ((x)) [[glyph:sun]]. "},
		{Kind: models.SegmentEmphasis, Text: "Go"},
		{Kind: models.SegmentPlain, Text: " *Bob* ((x)) [[glyph:sun]]"},
	}
	assert.Equal(t, want, got)

	// 强调内的占位符同样替换
	got = p.Segments("*{playerName}*", state)
	assert.Equal(t, []models.TextSegment{{Kind: models.SegmentEmphasis, Text: "*Bob* ((x)) [[glyph:sun]]"}}, got)
}
