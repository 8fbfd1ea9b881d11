// internal/services/text_service.go
package services

import (
	"regexp"
	"strings"

	"github.com/Corphon/SceneWeaver/internal/models"
)

// DefaultPlayerName stands in for an unset name
const DefaultPlayerName = "Traveller"

var (
	placeholderPattern = regexp.MustCompile(`\{(\w+)\}`)
	// 标记: *emphasis*, ((aside)), [[glyph:<id>]]
	markupPattern = regexp.MustCompile(`\*([^*]+)\*|\(\(([^)]+)\)\)|\[\[glyph:([\w-]+)\]\]`)
)

// TextProcessor resolves placeholders and splits markup into segments
type TextProcessor struct {
	catalog *Catalog
}

// NewTextProcessor creates a processor; catalog may be nil
func NewTextProcessor(catalog *Catalog) *TextProcessor {
	return &TextProcessor{catalog: catalog}
}

// Resolve substitutes known placeholders. Unknown ones are left as written.
func (p *TextProcessor) Resolve(text string, state *models.PlayerState) string {
	return placeholderPattern.ReplaceAllStringFunc(text, func(match string) string {
		switch strings.Trim(match, "{}") {
		case "playerName":
			if state != nil && state.PlayerName != "" {
				return state.PlayerName
			}
			return DefaultPlayerName
		default:
			return match
		}
	})
}

// Segments splits the text into typed spans, then resolves placeholders
// inside each span. Markup typed into a player name stays literal.
func (p *TextProcessor) Segments(text string, state *models.PlayerState) []models.TextSegment {
	var segments []models.TextSegment
	add := func(kind models.SegmentKind, raw string) {
		segments = append(segments, models.TextSegment{Kind: kind, Text: p.Resolve(raw, state)})
	}

	last := 0
	for _, m := range markupPattern.FindAllStringSubmatchIndex(text, -1) {
		if m[0] > last {
			add(models.SegmentPlain, text[last:m[0]])
		}
		switch {
		case m[2] >= 0:
			add(models.SegmentEmphasis, text[m[2]:m[3]])
		case m[4] >= 0:
			add(models.SegmentAside, text[m[4]:m[5]])
		case m[6] >= 0:
			segments = append(segments, p.glyphSegment(text[m[6]:m[7]], state))
		}
		last = m[1]
	}
	if last < len(text) {
		add(models.SegmentPlain, text[last:])
	}
	return segments
}

func (p *TextProcessor) glyphSegment(id string, state *models.PlayerState) models.TextSegment {
	seg := models.TextSegment{Kind: models.SegmentGlyph, Text: id, GlyphID: id}
	if p.catalog != nil {
		if def, ok := p.catalog.Glyph(id); ok && def.Name != "" {
			seg.Text = def.Name
		}
	}
	if state != nil {
		seg.Unlocked = state.HasGlyph(id)
	}
	return seg
}

// Plain renders segments back to text without markup
func (p *TextProcessor) Plain(segments []models.TextSegment) string {
	var b strings.Builder
	for _, seg := range segments {
		b.WriteString(seg.Text)
	}
	return b.String()
}
