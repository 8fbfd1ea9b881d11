// internal/services/directive_parser.go
package services

import (
	"strconv"
	"strings"

	"github.com/Corphon/SceneWeaver/internal/models"
)

const (
	learnedPrefix = "learned_"
	factionToken  = "faction_"
)

// ParseDirective classifies a consequence string. The first matching rule wins:
//
//  1. learned_<code>            -> LearnLanguage(code)
//  2. ...faction_<id>_<int>     -> AdjustFaction(id, int)
//  3. anything else             -> Generic(raw)
//
// Strings that match a known shape but carry a bad payload come back as
// DirectiveMalformed; the store logs and drops them.
func ParseDirective(raw string) models.Directive {
	if strings.HasPrefix(raw, learnedPrefix) {
		code := strings.TrimPrefix(raw, learnedPrefix)
		if code == "" {
			return malformed(raw, "missing language code")
		}
		return models.LearnLanguage(code)
	}

	if idx := strings.Index(raw, factionToken); idx >= 0 {
		parts := strings.Split(raw[idx:], "_")
		if len(parts) == 3 {
			id := parts[1]
			if id == "" {
				return malformed(raw, "missing faction id")
			}
			delta, err := strconv.Atoi(parts[2])
			if err != nil {
				return malformed(raw, "influence delta is not an integer")
			}
			d := models.AdjustFaction(id, delta)
			d.Raw = raw
			return d
		}
	}

	return models.Generic(raw)
}

// ParseDirectives parses a batch, preserving order
func ParseDirectives(raws []string) []models.Directive {
	out := make([]models.Directive, 0, len(raws))
	for _, raw := range raws {
		out = append(out, ParseDirective(raw))
	}
	return out
}

func malformed(raw, reason string) models.Directive {
	return models.Directive{Kind: models.DirectiveMalformed, Raw: raw, Reason: reason}
}
