// internal/content/content.go
package content

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Corphon/SceneWeaver/internal/models"
)

// DefaultSource names the embedded story in diagnostics
const DefaultSource = "embedded:default_story.yaml"

//go:embed default_story.yaml
var embeddedFS embed.FS

// Definition is a content file as authored. The scene store validates it
// and turns it into a catalog; nothing here is checked beyond syntax.
type Definition struct {
	Start    string              `json:"start" yaml:"start"`
	Factions []models.FactionDef `json:"factions,omitempty" yaml:"factions"`
	Glyphs   []models.GlyphDef   `json:"glyphs,omitempty" yaml:"glyphs"`
	Scenes   []SceneDef          `json:"scenes" yaml:"scenes"`

	// Source is where the definition was read from
	Source string `json:"-" yaml:"-"`
}

// SceneDef is one authored scene node
type SceneDef struct {
	ID          string      `json:"id" yaml:"id"`
	Speaker     string      `json:"speaker,omitempty" yaml:"speaker"`
	Text        string      `json:"text" yaml:"text"`
	Background  string      `json:"background,omitempty" yaml:"background"`
	Entry       string      `json:"entry,omitempty" yaml:"entry"`
	Input       string      `json:"input,omitempty" yaml:"input"`
	Memory      string      `json:"memory,omitempty" yaml:"memory"`
	AutoAdvance string      `json:"auto_advance,omitempty" yaml:"auto_advance"`
	Choices     []ChoiceDef `json:"choices,omitempty" yaml:"choices"`
}

// ChoiceDef is one authored choice; consequences stay raw strings until load
type ChoiceDef struct {
	ID           string           `json:"id" yaml:"id"`
	Text         string           `json:"text" yaml:"text"`
	Requires     []RequirementDef `json:"requires,omitempty" yaml:"requires"`
	Consequences []string         `json:"consequences,omitempty" yaml:"consequences"`
	Unlocks      []string         `json:"unlocks,omitempty" yaml:"unlocks"`
}

// RequirementDef is an authored requirement
type RequirementDef struct {
	Kind  string `json:"kind" yaml:"kind"`
	Value string `json:"value" yaml:"value"`
	Min   int    `json:"min,omitempty" yaml:"min"`
}

// Default returns the embedded story
func Default() (*Definition, error) {
	data, err := embeddedFS.ReadFile("default_story.yaml")
	if err != nil {
		return nil, fmt.Errorf("read embedded story: %w", err)
	}
	return Parse(data, ".yaml", DefaultSource)
}

// LoadFile reads a content file; an empty path yields the embedded story
func LoadFile(path string) (*Definition, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read content %s: %w", path, err)
	}
	return Parse(data, filepath.Ext(path), path)
}

// Parse decodes a definition. ext selects the codec (".json" or YAML otherwise).
func Parse(data []byte, ext, source string) (*Definition, error) {
	def := &Definition{}

	switch strings.ToLower(ext) {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(def); err != nil {
			return nil, fmt.Errorf("parse content %s: %w", source, err)
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(def); err != nil {
			return nil, fmt.Errorf("parse content %s: %w", source, err)
		}
	}

	def.Source = source
	return def, nil
}
