// internal/services/scene_service.go
package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/Corphon/SceneWeaver/internal/content"
	apperrors "github.com/Corphon/SceneWeaver/internal/errors"
	"github.com/Corphon/SceneWeaver/internal/models"
	"github.com/Corphon/SceneWeaver/internal/utils"
)

// ErrSceneNotFound is wrapped by every failed catalog lookup
var ErrSceneNotFound = errors.New("scene not found")

// CatalogOptions controls how strictly content is validated
type CatalogOptions struct {
	// Strict turns directive warnings (undeclared faction, malformed payload)
	// into configuration errors
	Strict bool
	Logger *utils.Logger
}

// Catalog 不可变的场景目录, loaded once and shared read-only by every session
type Catalog struct {
	source string
	start  string

	nodes []models.SceneNode
	index map[string]int

	glyphs       []models.GlyphDef
	glyphIndex   map[string]int
	factions     []models.FactionDef
	factionIndex map[string]int

	// language code -> glyph ids, in declaration order
	languageGlyphs map[string][]string
	entries        []string
}

// ---------------------------------------------------
// LoadCatalog validates a definition and builds the catalog.
// Every problem is collected; on any problem nothing is returned.
func LoadCatalog(def *content.Definition, opts CatalogOptions) (*Catalog, error) {
	logger := opts.Logger
	if logger == nil {
		logger = utils.GetLogger()
	}
	if def == nil {
		return nil, &apperrors.ConfigurationError{Problems: []apperrors.Problem{{ID: "<definition>", Reason: "no content"}}}
	}

	problems := &apperrors.ConfigurationError{Source: def.Source}
	c := &Catalog{
		source:         def.Source,
		start:          strings.TrimSpace(def.Start),
		nodes:          make([]models.SceneNode, 0, len(def.Scenes)),
		index:          make(map[string]int, len(def.Scenes)),
		glyphIndex:     make(map[string]int, len(def.Glyphs)),
		factionIndex:   make(map[string]int, len(def.Factions)),
		languageGlyphs: make(map[string][]string),
	}

	// 字形与阵营
	for _, g := range def.Glyphs {
		if g.ID == "" {
			problems.Add("<glyph>", "glyph without id")
			continue
		}
		if _, dup := c.glyphIndex[g.ID]; dup {
			problems.Add(g.ID, "duplicate glyph id")
			continue
		}
		c.glyphIndex[g.ID] = len(c.glyphs)
		c.glyphs = append(c.glyphs, g)
		for _, lang := range g.Languages {
			c.languageGlyphs[lang] = append(c.languageGlyphs[lang], g.ID)
		}
	}
	for _, f := range def.Factions {
		if f.ID == "" {
			problems.Add("<faction>", "faction without id")
			continue
		}
		if _, dup := c.factionIndex[f.ID]; dup {
			problems.Add(f.ID, "duplicate faction id")
			continue
		}
		f.Initial = models.ClampInfluence(f.Initial)
		c.factionIndex[f.ID] = len(c.factions)
		c.factions = append(c.factions, f)
	}

	// 场景节点
	for _, sd := range def.Scenes {
		if sd.ID == "" {
			problems.Add("<scene>", "scene without id")
			continue
		}
		if _, dup := c.index[sd.ID]; dup {
			problems.Add(sd.ID, "duplicate scene id")
			continue
		}
		node := c.buildNode(sd, problems, opts.Strict, logger)
		c.index[node.ID] = len(c.nodes)
		c.nodes = append(c.nodes, node)
		if node.Entry != "" {
			c.entries = append(c.entries, node.ID)
		}
	}

	// 引用检查 needs the full index
	for i := range c.nodes {
		node := &c.nodes[i]
		if node.IsChoicePoint() && node.IsPassThrough() {
			problems.Add(node.ID, "has both choices and auto_advance")
		}
		if node.IsPassThrough() && !c.Has(node.AutoAdvance) {
			problems.Add(node.AutoAdvance, "auto_advance target of %q is not a declared scene", node.ID)
		}
		for _, choice := range node.Choices {
			for _, target := range choice.Unlocks {
				if !c.Has(target) {
					problems.Add(target, "unlock target of %s/%s is not a declared scene", node.ID, choice.ID)
				}
			}
		}
	}

	switch {
	case c.start == "":
		problems.Add("<start>", "no start scene")
	case !c.Has(c.start):
		problems.Add(c.start, "start scene is not a declared scene")
	case c.nodes[c.index[c.start]].Entry == "":
		// 起始场景必须是一个入口
		if opts.Strict {
			problems.Add(c.start, "start scene has no entry tag")
		} else {
			logger.Warn("Start scene has no entry tag", map[string]interface{}{"scene": c.start})
		}
	}

	if err := problems.OrNil(); err != nil {
		return nil, err
	}

	logger.Info("Scene catalog loaded", map[string]interface{}{
		"source":   c.source,
		"scenes":   len(c.nodes),
		"glyphs":   len(c.glyphs),
		"factions": len(c.factions),
		"start":    c.start,
	})
	return c, nil
}

func (c *Catalog) buildNode(sd content.SceneDef, problems *apperrors.ConfigurationError, strict bool, logger *utils.Logger) models.SceneNode {
	node := models.SceneNode{
		ID:          sd.ID,
		Speaker:     sd.Speaker,
		Text:        sd.Text,
		AutoAdvance: sd.AutoAdvance,
		Background:  sd.Background,
		Entry:       sd.Entry,
		Input:       sd.Input,
		Memory:      sd.Memory,
	}

	seen := make(map[string]bool, len(sd.Choices))
	for _, cd := range sd.Choices {
		if cd.ID == "" {
			problems.Add(sd.ID, "choice without id")
			continue
		}
		if seen[cd.ID] {
			problems.Add(sd.ID+"/"+cd.ID, "duplicate choice id")
			continue
		}
		seen[cd.ID] = true

		choice := models.Choice{
			ID:      cd.ID,
			Text:    cd.Text,
			Unlocks: append([]string(nil), cd.Unlocks...),
		}
		ref := sd.ID + "/" + cd.ID

		for _, rd := range cd.Requires {
			req := models.Requirement{Kind: models.RequirementKind(rd.Kind), Value: rd.Value, Min: rd.Min}
			switch req.Kind {
			case models.RequireGlyph:
				if _, ok := c.glyphIndex[req.Value]; !ok {
					problems.Add(req.Value, "requirement of %s names an undeclared glyph", ref)
				}
			case models.RequireFactionMin:
				if _, ok := c.factionIndex[req.Value]; !ok {
					problems.Add(req.Value, "requirement of %s names an undeclared faction", ref)
				}
			case models.RequireLanguage, models.RequireMemory:
			default:
				problems.Add(ref, "unknown requirement kind %q", rd.Kind)
			}
			choice.Requirements = append(choice.Requirements, req)
		}

		for _, raw := range cd.Consequences {
			d := ParseDirective(raw)
			var warning string
			switch d.Kind {
			case models.DirectiveMalformed:
				warning = fmt.Sprintf("malformed directive %q in %s: %s", raw, ref, d.Reason)
			case models.DirectiveAdjustFaction:
				if _, ok := c.factionIndex[d.Faction]; !ok {
					warning = fmt.Sprintf("directive %q in %s names an undeclared faction", raw, ref)
				}
			}
			if warning != "" {
				if strict {
					problems.Add(raw, "%s", warning)
				} else {
					logger.Warn("Content directive will be dropped", map[string]interface{}{
						"directive": raw,
						"choice":    ref,
						"reason":    warning,
					})
				}
			}
			choice.Consequences = append(choice.Consequences, d)
		}

		node.Choices = append(node.Choices, choice)
	}
	return node
}

// Source names where the catalog was loaded from
func (c *Catalog) Source() string {
	return c.source
}

// Start returns the start scene id
func (c *Catalog) Start() string {
	return c.start
}

// Len returns the number of scenes
func (c *Catalog) Len() int {
	return len(c.nodes)
}

// Has reports whether id is a declared scene
func (c *Catalog) Has(id string) bool {
	_, ok := c.index[id]
	return ok
}

// Lookup returns the node for id. The node is shared and must not be modified.
func (c *Catalog) Lookup(id string) (*models.SceneNode, error) {
	i, ok := c.index[id]
	if !ok {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("scene %q not found", id), fmt.Errorf("%w: %s", ErrSceneNotFound, id))
	}
	return &c.nodes[i], nil
}

// SceneIDs returns every scene id in declaration order
func (c *Catalog) SceneIDs() []string {
	ids := make([]string, len(c.nodes))
	for i := range c.nodes {
		ids[i] = c.nodes[i].ID
	}
	return ids
}

// Successors returns the distinct scenes reachable in one step from id
func (c *Catalog) Successors(id string) []string {
	node, err := c.Lookup(id)
	if err != nil {
		return nil
	}
	var out []string
	seen := make(map[string]bool)
	add := func(target string) {
		if target != "" && !seen[target] {
			seen[target] = true
			out = append(out, target)
		}
	}
	add(node.AutoAdvance)
	for _, choice := range node.Choices {
		add(choice.Target())
	}
	return out
}

// Entries maps section names to their entry scene ids
func (c *Catalog) Entries() map[string]string {
	out := make(map[string]string, len(c.entries))
	for _, id := range c.entries {
		out[c.nodes[c.index[id]].Entry] = id
	}
	return out
}

// GlyphsForLanguage returns the glyphs a language unlocks, in declaration order
func (c *Catalog) GlyphsForLanguage(code string) []string {
	return append([]string(nil), c.languageGlyphs[code]...)
}

// Glyph returns a glyph definition
func (c *Catalog) Glyph(id string) (models.GlyphDef, bool) {
	i, ok := c.glyphIndex[id]
	if !ok {
		return models.GlyphDef{}, false
	}
	return c.glyphs[i], true
}

// Glyphs returns every declared glyph
func (c *Catalog) Glyphs() []models.GlyphDef {
	return append([]models.GlyphDef(nil), c.glyphs...)
}

// Factions returns every declared faction, sorted by id
func (c *Catalog) Factions() []models.FactionDef {
	out := append([]models.FactionDef(nil), c.factions...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// HasFaction reports whether id is a declared faction
func (c *Catalog) HasFaction(id string) bool {
	_, ok := c.factionIndex[id]
	return ok
}
