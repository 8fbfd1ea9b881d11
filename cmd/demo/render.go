// cmd/demo/render.go
package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/Corphon/SceneWeaver/internal/models"
)

var currentLanguage = "en"

var translations = map[string]map[string]string{
	"en": {
		"banner":          "SceneWeaver · %s",
		"help":            "Enter: continue · number: choose · name <text> · go <scene> · state · save · reset · help · quit",
		"prompt":          "> ",
		"restored":        "Save found, continuing at %s.",
		"new_game":        "New game.",
		"locked":          "locked",
		"needs_language":  "knows %s",
		"needs_glyph":     "recognises %s",
		"needs_memory":    "remembers %s",
		"needs_faction":   "%s standing %d+",
		"name_prompt":     "Type your name, then choose.",
		"name_set":        "Name set: %s",
		"not_found":       "Scene %q does not exist. Use reset or go <scene>.",
		"rejected":        "That choice is not available.",
		"nothing":         "Nothing to continue.",
		"saved":           "Saved.",
		"save_failed":     "Could not save (%v). Play continues.",
		"clear_failed":    "New game started, but the old save could not be removed (%v).",
		"reset":           "Progress cleared. A new game begins.",
		"unknown_command": "Unknown command. Type help.",
		"goodbye":         "Farewell.",
		"state_title":     "Player",
		"valid":           "%s: %d scenes, start %q",
		"unreachable":     "  unreachable: %s",
		"entries":         "  entries: %s",
	},
	"zh": {
		"banner":          "SceneWeaver · %s",
		"help":            "回车: 继续 · 数字: 选择 · name <名字> · go <场景> · state · save · reset · help · quit",
		"prompt":          "> ",
		"restored":        "发现存档，从 %s 继续。",
		"new_game":        "新游戏。",
		"locked":          "未解锁",
		"needs_language":  "需要语言 %s",
		"needs_glyph":     "需要符文 %s",
		"needs_memory":    "需要记忆 %s",
		"needs_faction":   "%s 声望 %d+",
		"name_prompt":     "输入你的名字，然后选择。",
		"name_set":        "名字已设置: %s",
		"not_found":       "场景 %q 不存在。使用 reset 或 go <场景>。",
		"rejected":        "该选项不可用。",
		"nothing":         "没有可继续的内容。",
		"saved":           "已保存。",
		"save_failed":     "保存失败 (%v)，游戏继续。",
		"clear_failed":    "新游戏已开始，但旧存档未能删除 (%v)。",
		"reset":           "进度已清除，新游戏开始。",
		"unknown_command": "未知命令，输入 help。",
		"goodbye":         "再见。",
		"state_title":     "玩家",
		"valid":           "%s: %d 个场景，起点 %q",
		"unreachable":     "  不可达: %s",
		"entries":         "  章节: %s",
	},
}

// T 翻译
func T(key string, args ...interface{}) string {
	langMap, ok := translations[currentLanguage]
	if !ok {
		langMap = translations["en"]
	}
	val, ok := langMap[key]
	if !ok {
		return key
	}
	if len(args) > 0 {
		return fmt.Sprintf(val, args...)
	}
	return val
}

func setLanguage(lang string) {
	if _, ok := translations[lang]; ok {
		currentLanguage = lang
		return
	}
	currentLanguage = "en"
}

const cliBoxMaxWidth = 72

func printBox(w io.Writer, title, content string) {
	wrappedLines := wrapContentForBox(content, cliBoxMaxWidth)
	maxWidth := utf8.RuneCountInString(title)
	for _, line := range wrappedLines {
		if lw := utf8.RuneCountInString(line); lw > maxWidth {
			maxWidth = lw
		}
	}
	border := strings.Repeat("─", maxWidth+2)
	fmt.Fprintln(w, "┌"+border+"┐")
	if title != "" {
		fmt.Fprintf(w, "│ %s │\n", padRight(title, maxWidth))
		fmt.Fprintln(w, "├"+border+"┤")
	}
	if len(wrappedLines) == 0 {
		wrappedLines = []string{""}
	}
	for _, line := range wrappedLines {
		fmt.Fprintf(w, "│ %s │\n", padRight(line, maxWidth))
	}
	fmt.Fprintln(w, "└"+border+"┘")
}

// wrapContentForBox breaks lines at word boundaries where possible
func wrapContentForBox(content string, maxWidth int) []string {
	if maxWidth <= 0 {
		return []string{content}
	}
	var result []string
	for _, rawLine := range strings.Split(content, "\n") {
		line := strings.TrimRight(rawLine, " ")
		for utf8.RuneCountInString(line) > maxWidth {
			runes := []rune(line)
			cut := maxWidth
			for i := maxWidth; i > maxWidth/2; i-- {
				if runes[i] == ' ' {
					cut = i
					break
				}
			}
			result = append(result, strings.TrimRight(string(runes[:cut]), " "))
			line = strings.TrimLeft(string(runes[cut:]), " ")
		}
		result = append(result, line)
	}
	return result
}

func padRight(text string, width int) string {
	current := utf8.RuneCountInString(text)
	if current >= width {
		return text
	}
	return text + strings.Repeat(" ", width-current)
}

// renderSegments turns processed text into terminal markup
func renderSegments(view models.SceneView) string {
	if len(view.Segments) == 0 {
		return view.Text
	}
	var b strings.Builder
	for _, seg := range view.Segments {
		switch seg.Kind {
		case models.SegmentEmphasis:
			b.WriteString(strings.ToUpper(seg.Text))
		case models.SegmentAside:
			b.WriteString("(" + seg.Text + ")")
		case models.SegmentGlyph:
			if seg.Unlocked {
				b.WriteString("⟨" + seg.Text + "⟩")
			} else {
				b.WriteString("⟨???⟩")
			}
		default:
			b.WriteString(seg.Text)
		}
	}
	return b.String()
}

func describeRequirement(req models.Requirement) string {
	switch req.Kind {
	case models.RequireLanguage:
		return T("needs_language", req.Value)
	case models.RequireGlyph:
		return T("needs_glyph", req.Value)
	case models.RequireMemory:
		return T("needs_memory", req.Value)
	case models.RequireFactionMin:
		return T("needs_faction", req.Value, req.Min)
	default:
		return string(req.Kind) + " " + req.Value
	}
}

// renderView prints one navigator view
func renderView(w io.Writer, view models.SceneView) {
	if view.State.Kind == models.StateNotFound {
		fmt.Fprintln(w, T("not_found", view.State.RequestedID))
		return
	}

	title := view.SceneID
	if view.Speaker != "" {
		title = view.Speaker
	}
	body := renderSegments(view)
	if view.ChoicesRevealed {
		var lines []string
		for _, choice := range view.Choices {
			line := fmt.Sprintf("%d) %s", choice.Index+1, choice.Text)
			if !choice.Available {
				reasons := make([]string, 0, len(choice.Unmet))
				for _, req := range choice.Unmet {
					reasons = append(reasons, describeRequirement(req))
				}
				line += fmt.Sprintf("  [%s: %s]", T("locked"), strings.Join(reasons, ", "))
			}
			lines = append(lines, line)
		}
		body += "\n\n" + strings.Join(lines, "\n")
	}
	printBox(w, title, body)
	if view.Input == models.InputPlayerName {
		fmt.Fprintln(w, T("name_prompt"))
	}
}

// renderState prints the player summary
func renderState(w io.Writer, state *models.PlayerState) {
	var lines []string
	lines = append(lines, "name: "+state.PlayerName)
	lines = append(lines, "scene: "+state.CurrentScene)
	lines = append(lines, "languages: "+strings.Join(state.KnownLanguages, ", "))
	lines = append(lines, "glyphs: "+strings.Join(state.UnlockedGlyphs, ", "))

	factions := make([]string, 0, len(state.FactionInfluence))
	for id, value := range state.FactionInfluence {
		factions = append(factions, fmt.Sprintf("%s=%d", id, value))
	}
	sort.Strings(factions)
	lines = append(lines, "factions: "+strings.Join(factions, ", "))
	lines = append(lines, "memories: "+strings.Join(state.Memories, ", "))

	categories := make([]string, 0, len(state.Consequences))
	for category, items := range state.Consequences {
		categories = append(categories, fmt.Sprintf("%s[%s]", category, strings.Join(items, ", ")))
	}
	sort.Strings(categories)
	lines = append(lines, "consequences: "+strings.Join(categories, " "))

	printBox(w, T("state_title"), strings.Join(lines, "\n"))
}
