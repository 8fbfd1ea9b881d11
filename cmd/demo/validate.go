// cmd/demo/validate.go
package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Corphon/SceneWeaver/internal/content"
	"github.com/Corphon/SceneWeaver/internal/services"
	"github.com/Corphon/SceneWeaver/internal/utils"
)

var validateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Check a scene file in strict mode",
	Long: `Loads a scene file with every content warning treated as an error and
reports the scene count, the named entry points and scenes the start scene can
never reach.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := contentFlag
		if len(args) == 1 {
			path = args[0]
		}
		setLanguage(langFlag)
		return validateContent(cmd.OutOrStdout(), path, utils.GetLogger())
	},
}

// validateContent loads path strictly and prints a summary to out
func validateContent(out io.Writer, path string, logger *utils.Logger) error {
	def, err := content.LoadFile(path)
	if err != nil {
		return err
	}
	catalog, err := services.LoadCatalog(def, services.CatalogOptions{Strict: true, Logger: logger})
	if err != nil {
		return err
	}

	fmt.Fprintln(out, T("valid", catalog.Source(), catalog.Len(), catalog.Start()))

	entries := catalog.Entries()
	names := make([]string, 0, len(entries))
	for name, sceneID := range entries {
		names = append(names, name+"→"+sceneID)
	}
	sort.Strings(names)
	if len(names) > 0 {
		fmt.Fprintln(out, T("entries", strings.Join(names, ", ")))
	}

	if unreachable := unreachableScenes(catalog); len(unreachable) > 0 {
		fmt.Fprintln(out, T("unreachable", strings.Join(unreachable, ", ")))
	}
	return nil
}

// unreachableScenes lists scenes with no path from the start scene, sorted
func unreachableScenes(catalog *services.Catalog) []string {
	seen := map[string]bool{catalog.Start(): true}
	queue := []string{catalog.Start()}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, next := range catalog.Successors(id) {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}

	var out []string
	for _, id := range catalog.SceneIDs() {
		if !seen[id] {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
