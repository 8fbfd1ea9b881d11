// cmd/demo/main.go
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Corphon/SceneWeaver/internal/config"
	"github.com/Corphon/SceneWeaver/internal/utils"
)

var (
	contentFlag string
	storageFlag string
	dataDirFlag string
	langFlag    string
	fastFlag    bool
)

var rootCmd = &cobra.Command{
	Use:   "sceneweaver",
	Short: "SceneWeaver terminal player and content tools",
	Long: `SceneWeaver plays branching dialogue content in the terminal.

Content is a YAML or JSON scene file; without --content the embedded story is used.
Progress is saved automatically under the "player_state" slot.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&contentFlag, "content", "", "scene file (default: CONTENT_FILE or the embedded story)")
	rootCmd.PersistentFlags().StringVar(&langFlag, "lang", "en", "interface language: en or zh")

	playCmd.Flags().StringVar(&storageFlag, "storage", "", "save backend: file, sqlite, postgres or memory (default: STORAGE_BACKEND)")
	playCmd.Flags().StringVar(&dataDirFlag, "data-dir", "", "save directory (default: DATA_DIR)")
	playCmd.Flags().BoolVar(&fastFlag, "fast", false, "no narration delays")

	rootCmd.AddCommand(playCmd, validateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the environment and applies command-line overrides
func loadConfig() (*config.AppConfig, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if contentFlag != "" {
		cfg.ContentFile = contentFlag
	}
	if storageFlag != "" {
		cfg.StorageBackend = storageFlag
	}
	if dataDirFlag != "" {
		cfg.DataDir = dataDirFlag
		cfg.SQLitePath = filepath.Join(dataDirFlag, "saves.sqlite")
	}
	if fastFlag {
		cfg.AutoAdvanceDelay = 0
		cfg.RevealDelay = 0
	}
	setLanguage(langFlag)
	return cfg, cfg.Validate()
}

// newFileLogger logs to logDir only, keeping the terminal for the story
func newFileLogger(logDir string, debug bool) (*utils.Logger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	zcfg := zap.NewProductionConfig()
	if debug {
		zcfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	logFile := filepath.Join(logDir, fmt.Sprintf("demo_%s.log", time.Now().Format("2006-01-02")))
	zcfg.OutputPaths = []string{logFile}
	zcfg.ErrorOutputPaths = []string{logFile}
	base, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	return utils.NewLogger(base), nil
}
