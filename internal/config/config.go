// internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Storage backends for save records
const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// singleton runtime configuration
var (
	currentConfig *AppConfig
	configMutex   sync.RWMutex
	configFile    string
)

// AppConfig holds every runtime setting of the engine hosts
type AppConfig struct {
	Port        string `json:"port" env:"PORT" envDefault:"8080"`
	DataDir     string `json:"data_dir" env:"DATA_DIR" envDefault:"data"`
	LogDir      string `json:"log_dir" env:"LOG_DIR" envDefault:"logs"`
	DebugMode   bool   `json:"debug_mode" env:"DEBUG_MODE" envDefault:"true"`
	ContentFile string `json:"content_file,omitempty" env:"CONTENT_FILE"`

	// persistence
	StorageBackend string `json:"storage_backend" env:"STORAGE_BACKEND" envDefault:"file"`
	SQLitePath     string `json:"sqlite_path,omitempty" env:"DB_SQLITE_PATH"`
	PostgresDSN    string `json:"-" env:"DB_POSTGRES_DSN"`

	// pacing, tunable from the saved config file
	AutoAdvanceDelay time.Duration `json:"auto_advance_delay" env:"AUTO_ADVANCE_DELAY" envDefault:"3s"`
	RevealDelay      time.Duration `json:"reveal_delay" env:"REVEAL_DELAY" envDefault:"1500ms"`
	SaveDebounce     time.Duration `json:"save_debounce" env:"SAVE_DEBOUNCE" envDefault:"500ms"`
	SessionTTL       time.Duration `json:"session_ttl" env:"SESSION_TTL" envDefault:"30m"`
}

// ParseEnv loads configuration from environment variables
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load reads .env (optional) and the environment
func Load() (*AppConfig, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := &AppConfig{}
	if err := ParseEnv(cfg); err != nil {
		return nil, err
	}

	if cfg.PostgresDSN == "" {
		cfg.PostgresDSN = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	}
	if cfg.SQLitePath == "" {
		cfg.SQLitePath = filepath.Join(cfg.DataDir, "saves.sqlite")
	}
	cfg.StorageBackend = strings.ToLower(strings.TrimSpace(cfg.StorageBackend))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects inconsistent settings
func (c *AppConfig) Validate() error {
	if strings.TrimSpace(c.Port) == "" {
		return fmt.Errorf("PORT must not be empty")
	}
	switch c.StorageBackend {
	case BackendFile, BackendSQLite, BackendMemory:
	case BackendPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("STORAGE_BACKEND=postgres requires DB_POSTGRES_DSN or DATABASE_URL")
		}
	default:
		return fmt.Errorf("unsupported STORAGE_BACKEND %q", c.StorageBackend)
	}
	if c.AutoAdvanceDelay < 0 || c.RevealDelay < 0 || c.SaveDebounce < 0 {
		return fmt.Errorf("delays must not be negative")
	}
	return nil
}

// StrictContent reports whether content warnings are promoted to startup errors
func (c *AppConfig) StrictContent() bool {
	return c.DebugMode
}

// InitConfig loads the environment and merges pacing settings saved in dataDir/config.json
func InitConfig(dataDir string) error {
	baseConfig, err := Load()
	if err != nil {
		return err
	}
	if dataDir == "" {
		dataDir = baseConfig.DataDir
	}
	configFile = filepath.Join(dataDir, "config.json")

	configMutex.Lock()
	defer configMutex.Unlock()

	currentConfig = baseConfig

	if data, err := os.ReadFile(configFile); err == nil {
		merged := *baseConfig
		if mergeSavedPacing(&merged, data) == nil {
			currentConfig = &merged
		}
	}

	return saveConfigLocked()
}

// pacingFields maps saved config keys to their environment variables
var pacingFields = []struct {
	key    string
	envVar string
	field  func(c *AppConfig) *time.Duration
}{
	{"auto_advance_delay", "AUTO_ADVANCE_DELAY", func(c *AppConfig) *time.Duration { return &c.AutoAdvanceDelay }},
	{"reveal_delay", "REVEAL_DELAY", func(c *AppConfig) *time.Duration { return &c.RevealDelay }},
	{"save_debounce", "SAVE_DEBOUNCE", func(c *AppConfig) *time.Duration { return &c.SaveDebounce }},
	{"session_ttl", "SESSION_TTL", func(c *AppConfig) *time.Duration { return &c.SessionTTL }},
}

// mergeSavedPacing applies pacing values present in the saved file. Paths,
// port and backend always follow the environment, and so does any pacing
// variable set explicitly there.
func mergeSavedPacing(cfg *AppConfig, data []byte) error {
	var saved map[string]json.RawMessage
	if err := json.Unmarshal(data, &saved); err != nil {
		return err
	}
	for _, f := range pacingFields {
		raw, ok := saved[f.key]
		if !ok || envSet(f.envVar) {
			continue
		}
		var d time.Duration
		if err := json.Unmarshal(raw, &d); err != nil || d < 0 {
			continue
		}
		*f.field(cfg) = d
	}
	return nil
}

func envSet(key string) bool {
	v, ok := os.LookupEnv(key)
	return ok && strings.TrimSpace(v) != ""
}

// GetCurrentConfig returns a copy of the current configuration
func GetCurrentConfig() *AppConfig {
	configMutex.RLock()
	defer configMutex.RUnlock()

	if currentConfig == nil {
		baseConfig, err := Load()
		if err != nil {
			return &AppConfig{Port: "8080", DataDir: "data", LogDir: "logs", StorageBackend: BackendMemory}
		}
		return baseConfig
	}

	configCopy := *currentConfig
	return &configCopy
}

// UpdatePacing changes the narration delays and persists them
func UpdatePacing(autoAdvance, reveal time.Duration) error {
	if autoAdvance < 0 || reveal < 0 {
		return fmt.Errorf("delays must not be negative")
	}

	configMutex.Lock()
	defer configMutex.Unlock()

	if currentConfig == nil {
		return fmt.Errorf("config not initialized")
	}
	currentConfig.AutoAdvanceDelay = autoAdvance
	currentConfig.RevealDelay = reveal
	return saveConfigLocked()
}

func saveConfigLocked() error {
	if currentConfig == nil {
		return fmt.Errorf("no config to save")
	}
	if configFile == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(configFile), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(currentConfig, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(configFile, data, 0644)
}
