package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

const (
	configDir  = ".config/fast-resume"
	configFile = "config.json"
)

// rawConfig is the JSON-unmarshaling intermediary; every field is a
// pointer or omittable so an absent key in the user's file leaves the
// default untouched.
type rawConfig struct {
	Index    *rawIndexConfig    `json:"index"`
	Adapters *rawAdaptersConfig `json:"adapters"`
	Search   *rawSearchConfig   `json:"search"`
}

type rawIndexConfig struct {
	Path string `json:"path"`
}

type rawAdaptersConfig struct {
	ClaudeCodeDir string `json:"claudeCodeDir"`
	CodexDir      string `json:"codexDir"`
	CopilotDir    string `json:"copilotDir"`
	CrushProjects string `json:"crushProjectsFile"`
	OpenCodeDir   string `json:"openCodeDir"`
	VibeDir       string `json:"vibeDir"`
}

type rawSearchConfig struct {
	DefaultLimit *int `json:"defaultLimit"`
}

// Load loads configuration from the default location
// (~/.config/fast-resume/config.json), overlaying it on Default().
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom loads configuration from a specific path. If path is empty, it
// uses the default per-user location. A missing file is not an error —
// Default() is returned unmodified.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return cfg, nil
		}
		path = filepath.Join(home, configDir, configFile)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	var raw rawConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		slog.Warn("config file is malformed, using defaults", "path", path, "error", err)
		return cfg, nil
	}

	applyRaw(cfg, &raw)
	return cfg, nil
}

func applyRaw(cfg *Config, raw *rawConfig) {
	if raw.Index != nil && raw.Index.Path != "" {
		cfg.Index.Path = raw.Index.Path
	}
	if raw.Adapters != nil {
		overlayString(&cfg.Adapters.ClaudeCodeDir, raw.Adapters.ClaudeCodeDir)
		overlayString(&cfg.Adapters.CodexDir, raw.Adapters.CodexDir)
		overlayString(&cfg.Adapters.CopilotDir, raw.Adapters.CopilotDir)
		overlayString(&cfg.Adapters.CrushProjects, raw.Adapters.CrushProjects)
		overlayString(&cfg.Adapters.OpenCodeDir, raw.Adapters.OpenCodeDir)
		overlayString(&cfg.Adapters.VibeDir, raw.Adapters.VibeDir)
	}
	if raw.Search != nil && raw.Search.DefaultLimit != nil {
		cfg.Search.DefaultLimit = *raw.Search.DefaultLimit
	}
}

func overlayString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}
