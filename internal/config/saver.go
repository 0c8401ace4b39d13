package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Save writes cfg as JSON to the default location, creating parent
// directories as needed.
func Save(cfg *Config) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolve home directory: %w", err)
	}
	return SaveTo(cfg, filepath.Join(home, configDir, configFile))
}

// SaveTo writes cfg as JSON to path, creating parent directories as needed.
func SaveTo(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := json.MarshalIndent(toRaw(cfg), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

func toRaw(cfg *Config) rawConfig {
	limit := cfg.Search.DefaultLimit
	return rawConfig{
		Index: &rawIndexConfig{Path: cfg.Index.Path},
		Adapters: &rawAdaptersConfig{
			ClaudeCodeDir: cfg.Adapters.ClaudeCodeDir,
			CodexDir:      cfg.Adapters.CodexDir,
			CopilotDir:    cfg.Adapters.CopilotDir,
			CrushProjects: cfg.Adapters.CrushProjects,
			OpenCodeDir:   cfg.Adapters.OpenCodeDir,
			VibeDir:       cfg.Adapters.VibeDir,
		},
		Search: &rawSearchConfig{DefaultLimit: &limit},
	}
}
