// Package config holds the root configuration for fast-resume: the index
// location and each adapter's source root. Roots are enumerated options on
// this struct, never read from ambient globals inside adapter constructors.
package config

import (
	"os"
	"path/filepath"
)

// Config is the root configuration structure.
type Config struct {
	Index    IndexConfig    `json:"index"`
	Adapters AdaptersConfig `json:"adapters"`
	Search   SearchConfig   `json:"search"`
}

// IndexConfig configures the full-text index location and schema.
type IndexConfig struct {
	Path          string `json:"path"`
	SchemaVersion int    `json:"-"` // compiled in, never user-configurable
}

// AdaptersConfig holds each adapter's on-disk source root, overriding the
// per-user default when non-empty.
type AdaptersConfig struct {
	ClaudeCodeDir string `json:"claudeCodeDir"`
	CodexDir      string `json:"codexDir"`
	CopilotDir    string `json:"copilotDir"`
	CrushProjects string `json:"crushProjectsFile"`
	OpenCodeDir   string `json:"openCodeDir"`
	VibeDir       string `json:"vibeDir"`
}

// SearchConfig holds default search behavior.
type SearchConfig struct {
	DefaultLimit int `json:"defaultLimit"`
}

// schemaVersion is bumped whenever the index's field list, field options,
// token filters, or stored-field set change.
const schemaVersion = 1

const defaultLimit = 100

// Default returns the default configuration, with every adapter root
// resolved against the invoking user's home directory.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Index: IndexConfig{
			Path:          filepath.Join(home, ".cache", "fast-resume", "tantivy_index"),
			SchemaVersion: schemaVersion,
		},
		Adapters: AdaptersConfig{
			ClaudeCodeDir: filepath.Join(home, ".claude", "projects"),
			CodexDir:      filepath.Join(home, ".codex", "sessions"),
			CopilotDir:    filepath.Join(home, ".copilot", "session-state"),
			CrushProjects: filepath.Join(home, ".local", "share", "crush", "projects.json"),
			OpenCodeDir:   filepath.Join(home, ".local", "share", "opencode", "storage"),
			VibeDir:       filepath.Join(home, ".vibe", "logs", "session"),
		},
		Search: SearchConfig{
			DefaultLimit: defaultLimit,
		},
	}
}
