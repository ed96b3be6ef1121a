package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hpungsan/chatkeep/internal/layout"
)

// HomeEnv overrides the base directory (default ~/.chatkeep).
const HomeEnv = "CHATKEEP_HOME"

// Config holds application configuration.
type Config struct {
	// DataDir is the root of the entity store.
	// Default: {base}/data/llm_data. Env: DATA_DIR.
	DataDir string `json:"data_dir,omitempty"`

	// ArchivedExportsDir receives processed export archives and holds ledger.jsonl.
	// Default: {base}/data/archived_exports. Env: ARCHIVED_EXPORTS_DIR.
	ArchivedExportsDir string `json:"archived_exports_dir,omitempty"`

	// LocalViewsDir holds rendered Markdown and HTML views.
	// Default: {base}/data/local_views. Env: LOCAL_VIEWS_DIR.
	LocalViewsDir string `json:"local_views_dir,omitempty"`

	// ZipSearchDir is the intake directory scanned for new export archives.
	// Default: the working directory. Env: ZIP_SEARCH_DIR.
	ZipSearchDir string `json:"zip_search_dir,omitempty"`

	// MaxSlugLength caps the name-derived part of stored file names.
	MaxSlugLength int `json:"max_slug_length,omitempty"`

	// Editor opens Markdown views. Env: EDITOR. Default: vim.
	Editor string `json:"editor,omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level,omitempty"`

	// DBMaxOpenConns limits the maximum number of open history database connections.
	// 0 means use sql.DB default (unlimited). Only set if you experience contention.
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	// 0 means use sql.DB default. Typically set equal to DBMaxOpenConns.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	// Unknown tool names are logged as warnings.
	DisabledTools []string `json:"disabled_tools,omitempty"`

	// DisabledTypes is a list of tool type names to disable entirely.
	// Known types: "archive", "sync". Unknown type names are logged as warnings.
	DisabledTypes []string `json:"disabled_types,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxSlugLength: layout.DefaultMaxSlugLength,
		Editor:        "vim",
		LogLevel:      "info",
	}
}

// BaseDir returns the chatkeep base directory: $CHATKEEP_HOME or ~/.chatkeep.
func BaseDir() (string, error) {
	if dir := strings.TrimSpace(os.Getenv(HomeEnv)); dir != "" {
		return expandHome(dir)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".chatkeep"), nil
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.chatkeep.
func Load(baseDir string) (*Config, error) {
	return loadFile(filepath.Join(baseDir, "config.json"))
}

// LoadWithRepo loads configuration from both global (~/.chatkeep) and repo (.chatkeep) directories.
// Repo config is found by walking upward from startDir to find the nearest .chatkeep/config.json.
// Repo config takes precedence for scalar values; arrays are merged (deduplicated).
// Either or both configs may be missing.
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	// Walk upward from startDir to find repo config
	repoConfigPath := FindRepoConfig(startDir)
	repo, err := loadFileRaw(repoConfigPath)
	if err != nil {
		return nil, err
	}

	// Apply defaults, then global, then repo
	return Merge(Merge(DefaultConfig(), global), repo), nil
}

// FindRepoConfig walks upward from startDir to find the nearest .chatkeep/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	if startDir == "" {
		return ""
	}
	dir := startDir
	for {
		configPath := filepath.Join(dir, ".chatkeep", "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root, not found
			return ""
		}
		dir = parent
	}
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// File doesn't exist, return zero config
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configPath, err)
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	// Scalars: overlay wins if non-zero, else base
	result.DataDir = pick(overlay.DataDir, base.DataDir)
	result.ArchivedExportsDir = pick(overlay.ArchivedExportsDir, base.ArchivedExportsDir)
	result.LocalViewsDir = pick(overlay.LocalViewsDir, base.LocalViewsDir)
	result.ZipSearchDir = pick(overlay.ZipSearchDir, base.ZipSearchDir)
	result.Editor = pick(overlay.Editor, base.Editor)
	result.LogLevel = pick(overlay.LogLevel, base.LogLevel)

	result.MaxSlugLength = overlay.MaxSlugLength
	if result.MaxSlugLength == 0 {
		result.MaxSlugLength = base.MaxSlugLength
	}

	result.DBMaxOpenConns = overlay.DBMaxOpenConns
	if result.DBMaxOpenConns == 0 {
		result.DBMaxOpenConns = base.DBMaxOpenConns
	}

	result.DBMaxIdleConns = overlay.DBMaxIdleConns
	if result.DBMaxIdleConns == 0 {
		result.DBMaxIdleConns = base.DBMaxIdleConns
	}

	// Arrays: merge and deduplicate
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)
	result.DisabledTypes = mergeStringSlice(base.DisabledTypes, overlay.DisabledTypes)

	return result
}

func pick(overlay, base string) string {
	if strings.TrimSpace(overlay) != "" {
		return overlay
	}
	return base
}

// ApplyEnv overlays environment variables onto the config.
// getenv is os.Getenv outside tests.
func (c *Config) ApplyEnv(getenv func(string) string) {
	for env, dest := range map[string]*string{
		"DATA_DIR":             &c.DataDir,
		"ARCHIVED_EXPORTS_DIR": &c.ArchivedExportsDir,
		"LOCAL_VIEWS_DIR":      &c.LocalViewsDir,
		"ZIP_SEARCH_DIR":       &c.ZipSearchDir,
		"EDITOR":               &c.Editor,
	} {
		if v := strings.TrimSpace(getenv(env)); v != "" {
			*dest = v
		}
	}
}

// Resolve fills unset directories with their defaults under baseDir (intake
// defaults to workDir) and makes every directory absolute.
func (c *Config) Resolve(baseDir, workDir string) error {
	defaults := []struct {
		dest *string
		def  string
	}{
		{&c.DataDir, filepath.Join(baseDir, "data", "llm_data")},
		{&c.ArchivedExportsDir, filepath.Join(baseDir, "data", "archived_exports")},
		{&c.LocalViewsDir, filepath.Join(baseDir, "data", "local_views")},
		{&c.ZipSearchDir, workDir},
	}
	for _, d := range defaults {
		if strings.TrimSpace(*d.dest) == "" {
			*d.dest = d.def
		}
		p, err := expandHome(*d.dest)
		if err != nil {
			return err
		}
		if !filepath.IsAbs(p) {
			p = filepath.Join(workDir, p)
		}
		*d.dest = filepath.Clean(p)
	}
	if c.MaxSlugLength <= 0 {
		c.MaxSlugLength = layout.DefaultMaxSlugLength
	}
	return nil
}

// expandHome replaces a leading "~/" with the user's home directory.
func expandHome(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range b {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
