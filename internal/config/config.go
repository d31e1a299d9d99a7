package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataRoot   string `toml:"data_root"`
	LogDir     string `toml:"log_dir"`
	PromptsDir string `toml:"prompts_dir"`
}

// Database contains the SQLite backend location.
type Database struct {
	Path string `toml:"path"`
}

// Pipeline contains orchestration settings.
type Pipeline struct {
	Version           int     `toml:"version"`
	MaxEpisodeCostUSD float64 `toml:"max_episode_cost_usd"`
	MaxRetries        int     `toml:"max_retries"`
	DryRun            bool    `toml:"dry_run"`
	RunPendingLimit   int     `toml:"run_pending_limit"`
}

// Review contains review-gate settings.
type Review struct {
	// AutoApproveCorrections enables the narrow auto-approve rule for the
	// correct stage: fewer than AutoApproveMaxChanges changes, all of
	// punctuation-only category.
	AutoApproveCorrections bool `toml:"auto_approve_corrections"`
	AutoApproveMaxChanges  int  `toml:"auto_approve_max_changes"`
}

// LLM contains shared LLM connection settings used by the prompted stages.
type LLM struct {
	APIKey            string  `toml:"api_key"`
	BaseURL           string  `toml:"base_url"`
	Model             string  `toml:"model"`
	Referer           string  `toml:"referer"`
	Title             string  `toml:"title"`
	TimeoutSeconds    int     `toml:"timeout_seconds"`
	InputCostPerMTok  float64 `toml:"input_cost_per_mtok"`
	OutputCostPerMTok float64 `toml:"output_cost_per_mtok"`
}

// Transcribe contains transcription backend settings.
type Transcribe struct {
	Model    string `toml:"model"`
	Language string `toml:"language"`
}

// TTS contains text-to-speech settings.
type TTS struct {
	Voice        string  `toml:"voice"`
	Model        string  `toml:"model"`
	CostPerKChar float64 `toml:"cost_per_kchar"`
}

// ImageGen contains image synthesis settings.
type ImageGen struct {
	Model        string  `toml:"model"`
	CostPerImage float64 `toml:"cost_per_image"`
}

// Render contains video assembly timeouts.
type Render struct {
	SegmentTimeoutSeconds int `toml:"segment_timeout_seconds"`
	ConcatTimeoutSeconds  int `toml:"concat_timeout_seconds"`
}

// Publish contains external publishing settings.
type Publish struct {
	Platform      string `toml:"platform"`
	PrivacyStatus string `toml:"privacy_status"`
}

// Feed contains the source feed the detector polls.
type Feed struct {
	URL       string `toml:"url"`
	ChannelID string `toml:"channel_id"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for dublaj.
//
// Configuration sections by subsystem:
//   - Paths: artifact tree root, logs, prompt template directory
//   - Database: SQLite file location
//   - Pipeline: stage plan version, cost cap, retries, dry-run
//   - Review: auto-approve rule for the correct gate
//   - LLM: shared connection settings for prompted stages
//   - Transcribe / TTS / ImageGen / Render / Publish: stage adapter settings
//   - Feed: source feed for episode detection
//   - Logging: log format and level
type Config struct {
	Paths      Paths      `toml:"paths"`
	Database   Database   `toml:"database"`
	Pipeline   Pipeline   `toml:"pipeline"`
	Review     Review     `toml:"review"`
	LLM        LLM        `toml:"llm"`
	Transcribe Transcribe `toml:"transcribe"`
	TTS        TTS        `toml:"tts"`
	ImageGen   ImageGen   `toml:"imagegen"`
	Render     Render     `toml:"render"`
	Publish    Publish    `toml:"publish"`
	Feed       Feed       `toml:"feed"`
	Logging    Logging    `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/dublaj/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config
// has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("dublaj.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

func (c *Config) normalize() error {
	for _, field := range []*string{&c.Paths.DataRoot, &c.Paths.LogDir, &c.Paths.PromptsDir, &c.Database.Path} {
		if strings.TrimSpace(*field) == "" {
			continue
		}
		expanded, err := expandPath(*field)
		if err != nil {
			return err
		}
		*field = expanded
	}
	if strings.TrimSpace(c.Database.Path) == "" {
		c.Database.Path = filepath.Join(c.Paths.DataRoot, "dublaj.db")
	}
	return nil
}

// EnsureDirectories creates required directories for pipeline operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Paths.DataRoot,
		c.Paths.LogDir,
		c.Paths.PromptsDir,
		c.LockDir(),
		filepath.Dir(c.Database.Path),
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// LockDir returns the directory holding per-episode run lock files.
func (c *Config) LockDir() string {
	return filepath.Join(c.Paths.DataRoot, "locks")
}

// TemplatesDir returns the prompt template directory.
func (c *Config) TemplatesDir() string {
	return filepath.Join(c.Paths.PromptsDir, "templates")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
