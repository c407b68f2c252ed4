// internal/config/config.go
//
// This package handles configuration and the .lattice directory structure.
// Every project that plans with lattice-waves gets a .lattice/ folder in its
// root holding config.yaml, the plan document, the outbox and the logs.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/kingrea/lattice-waves/internal/delegation"
	"github.com/kingrea/lattice-waves/internal/workflow"
)

const (
	// LatticeDir is the name of the directory we create in each project
	LatticeDir = ".lattice"

	// EnvPrefix namespaces environment overrides, e.g. LATTICE_WAVES_LOG_LEVEL.
	EnvPrefix = "LATTICE_WAVES"

	configFileName = "config.yaml"
)

const defaultProjectConfigYAML = `# lattice-waves project configuration
log:
  level: info
  json: false

execution:
  # Failure ratio (0-1] at which a run stops dispatching new work.
  halt_threshold: 0.5
  # Extra context appended to every work order.
  context: ""

plan:
  path: .lattice/plan/PLAN.md
  # Encoding for a newly created data block: json or yaml.
  format: json

bridge:
  enabled: true
  host: 127.0.0.1
  port: 8765
  # Largest accepted event body.
  max_body_bytes: 65536

# Per-category overrides of the built-in delegation profiles.
# delegation:
#   categories:
#     visual-engineering:
#       skills: [playwright]
#       default_assignee: frontend-team
`

// LogConfig controls the diagnostic logger.
type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// ExecutionConfig tunes runs.
type ExecutionConfig struct {
	HaltThreshold float64 `mapstructure:"halt_threshold"`
	Context       string  `mapstructure:"context"`
}

// PlanConfig locates the plan document.
type PlanConfig struct {
	Path   string `mapstructure:"path"`
	Format string `mapstructure:"format"`
}

// BridgeConfig controls the notification intake server.
type BridgeConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	MaxBodyBytes int64  `mapstructure:"max_body_bytes"`
}

// CategoryConfig overrides one delegation profile.
type CategoryConfig struct {
	Skills          []string `mapstructure:"skills"`
	DefaultAssignee string   `mapstructure:"default_assignee"`
	Description     string   `mapstructure:"description"`
}

// DelegationConfig holds per-category overrides.
type DelegationConfig struct {
	Categories map[string]CategoryConfig `mapstructure:"categories"`
}

// Settings models .lattice/config.yaml after defaults and env overrides.
type Settings struct {
	Log        LogConfig        `mapstructure:"log"`
	Execution  ExecutionConfig  `mapstructure:"execution"`
	Plan       PlanConfig       `mapstructure:"plan"`
	Bridge     BridgeConfig     `mapstructure:"bridge"`
	Delegation DelegationConfig `mapstructure:"delegation"`
}

// Default returns the built-in settings.
func Default() Settings {
	return Settings{
		Log:       LogConfig{Level: "info"},
		Execution: ExecutionConfig{HaltThreshold: 0.5},
		Plan: PlanConfig{
			Path:   filepath.Join(LatticeDir, workflow.PlanDir, workflow.FilePlan),
			Format: "json",
		},
		Bridge: BridgeConfig{Enabled: true, Host: "127.0.0.1", Port: 8765, MaxBodyBytes: 64 << 10},
	}
}

// SetDefaults registers default values with v.
func SetDefaults(v *viper.Viper) {
	defaults := Default()
	v.SetDefault("log.level", defaults.Log.Level)
	v.SetDefault("log.json", defaults.Log.JSON)
	v.SetDefault("execution.halt_threshold", defaults.Execution.HaltThreshold)
	v.SetDefault("execution.context", defaults.Execution.Context)
	v.SetDefault("plan.path", defaults.Plan.Path)
	v.SetDefault("plan.format", defaults.Plan.Format)
	v.SetDefault("bridge.enabled", defaults.Bridge.Enabled)
	v.SetDefault("bridge.host", defaults.Bridge.Host)
	v.SetDefault("bridge.port", defaults.Bridge.Port)
	v.SetDefault("bridge.max_body_bytes", defaults.Bridge.MaxBodyBytes)
}

// Config holds the runtime configuration for one project.
type Config struct {
	// ProjectDir is the directory lattice-waves was run from.
	ProjectDir string

	// LatticeProjectDir is ProjectDir/.lattice
	LatticeProjectDir string

	Settings Settings
}

// InitLatticeDir creates the .lattice directory structure in the given project
// directory and writes a default config.yaml when none exists.
//
// Structure created:
// .lattice/
// ├── config.yaml
// ├── logs/     <- diagnostic log and execution journal
// ├── plan/     <- PLAN.md with its embedded task list
// └── outbox/   <- work orders for the external launcher
func InitLatticeDir(projectDir string) error {
	latticeDir := filepath.Join(projectDir, LatticeDir)
	if err := workflow.New(latticeDir).Initialize(); err != nil {
		return err
	}
	return ensureProjectConfig(filepath.Join(latticeDir, configFileName))
}

// NewConfig loads .lattice/config.yaml (if present) under projectDir, applies
// LATTICE_WAVES_* environment overrides and validates the result.
func NewConfig(projectDir string) (*Config, error) {
	cfg := &Config{
		ProjectDir:        projectDir,
		LatticeProjectDir: filepath.Join(projectDir, LatticeDir),
	}
	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := cfg.ProjectConfigPath()
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: stat %s: %w", path, err)
	}

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	settings.normalize()
	if errs := settings.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	cfg.Settings = settings
	return cfg, nil
}

// LogsDir returns the path to the logs directory
func (c *Config) LogsDir() string {
	return filepath.Join(c.LatticeProjectDir, workflow.LogsDir)
}

// Workflow returns the path resolver for the .lattice directory.
func (c *Config) Workflow() *workflow.Workflow {
	return workflow.New(c.LatticeProjectDir)
}

// ProjectConfigPath returns the on-disk location for the project config file.
func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.LatticeProjectDir, configFileName)
}

// PlanPath resolves plan.path against the project directory.
func (c *Config) PlanPath() string {
	return resolvePath(c.ProjectDir, c.Settings.Plan.Path)
}

// DelegationOverrides converts the delegation section into resolver overrides.
func (c *Config) DelegationOverrides() map[workflow.Category]delegation.Override {
	if len(c.Settings.Delegation.Categories) == 0 {
		return nil
	}
	out := make(map[workflow.Category]delegation.Override, len(c.Settings.Delegation.Categories))
	for name, category := range c.Settings.Delegation.Categories {
		out[workflow.Category(name)] = delegation.Override{
			Skills:          category.Skills,
			Description:     category.Description,
			DefaultAssignee: category.DefaultAssignee,
		}
	}
	return out
}

func (s *Settings) normalize() {
	s.Log.Level = strings.ToLower(strings.TrimSpace(s.Log.Level))
	s.Plan.Format = strings.ToLower(strings.TrimSpace(s.Plan.Format))
	s.Plan.Path = strings.TrimSpace(s.Plan.Path)
	s.Bridge.Host = strings.TrimSpace(s.Bridge.Host)
	if len(s.Delegation.Categories) > 0 {
		normalized := make(map[string]CategoryConfig, len(s.Delegation.Categories))
		for name, category := range s.Delegation.Categories {
			normalized[strings.ToLower(strings.TrimSpace(name))] = category
		}
		s.Delegation.Categories = normalized
	}
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}

func ensureProjectConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultProjectConfigYAML), 0o644)
}
