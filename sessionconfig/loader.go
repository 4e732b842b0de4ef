package sessionconfig

import (
	"fmt"
	"os"
	"path/filepath"
)

// LoaderOptions configures Load.
type LoaderOptions struct {
	// ConfigDir is the directory containing config files (default: "config").
	ConfigDir string
	// Environment overrides automatic environment detection.
	Environment string
	// SkipEnvSubstitution disables ${VAR} substitution.
	SkipEnvSubstitution bool
	// SkipValidation disables configuration validation.
	SkipValidation bool
}

// DefaultLoaderOptions returns the default loader options.
func DefaultLoaderOptions() LoaderOptions {
	return LoaderOptions{ConfigDir: "config"}
}

// Load loads configuration for the current environment, falling back
// from <env>.yaml to default.yaml to config.yaml, and finally to an
// empty Config with defaults applied if none exist.
func Load(opts ...LoaderOptions) (*Config, error) {
	options := DefaultLoaderOptions()
	if len(opts) > 0 {
		options = opts[0]
	}

	env := options.Environment
	if env == "" {
		env = GetEnvironment()
	}

	var cfg *Config
	for _, name := range []string{env + ".yaml", "default.yaml", "config.yaml"} {
		c, err := LoadFromFile(filepath.Join(options.ConfigDir, name))
		if err == nil {
			cfg = c
			break
		}
	}
	if cfg == nil {
		cfg = &Config{}
		setDefaults(cfg)
	}
	if cfg.Environment == "" {
		cfg.Environment = env
	}

	if !options.SkipEnvSubstitution {
		SubstituteEnvVarsInConfig(cfg)
	}
	applyEnvironmentOverrides(cfg)

	if !options.SkipValidation {
		for _, e := range ValidateConfiguration(cfg) {
			if e.Level == "error" {
				return nil, fmt.Errorf("sessionconfig: validation failed: %s - %s", e.Field, e.Message)
			}
		}
	}

	return cfg, nil
}

// applyEnvironmentOverrides applies DISSENT_* environment variables on
// top of whatever was loaded from file, at the highest priority.
func applyEnvironmentOverrides(cfg *Config) {
	if addr := os.Getenv("DISSENT_LISTEN_ADDR"); addr != "" {
		cfg.ListenAddr = addr
	}
	if role := os.Getenv("DISSENT_ROLE"); role != "" {
		cfg.Role = role
	}
	if level := os.Getenv("DISSENT_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if os.Getenv("DISSENT_METRICS_ENABLED") == "true" {
		cfg.Metrics.Enabled = true
	}
	if os.Getenv("DISSENT_METRICS_ENABLED") == "false" {
		cfg.Metrics.Enabled = false
	}
	if addr := os.Getenv("DISSENT_METRICS_ADDR"); addr != "" {
		cfg.Metrics.ListenAddr = addr
	}
}

// LoadForEnvironment loads configuration for a specific environment.
func LoadForEnvironment(environment string) (*Config, error) {
	return Load(LoaderOptions{ConfigDir: "config", Environment: environment})
}

// MustLoad loads configuration or panics on error.
func MustLoad(opts ...LoaderOptions) *Config {
	cfg, err := Load(opts...)
	if err != nil {
		panic(fmt.Sprintf("sessionconfig: failed to load configuration: %v", err))
	}
	return cfg
}
