package config

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/grovetools/taskagent/errors"
	"github.com/grovetools/taskagent/pkg/paths"
	"github.com/pelletier/go-toml/v2"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// configNames are searched in order in every directory.
var configNames = []string{
	"taskagent.yml",
	"taskagent.yaml",
	".taskagent.yml",
	".taskagent.yaml",
	"taskagent.toml",
}

// Load reads and parses a single configuration file, applies defaults and
// validates it.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := decodeFile(path, cfg); err != nil {
		return nil, err
	}
	return finalize(cfg)
}

// LoadFromBytes parses a YAML document.
func LoadFromBytes(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := decodeInto(data, ".yml", cfg); err != nil {
		return nil, err
	}
	return finalize(cfg)
}

// LoadDefault loads configuration starting from the current directory.
func LoadDefault() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to get current directory")
	}
	return LoadFrom(cwd)
}

// LoadFrom loads configuration with layering:
// 1. Global config ($XDG_CONFIG_HOME/taskagent/taskagent.yml) - base layer
// 2. Project config found from startDir upwards - overrides global
//
// It returns errors.ErrCodeConfigNotFound when neither exists.
func LoadFrom(startDir string) (*Config, error) {
	return LoadFromWithLogger(startDir, logrus.New())
}

// LoadFromWithLogger is LoadFrom with debug output on logger.
func LoadFromWithLogger(startDir string, logger *logrus.Logger) (*Config, error) {
	cfg := &Config{}
	found := false

	globalPath := GlobalConfigPath()
	if globalPath != "" {
		if info, err := os.Stat(globalPath); err == nil && !info.IsDir() {
			logger.WithField("path", globalPath).Debug("Loading global configuration")
			if err := decodeFile(globalPath, cfg); err != nil {
				logger.WithError(err).Warn("Failed to parse global configuration, continuing without it")
			} else {
				found = true
			}
		}
	}

	projectPath, err := findProjectConfig(startDir)
	if err == nil && projectPath != globalPath {
		logger.WithField("path", projectPath).Debug("Loading project configuration")
		// Decoding over the global layer overrides only the keys present.
		if err := decodeFile(projectPath, cfg); err != nil {
			return nil, err
		}
		found = true
	}

	if !found {
		return nil, errors.ConfigNotFound(startDir).WithDetail("searchPath", startDir)
	}

	finalCfg, err := finalize(cfg)
	if err != nil {
		return nil, err
	}

	if logger.IsLevelEnabled(logrus.DebugLevel) {
		if data, err := yaml.Marshal(finalCfg); err == nil {
			logger.Debugf("Merged configuration:\n%s", string(data))
		}
	}
	return finalCfg, nil
}

// LoadOrDefault behaves like LoadFrom but falls back to Default when no
// configuration file exists.
func LoadOrDefault(startDir string) (*Config, error) {
	cfg, err := LoadFrom(startDir)
	if errors.Is(err, errors.ErrCodeConfigNotFound) {
		return Default(), nil
	}
	return cfg, err
}

// FindConfigFile returns the nearest project config at or above startDir, or
// the global config when there is none.
func FindConfigFile(startDir string) (string, error) {
	if path, err := findProjectConfig(startDir); err == nil {
		return path, nil
	}
	if globalPath := GlobalConfigPath(); globalPath != "" {
		if info, err := os.Stat(globalPath); err == nil && !info.IsDir() {
			return globalPath, nil
		}
	}
	return "", errors.ConfigNotFound(startDir).WithDetail("searchPath", startDir)
}

// GlobalConfigPath returns the user-level config file location.
func GlobalConfigPath() string {
	dir := paths.ConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "taskagent.yml")
}

func findProjectConfig(startDir string) (string, error) {
	dir := startDir
	for {
		for _, name := range configNames {
			path := filepath.Join(dir, name)
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				return path, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", errors.ConfigNotFound(startDir)
}

func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.ConfigNotFound(path)
		}
		return errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to read config file").
			WithDetail("path", path)
	}
	if err := decodeInto(data, filepath.Ext(path), cfg); err != nil {
		if agentErr, ok := errors.As(err); ok {
			return agentErr.WithDetail("path", path)
		}
		return err
	}
	return nil
}

// decodeInto validates the raw document against the schema and decodes it
// over cfg. TOML documents are normalized to YAML first so both formats
// share one decoding path.
func decodeInto(data []byte, ext string, cfg *Config) error {
	expanded := []byte(expandEnvVars(string(data)))

	if ext == ".toml" {
		var doc map[string]interface{}
		if err := toml.Unmarshal(expanded, &doc); err != nil {
			return errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to parse TOML configuration")
		}
		converted, err := yaml.Marshal(doc)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to convert TOML configuration")
		}
		expanded = converted
	}

	if len(bytes.TrimSpace(expanded)) == 0 {
		return nil
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(expanded, &raw); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to parse YAML configuration")
	}
	if err := ValidateDocument(raw); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigInvalid, "schema validation failed")
	}

	if err := yaml.Unmarshal(expanded, cfg); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to parse YAML configuration")
	}
	return nil
}

func finalize(cfg *Config) (*Config, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment values.
func expandEnvVars(content string) string {
	return envVarRegex.ReplaceAllStringFunc(content, func(match string) string {
		varName := envVarRegex.FindStringSubmatch(match)[1]

		parts := strings.SplitN(varName, ":-", 2)
		varName = parts[0]
		defaultValue := ""
		if len(parts) > 1 {
			defaultValue = parts[1]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}
