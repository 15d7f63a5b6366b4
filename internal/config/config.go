package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/agentbridge/agentbridge/internal/policy"
)

// Duration unmarshals from "90s"-style strings in both JSON and YAML.
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Host string `json:"host,omitempty" yaml:"host"`
	Port int    `json:"port,omitempty" yaml:"port"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `json:"level,omitempty" yaml:"level"`
	Pretty bool   `json:"pretty,omitempty" yaml:"pretty"`
}

// SessionConfig configures session lifecycle defaults.
type SessionConfig struct {
	// IdleTimeout overrides how long a finished, unreferenced session
	// survives before reclaim.
	IdleTimeout  Duration `json:"idleTimeout,omitempty" yaml:"idleTimeout"`
	DefaultModel string   `json:"defaultModel,omitempty" yaml:"defaultModel"`
}

// Config is the broker configuration assembled from files and environment.
type Config struct {
	Server  ServerConfig  `json:"server,omitempty" yaml:"server"`
	Log     LogConfig     `json:"log,omitempty" yaml:"log"`
	Session SessionConfig `json:"session,omitempty" yaml:"session"`
	Policy  policy.Rules  `json:"policy,omitempty" yaml:"policy"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Host: "127.0.0.1", Port: 4976},
		Log:    LogConfig{Level: "info"},
	}
}

// candidateFiles lists the config files probed under dir, most generic
// first so later files win on merge.
func candidateFiles(dir string) []string {
	names := []string{
		"agentbridge.json",
		"agentbridge.jsonc",
		"agentbridge.yaml",
		"agentbridge.yml",
	}
	paths := make([]string, 0, len(names)*2)
	for _, n := range names {
		paths = append(paths, filepath.Join(dir, n))
	}
	for _, n := range names {
		paths = append(paths, filepath.Join(dir, ".agentbridge", n))
	}
	return paths
}

// Load assembles configuration in priority order: defaults, the global
// config directory, the project directory, an AGENTBRIDGE_CONFIG file, then
// environment variables. A .env in the project directory is loaded first
// so file interpolation and overrides can see it. Missing files are
// skipped; malformed files are an error.
func Load(directory string) (*Config, error) {
	if directory != "" {
		// Best effort; a project without a .env is the common case.
		_ = godotenv.Load(filepath.Join(directory, ".env"))
	}

	cfg := Default()

	paths := candidateFiles(GetPaths().Config)
	if directory != "" {
		paths = append(paths, candidateFiles(directory)...)
	}
	if override := os.Getenv("AGENTBRIDGE_CONFIG"); override != "" {
		paths = append(paths, override)
	}

	loaded := make(map[string]bool)
	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil || loaded[abs] {
			continue
		}
		if err := loadFile(path, cfg); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("loading %s: %w", path, err)
		}
		loaded[abs] = true
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// loadFile merges one file into cfg. YAML is chosen by extension,
// everything else goes through the JSONC path.
func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	data = interpolate(data)

	var layer Config
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &layer); err != nil {
			return err
		}
	default:
		if err := json.Unmarshal(jsonc.ToJSON(data), &layer); err != nil {
			return err
		}
	}

	merge(cfg, &layer)
	return nil
}

var envPattern = regexp.MustCompile(`\{env:([^}]+)\}`)

// interpolate expands {env:VAR} placeholders.
func interpolate(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envPattern.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// merge overlays src onto dst. Scalars replace when set; policy lists
// append, shell patterns overlay per key.
func merge(dst, src *Config) {
	if src.Server.Host != "" {
		dst.Server.Host = src.Server.Host
	}
	if src.Server.Port != 0 {
		dst.Server.Port = src.Server.Port
	}
	if src.Log.Level != "" {
		dst.Log.Level = src.Log.Level
	}
	if src.Log.Pretty {
		dst.Log.Pretty = true
	}
	if src.Session.IdleTimeout != 0 {
		dst.Session.IdleTimeout = src.Session.IdleTimeout
	}
	if src.Session.DefaultModel != "" {
		dst.Session.DefaultModel = src.Session.DefaultModel
	}
	if len(src.Policy.ReadGlobs) > 0 {
		dst.Policy.ReadGlobs = append(dst.Policy.ReadGlobs, src.Policy.ReadGlobs...)
	}
	if src.Policy.Shell != nil {
		if dst.Policy.Shell == nil {
			dst.Policy.Shell = make(map[string]policy.Action)
		}
		for pattern, action := range src.Policy.Shell {
			dst.Policy.Shell[pattern] = action
		}
	}
}

// applyEnvOverrides applies AGENTBRIDGE_* environment variables, the
// highest-priority source.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AGENTBRIDGE_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("AGENTBRIDGE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("AGENTBRIDGE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("AGENTBRIDGE_MODEL"); v != "" {
		cfg.Session.DefaultModel = v
	}
	if v := os.Getenv("AGENTBRIDGE_IDLE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Session.IdleTimeout = Duration(d)
		}
	}
}
