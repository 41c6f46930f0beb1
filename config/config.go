// Package config resolves runtime settings from flags, VISIONCRAFT_*
// environment variables, an optional YAML file and built-in defaults,
// in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/augmentedstartups/visioncraft-mcp/bridge"
)

const (
	// EnvPrefix prefixes every environment variable, e.g. VISIONCRAFT_API_KEY.
	EnvPrefix = "VISIONCRAFT"

	projectConfigName = "visioncraft.yaml"
	homeConfigDir     = ".visioncraft"
	homeConfigName    = "config.yaml"

	defaultServiceName = "visioncraft-mcp"
)

// Keys understood in the config file, environment and flags.
const (
	KeyAPIKey       = "api_key"
	KeyEndpoint     = "endpoint"
	KeyTopK         = "top_k"
	KeyOTLPEndpoint = "telemetry.otlp_endpoint"
	KeyServiceName  = "telemetry.service_name"
)

// Config is the resolved process configuration.
type Config struct {
	APIKey    string          `mapstructure:"api_key"`
	Endpoint  string          `mapstructure:"endpoint"`
	TopK      int             `mapstructure:"top_k"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`

	// Source is the config file that was merged, or empty.
	Source string `mapstructure:"-"`
}

// TelemetryConfig controls trace export.
type TelemetryConfig struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name"`
}

// Options controls where Load looks for settings.
type Options struct {
	// Flags may define "api-key". Only flags set on the command line
	// override other sources.
	Flags *pflag.FlagSet
	// ConfigPath is an explicit config file; it must exist.
	ConfigPath string
	// WorkDir and HomeDir default to the process working directory and
	// the user home directory.
	WorkDir string
	HomeDir string
}

// Load resolves the configuration.
func Load(opts Options) (Config, error) {
	v := viper.New()
	v.SetDefault(KeyAPIKey, "")
	v.SetDefault(KeyEndpoint, bridge.DefaultEndpoint)
	v.SetDefault(KeyTopK, bridge.DefaultTopK)
	v.SetDefault(KeyOTLPEndpoint, "")
	v.SetDefault(KeyServiceName, defaultServiceName)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.Flags != nil {
		if flag := opts.Flags.Lookup("api-key"); flag != nil {
			if err := v.BindPFlag(KeyAPIKey, flag); err != nil {
				return Config{}, fmt.Errorf("binding api-key flag: %w", err)
			}
		}
	}

	path, found, err := discover(opts)
	if err != nil {
		return Config{}, err
	}
	if found {
		settings, err := readFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := v.MergeConfigMap(settings); err != nil {
			return Config{}, fmt.Errorf("merging config %q: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding configuration: %w", err)
	}
	if found {
		cfg.Source = path
	}
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports settings that cannot be used.
func (c Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("config: endpoint is empty")
	}
	if c.TopK <= 0 {
		return fmt.Errorf("config: top_k must be positive, got %d", c.TopK)
	}
	return nil
}

func discover(opts Options) (string, bool, error) {
	workDir := opts.WorkDir
	if workDir == "" && strings.TrimSpace(opts.ConfigPath) == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", false, fmt.Errorf("resolve working directory: %w", err)
		}
		workDir = cwd
	}
	homeDir := opts.HomeDir
	if homeDir == "" && strings.TrimSpace(opts.ConfigPath) == "" {
		// A missing home directory only disables the home candidate.
		homeDir, _ = os.UserHomeDir()
	}
	return DiscoverPathFrom(opts.ConfigPath, workDir, homeDir)
}

// DiscoverPathFrom returns the first existing config file among the
// explicit path, <cwd>/visioncraft.yaml and <home>/.visioncraft/config.yaml.
// An explicit path that does not exist is an error.
func DiscoverPathFrom(explicitPath, cwd, homeDir string) (string, bool, error) {
	explicit := strings.TrimSpace(explicitPath)
	candidates := make([]string, 0, 2)
	if explicit != "" {
		candidates = append(candidates, filepath.Clean(explicit))
	} else {
		if cwd != "" {
			candidates = append(candidates, filepath.Join(cwd, projectConfigName))
		}
		if homeDir != "" {
			candidates = append(candidates, filepath.Join(homeDir, homeConfigDir, homeConfigName))
		}
	}

	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, true, nil
		}
		if errors.Is(err, os.ErrNotExist) || err == nil {
			if explicit != "" {
				return "", false, fmt.Errorf("config file %q not found", candidate)
			}
			continue
		}
		return "", false, fmt.Errorf("checking config path %q: %w", candidate, err)
	}
	return "", false, nil
}

func readFile(path string) (map[string]any, error) {
	// #nosec G304 -- path comes from explicit flag or fixed discovery locations.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %q: %w", path, err)
	}
	settings := map[string]any{}
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("parsing config %q: %w", path, err)
	}
	return settings, nil
}
