// Package config loads pinup's configuration with viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/bnema/pinup/internal/domain"
)

// Config is the immutable configuration of one pinup invocation.
// It is loaded once and passed by value.
type Config struct {
	// Mirrors maps a registry host to its ordered mirror hosts. Viper splits
	// dotted keys, so it is read from the raw config tree instead.
	Mirrors  map[string][]string `mapstructure:"-"`
	Tool     string              `mapstructure:"tool"`
	Engine   string              `mapstructure:"engine"`
	Projects []string            `mapstructure:"projects"`
	Resolver ResolverConfig      `mapstructure:"resolver"`
	Deploy   DeployConfig        `mapstructure:"deploy"`
	Metrics  MetricsConfig       `mapstructure:"metrics"`
	Logging  LoggingConfig       `mapstructure:"logging"`
}

type ResolverConfig struct {
	Backend  string        `mapstructure:"backend"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Insecure bool          `mapstructure:"insecure"`
	Skopeo   string        `mapstructure:"skopeo"`
}

type DeployConfig struct {
	BackupSuffix  string `mapstructure:"backup_suffix"`
	Prune         bool   `mapstructure:"prune"`
	RemoveOrphans bool   `mapstructure:"remove_orphans"`
}

type MetricsConfig struct {
	// Textfile is where a Prometheus textfile is written after each run.
	Textfile string `mapstructure:"textfile"`
}

type LoggingConfig struct {
	Level  string        `mapstructure:"level"`
	Format string        `mapstructure:"format"`
	File   FileLogConfig `mapstructure:"file"`
}

type FileLogConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// Engine values.
const (
	EngineCLI = "cli"
	EngineAPI = "api"
)

// Resolver backends.
const (
	BackendSkopeo   = "skopeo"
	BackendRegistry = "registry"
)

// LoadOptions selects where configuration comes from.
type LoadOptions struct {
	// ConfigPath is an explicit config file. Empty searches the default paths.
	ConfigPath string
	// EnvFile is a dotenv file loaded into the environment before reading.
	EnvFile string
}

// Load reads defaults, the config file and PINUP_* environment variables into v
// and returns the validated result.
func Load(v *viper.Viper, opts LoadOptions) (Config, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil {
			return Config{}, fmt.Errorf("failed to load env file %s: %w", opts.EnvFile, err)
		}
	}

	setDefaults(v)
	ConfigureViper(v, opts.ConfigPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("PINUP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	mirrors, err := mirrorsFromRaw(v.Get("mirrors"))
	if err != nil {
		return Config{}, err
	}
	cfg.Mirrors = mirrors

	if cfg.Logging.File.Enabled && cfg.Logging.File.Path == "" {
		cfg.Logging.File.Path = filepath.Join(DefaultStateDir(), "pinup.log")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// ConfigureViper sets up viper with standard config file search paths.
// Config file: pinup.{toml,yaml,json}
// Search paths (in order): /etc/pinup, ~/.config/pinup, current directory
func ConfigureViper(v *viper.Viper, configPath string) {
	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.SetConfigName("pinup")
	v.AddConfigPath("/etc/pinup")
	v.AddConfigPath("$HOME/.config/pinup")
	v.AddConfigPath(".")
}

// DefaultStateDir returns where pinup keeps its log file by default.
func DefaultStateDir() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".local", "state", "pinup")
	}
	return "/var/lib/pinup"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("tool", string(domain.ToolAuto))
	v.SetDefault("engine", EngineCLI)
	v.SetDefault("projects", []string{})
	v.SetDefault("resolver.backend", BackendSkopeo)
	v.SetDefault("resolver.timeout", "60s")
	v.SetDefault("resolver.insecure", false)
	v.SetDefault("resolver.skopeo", "skopeo")
	v.SetDefault("deploy.backup_suffix", ".bak")
	v.SetDefault("deploy.prune", false)
	v.SetDefault("deploy.remove_orphans", true)
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file.enabled", false)
	v.SetDefault("logging.file.path", "")
	v.SetDefault("logging.file.max_size", 10)
	v.SetDefault("logging.file.max_backups", 3)
	v.SetDefault("logging.file.max_age", 28)
	v.SetDefault("logging.file.compress", true)
}

// Validate reports the first invalid setting, wrapped in domain.ErrInvalidConfig.
func (c Config) Validate() error {
	if !domain.ToolKind(c.Tool).Valid() {
		return fmt.Errorf("%w: tool must be one of auto, podman, docker, docker-compose, got %q", domain.ErrInvalidConfig, c.Tool)
	}
	if !slices.Contains([]string{EngineCLI, EngineAPI}, c.Engine) {
		return fmt.Errorf("%w: engine must be cli or api, got %q", domain.ErrInvalidConfig, c.Engine)
	}
	if c.Engine == EngineAPI && c.Tool == string(domain.ToolPodman) {
		return fmt.Errorf("%w: engine api requires a docker tool", domain.ErrInvalidConfig)
	}
	if !slices.Contains([]string{BackendSkopeo, BackendRegistry}, c.Resolver.Backend) {
		return fmt.Errorf("%w: resolver.backend must be skopeo or registry, got %q", domain.ErrInvalidConfig, c.Resolver.Backend)
	}
	if c.Resolver.Timeout <= 0 {
		return fmt.Errorf("%w: resolver.timeout must be positive", domain.ErrInvalidConfig)
	}
	if c.Deploy.BackupSuffix == "" || strings.ContainsRune(c.Deploy.BackupSuffix, filepath.Separator) {
		return fmt.Errorf("%w: deploy.backup_suffix must be a non-empty file suffix", domain.ErrInvalidConfig)
	}
	if !slices.Contains([]string{"console", "json"}, c.Logging.Format) {
		return fmt.Errorf("%w: logging.format must be console or json, got %q", domain.ErrInvalidConfig, c.Logging.Format)
	}
	for host, mirrors := range c.Mirrors {
		for _, m := range mirrors {
			if strings.Contains(m, "://") || strings.Contains(m, "/") {
				return fmt.Errorf("%w: mirror %q for %s must be a host[:port]", domain.ErrInvalidConfig, m, host)
			}
		}
	}
	return nil
}

// MirrorTable returns the normalized mirror table.
func (c Config) MirrorTable() domain.MirrorTable {
	return domain.NewMirrorTable(c.Mirrors)
}

// mirrorsFromRaw reads the mirrors tree. Registry hosts contain dots, which
// viper may have turned into nested maps, so nested keys are joined back.
func mirrorsFromRaw(raw any) (map[string][]string, error) {
	mirrors := make(map[string][]string)
	if raw == nil {
		return mirrors, nil
	}

	tree, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: mirrors must be a mapping of registry to mirror list", domain.ErrInvalidConfig)
	}
	if err := flattenMirrors("", tree, mirrors); err != nil {
		return nil, err
	}
	return mirrors, nil
}

func flattenMirrors(prefix string, tree map[string]any, dst map[string][]string) error {
	for key, value := range tree {
		host := key
		if prefix != "" {
			host = prefix + "." + key
		}

		switch typed := value.(type) {
		case map[string]any:
			if err := flattenMirrors(host, typed, dst); err != nil {
				return err
			}
		case []any:
			for _, item := range typed {
				s, ok := item.(string)
				if !ok {
					return fmt.Errorf("%w: mirrors for %s must be strings", domain.ErrInvalidConfig, host)
				}
				dst[host] = append(dst[host], s)
			}
		case []string:
			dst[host] = append(dst[host], typed...)
		case string:
			for _, s := range strings.Split(typed, ",") {
				if s = strings.TrimSpace(s); s != "" {
					dst[host] = append(dst[host], s)
				}
			}
		default:
			return fmt.Errorf("%w: mirrors for %s must be a list", domain.ErrInvalidConfig, host)
		}
	}
	return nil
}
