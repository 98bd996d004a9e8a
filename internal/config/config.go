package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"db_respawn/internal/db"
	"db_respawn/internal/graph"
)

const (
	configName = "respawn"
	configType = "yaml"
	envPrefix  = "RESPAWN"
)

var (
	ErrTargetName      = errors.New("target name is required")
	ErrDuplicateTarget = errors.New("duplicate target name")
	ErrProvider        = errors.New("unsupported provider")
	ErrMissingDSN      = errors.New("target dsn is required (dsn or dsn_env)")
	ErrSchedule        = errors.New("invalid schedule")
	ErrParallelism     = errors.New("parallelism must be at least 1")
	ErrCommandTimeout  = errors.New("command_timeout must not be negative")
)

// DefaultYAML is written by init-config.
const DefaultYAML = `# respawn configuration
log_level: info
log_format: json
http_address: ":8080"
# Required as a bearer token by the API. RESPAWN_API_TOKEN overrides it.
# api_token: change-me
plan_dir: ./plans
parallelism: 4

targets:
  - name: app_test
    provider: postgres
    # dsn may be given inline; dsn_env names an environment variable instead.
    dsn_env: APP_TEST_DSN
    tables_to_ignore:
      - public.schema_migrations
    schemas_to_exclude: []
    with_reseed: false
    check_temporal_tables: false
    command_timeout: 30s
    # schedule: "@every 1h"
`

type Config struct {
	LogLevel    string   `mapstructure:"log_level"`
	LogFormat   string   `mapstructure:"log_format"`
	HTTPAddress string   `mapstructure:"http_address"`
	APIToken    string   `mapstructure:"api_token"`
	PlanDir     string   `mapstructure:"plan_dir"`
	Parallelism int      `mapstructure:"parallelism"`
	Targets     []Target `mapstructure:"targets"`
}

// Target is one database that can be reset.
type Target struct {
	Name                string        `mapstructure:"name"`
	Provider            string        `mapstructure:"provider"`
	DSN                 string        `mapstructure:"dsn"`
	DSNEnv              string        `mapstructure:"dsn_env"`
	TablesToIgnore      []string      `mapstructure:"tables_to_ignore"`
	TablesToInclude     []string      `mapstructure:"tables_to_include"`
	SchemasToInclude    []string      `mapstructure:"schemas_to_include"`
	SchemasToExclude    []string      `mapstructure:"schemas_to_exclude"`
	WithReseed          bool          `mapstructure:"with_reseed"`
	CheckTemporalTables bool          `mapstructure:"check_temporal_tables"`
	CommandTimeout      time.Duration `mapstructure:"command_timeout"`
	Schedule            string        `mapstructure:"schedule"`
}

// Load reads the configuration file at path, or respawn.yaml in the working
// directory when path is empty. Top-level keys can be overridden with
// RESPAWN_<KEY> environment variables.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("http_address", ":8080")
	v.SetDefault("api_token", "")
	v.SetDefault("plan_dir", "./plans")
	v.SetDefault("parallelism", 4)
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType(configType)
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	for i := range cfg.Targets {
		t := &cfg.Targets[i]
		if t.DSN == "" && t.DSNEnv != "" {
			t.DSN = os.Getenv(t.DSNEnv)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Parallelism < 1 {
		return ErrParallelism
	}
	seen := make(map[string]struct{}, len(c.Targets))
	for _, t := range c.Targets {
		if strings.TrimSpace(t.Name) == "" {
			return ErrTargetName
		}
		if _, ok := seen[t.Name]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateTarget, t.Name)
		}
		seen[t.Name] = struct{}{}

		if _, err := db.ForProvider(t.Provider); err != nil {
			return fmt.Errorf("%w: target %s: %q", ErrProvider, t.Name, t.Provider)
		}
		if t.DSN == "" {
			return fmt.Errorf("%w: target %s", ErrMissingDSN, t.Name)
		}
		if t.CommandTimeout < 0 {
			return fmt.Errorf("%w: target %s", ErrCommandTimeout, t.Name)
		}
		if t.Schedule != "" {
			if _, err := cron.ParseStandard(t.Schedule); err != nil {
				return fmt.Errorf("%w: target %s: %v", ErrSchedule, t.Name, err)
			}
		}
	}
	return nil
}

// Target returns the target called name.
func (c Config) Target(name string) (Target, bool) {
	for _, t := range c.Targets {
		if t.Name == name {
			return t, true
		}
	}
	return Target{}, false
}

// TargetNames lists the configured targets in file order.
func (c Config) TargetNames() []string {
	out := make([]string, 0, len(c.Targets))
	for _, t := range c.Targets {
		out = append(out, t.Name)
	}
	return out
}

// Filter converts the target's table and schema lists.
func (t Target) Filter() db.Filter {
	return db.Filter{
		TablesToInclude:  parseTables(t.TablesToInclude),
		TablesToIgnore:   parseTables(t.TablesToIgnore),
		SchemasToInclude: t.SchemasToInclude,
		SchemasToExclude: t.SchemasToExclude,
	}
}

func parseTables(in []string) []graph.Table {
	if len(in) == 0 {
		return nil
	}
	out := make([]graph.Table, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, graph.ParseTable(s))
		}
	}
	return out
}

// WriteDefault writes DefaultYAML to path unless the file exists.
func WriteDefault(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(DefaultYAML); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
