package config

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Connectors map[string]ConnectorConfig `yaml:"connectors"`
	Synthesis  SynthesisConfig            `yaml:"synthesis"`
	State      StateConfig                `yaml:"state"`
	Schedule   ScheduleConfig             `yaml:"schedule"`
	Server     ServerConfig               `yaml:"server"`
	Log        LogConfig                  `yaml:"log"`
}

// ConnectorConfig describes one connector. Which fields apply depends on
// Type: api uses API/BaseURL/APIKey/Model/MaxTokens, local uses
// BaseURL/Model, browser uses TargetURL/RemoteURL/Selectors.
type ConnectorConfig struct {
	Type      string          `yaml:"type"`
	Priority  int             `yaml:"priority"`
	API       string          `yaml:"api"`
	BaseURL   string          `yaml:"base_url"`
	APIKey    string          `yaml:"api_key"`
	Model     string          `yaml:"model"`
	MaxTokens int             `yaml:"max_tokens"`
	TargetURL string          `yaml:"target_url"`
	RemoteURL string          `yaml:"remote_url"`
	Selectors SelectorsConfig `yaml:"selectors"`
	Timeout   string          `yaml:"timeout"` // e.g. "90s"
}

type SelectorsConfig struct {
	Input    string `yaml:"input"`
	Submit   string `yaml:"submit"`
	Response string `yaml:"response"`
}

type SynthesisConfig struct {
	AIConnector string `yaml:"ai_connector"`
}

type StateConfig struct {
	Backend         string      `yaml:"backend"` // file | sqlite | postgres | redis
	Dir             string      `yaml:"dir"`
	DSN             string      `yaml:"dsn"`
	Redis           RedisConfig `yaml:"redis"`
	MigrationScript string      `yaml:"migration_script"`
	MaxIdleDays     int         `yaml:"max_idle_days"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type ScheduleConfig struct {
	Jobs []JobConfig `yaml:"jobs"`
}

// JobConfig runs Workflow against Session on the Cron schedule. Input seeds
// template variables before each run.
type JobConfig struct {
	Name     string         `yaml:"name"`
	Cron     string         `yaml:"cron"`
	Workflow string         `yaml:"workflow"`
	Session  string         `yaml:"session"`
	Input    map[string]any `yaml:"input"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"

	DefaultStateDir   = ".hybridflow"
	DefaultServerAddr = ":8080"
)

var envPattern = regexp.MustCompile(`\$\{([^}]+)}`)

func expandEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

func expandEnvInConfig(cfg *Config) {
	for name, c := range cfg.Connectors {
		c.BaseURL = expandEnv(c.BaseURL)
		c.APIKey = expandEnv(c.APIKey)
		c.TargetURL = expandEnv(c.TargetURL)
		c.RemoteURL = expandEnv(c.RemoteURL)
		cfg.Connectors[name] = c
	}
	cfg.State.Dir = expandEnv(cfg.State.Dir)
	cfg.State.DSN = expandEnv(cfg.State.DSN)
	cfg.State.Redis.Addr = expandEnv(cfg.State.Redis.Addr)
	cfg.State.Redis.Password = expandEnv(cfg.State.Redis.Password)
}

func applyDefaults(cfg *Config) {
	if cfg.State.Backend == "" {
		cfg.State.Backend = BackendFile
	}
	if cfg.State.Dir == "" {
		cfg.State.Dir = DefaultStateDir
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = DefaultServerAddr
	}
	for i := range cfg.Schedule.Jobs {
		if cfg.Schedule.Jobs[i].Name == "" {
			cfg.Schedule.Jobs[i].Name = fmt.Sprintf("job-%d", i+1)
		}
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	expandEnvInConfig(&cfg)
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every problem found, joined into one error.
func (c *Config) Validate() error {
	var problems []string
	for _, name := range c.ConnectorNames() {
		conn := c.Connectors[name]
		switch conn.Type {
		case "api", "local", "browser":
		default:
			problems = append(problems, fmt.Sprintf("connector %q: unknown type %q (supported: api, local, browser)", name, conn.Type))
		}
		if conn.Type == "browser" && conn.TargetURL == "" {
			problems = append(problems, fmt.Sprintf("connector %q: browser connectors need target_url", name))
		}
		if conn.Timeout != "" {
			if _, err := time.ParseDuration(conn.Timeout); err != nil {
				problems = append(problems, fmt.Sprintf("connector %q: invalid timeout %q", name, conn.Timeout))
			}
		}
	}
	if ai := c.Synthesis.AIConnector; ai != "" {
		if _, ok := c.Connectors[ai]; !ok {
			problems = append(problems, fmt.Sprintf("synthesis.ai_connector %q is not a configured connector", ai))
		}
	}

	switch c.State.Backend {
	case BackendFile, BackendSQLite:
	case BackendPostgres:
		if c.State.DSN == "" {
			problems = append(problems, "state: postgres backend needs dsn")
		}
	case BackendRedis:
		if c.State.Redis.Addr == "" {
			problems = append(problems, "state: redis backend needs redis.addr")
		}
	default:
		problems = append(problems, fmt.Sprintf("state: unknown backend %q (supported: file, sqlite, postgres, redis)", c.State.Backend))
	}

	for _, job := range c.Schedule.Jobs {
		if job.Cron == "" || job.Workflow == "" {
			problems = append(problems, fmt.Sprintf("schedule job %q: cron and workflow are required", job.Name))
		}
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		problems = append(problems, err.Error())
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

// ConnectorNames returns connector names in a stable order.
func (c *Config) ConnectorNames() []string {
	names := make([]string, 0, len(c.Connectors))
	for name := range c.Connectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TimeoutDuration parses Timeout; empty means zero (connector default).
func (c ConnectorConfig) TimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.Timeout)
	return d
}

// ParseLevel maps debug|info|warn|error to a slog level. Empty is info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("log: unknown level %q", s)
}
