package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the incident engine.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Classify  ClassifyConfig  `yaml:"classify"`
	Registry  RegistryConfig  `yaml:"registry"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Patterns  PatternsConfig  `yaml:"patterns"`
	Resolver  ResolverConfig  `yaml:"resolver"`
	Monitors  MonitorsConfig  `yaml:"monitors"`
	Directory DirectoryConfig `yaml:"directory"`
	Reports   ReportsConfig   `yaml:"reports"`
}

// ServerConfig controls the HTTP listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// ClassifyConfig controls rule-pack loading for the pattern matcher.
type ClassifyConfig struct {
	RulePackPath string `yaml:"rulePackPath"`
}

// RegistryConfig controls incident registry behaviour.
type RegistryConfig struct {
	DuplicateWindow  time.Duration `yaml:"duplicateWindow"`
	DispatchInterval time.Duration `yaml:"dispatchInterval"`
	HistoryLimit     int           `yaml:"historyLimit"`
}

// PipelineConfig controls stage executor policy.
type PipelineConfig struct {
	// AutomationWindowStart/End bound the hours (0-23, local time) during
	// which non-critical incidents may be remediated automatically. A zero
	// window means automation is always on.
	AutomationWindowStart int `yaml:"automationWindowStart"`
	AutomationWindowEnd   int `yaml:"automationWindowEnd"`
}

// PatternsConfig bounds the error-pattern store and sets auto-resolution
// thresholds.
type PatternsConfig struct {
	Capacity           int           `yaml:"capacity"`
	TTL                time.Duration `yaml:"ttl"`
	AutoResolveMinSeen int           `yaml:"autoResolveMinSeen"`
	AutoResolveMinRate float64       `yaml:"autoResolveMinRate"`
}

// ResolverConfig controls the auto-resolution sweep.
type ResolverConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// MonitorsConfig groups the independent signal producers.
type MonitorsConfig struct {
	LogScan     LogScanConfig     `yaml:"logScan"`
	HealthProbe HealthProbeConfig `yaml:"healthProbe"`
	Queue       QueueConfig       `yaml:"queue"`
}

// LogSource names one log file watched by the log-scan monitor.
type LogSource struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

// LogScanConfig controls the log-scan monitor.
type LogScanConfig struct {
	Sources      []LogSource   `yaml:"sources"`
	PollInterval time.Duration `yaml:"pollInterval"`
}

// ProbeTarget names one HTTP endpoint probed by the health monitor.
type ProbeTarget struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// HealthProbeConfig controls the health-probe monitor.
type HealthProbeConfig struct {
	Targets          []ProbeTarget `yaml:"targets"`
	Interval         time.Duration `yaml:"interval"`
	Timeout          time.Duration `yaml:"timeout"`
	LatencyThreshold time.Duration `yaml:"latencyThreshold"`
}

// QueueConfig controls the queue-drainer monitor.
type QueueConfig struct {
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batchSize"`
}

// DirectoryConfig configures access to the agent directory service.
type DirectoryConfig struct {
	BaseURL    string        `yaml:"baseURL"`
	AgentsPath string        `yaml:"agentsPath"`
	Timeout    time.Duration `yaml:"timeout"`
}

// ReportsConfig controls escalation notification and report persistence.
type ReportsConfig struct {
	Dir           string        `yaml:"dir"`
	InMemory      bool          `yaml:"inMemory"`
	RetryInterval time.Duration `yaml:"retryInterval"`
	MaxAttempts   int           `yaml:"maxAttempts"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("MIRADOR_IR_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8090",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Registry: RegistryConfig{
			DuplicateWindow:  5 * time.Minute,
			DispatchInterval: 10 * time.Second,
			HistoryLimit:     1024,
		},
		Patterns: PatternsConfig{
			Capacity:           4096,
			TTL:                30 * 24 * time.Hour,
			AutoResolveMinSeen: 5,
			AutoResolveMinRate: 0.9,
		},
		Resolver: ResolverConfig{Interval: 30 * time.Second},
		Monitors: MonitorsConfig{
			LogScan: LogScanConfig{PollInterval: 15 * time.Second},
			HealthProbe: HealthProbeConfig{
				Interval:         30 * time.Second,
				Timeout:          5 * time.Second,
				LatencyThreshold: 2 * time.Second,
			},
			Queue: QueueConfig{Interval: 10 * time.Second, BatchSize: 32},
		},
		Directory: DirectoryConfig{
			AgentsPath: "/api/v1/agents",
			Timeout:    5 * time.Second,
		},
		Reports: ReportsConfig{
			Dir:           "data/reports",
			RetryInterval: 5 * time.Second,
			MaxAttempts:   5,
		},
	}
}

func validate(cfg *Config) error {
	if cfg.Registry.DuplicateWindow <= 0 {
		return fmt.Errorf("registry.duplicateWindow must be positive")
	}
	if cfg.Monitors.HealthProbe.Timeout <= 0 {
		return fmt.Errorf("monitors.healthProbe.timeout must be positive")
	}
	if cfg.Patterns.AutoResolveMinRate < 0 || cfg.Patterns.AutoResolveMinRate > 1 {
		return fmt.Errorf("patterns.autoResolveMinRate must be in [0,1]")
	}
	if cfg.Pipeline.AutomationWindowStart < 0 || cfg.Pipeline.AutomationWindowStart > 23 ||
		cfg.Pipeline.AutomationWindowEnd < 0 || cfg.Pipeline.AutomationWindowEnd > 23 {
		return fmt.Errorf("pipeline automation window hours must be in [0,23]")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MIRADOR_IR_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("MIRADOR_IR_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("MIRADOR_IR_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MIRADOR_IR_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("MIRADOR_IR_RULE_PACK"); v != "" {
		cfg.Classify.RulePackPath = v
	}
	if v := os.Getenv("MIRADOR_IR_DIRECTORY_URL"); v != "" {
		cfg.Directory.BaseURL = v
	}
	if v := os.Getenv("MIRADOR_IR_REPORTS_DIR"); v != "" {
		cfg.Reports.Dir = v
	}
	if v := os.Getenv("MIRADOR_IR_DUPLICATE_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Registry.DuplicateWindow = d
		}
	}
	if v := os.Getenv("MIRADOR_IR_RESOLVER_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Resolver.Interval = d
		}
	}
	if v := os.Getenv("MIRADOR_IR_PROBE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Monitors.HealthProbe.Timeout = d
		}
	}
	if v := os.Getenv("MIRADOR_IR_PATTERN_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Patterns.Capacity = n
		}
	}
	if v := os.Getenv("MIRADOR_IR_REPORTS_IN_MEMORY"); strings.EqualFold(v, "true") || v == "1" {
		cfg.Reports.InMemory = true
	}
}
