package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jeanpaul/pdbfacts/internal/command"
	"github.com/jeanpaul/pdbfacts/internal/facts"
	"github.com/jeanpaul/pdbfacts/internal/queue"
)

type Config struct {
	ServerURLs     []string      `yaml:"server_urls" mapstructure:"server_urls"`
	CommandPath    string        `yaml:"command_path" mapstructure:"command_path"`
	QueryPath      string        `yaml:"query_path" mapstructure:"query_path"`
	MetricsPath    string        `yaml:"metrics_path" mapstructure:"metrics_path"`
	Producer       string        `yaml:"producer" mapstructure:"producer"`
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`
	Submit         SubmitConfig  `yaml:"submit" mapstructure:"submit"`
	Queue          QueueConfig   `yaml:"queue" mapstructure:"queue"`
	Log            LogConfig     `yaml:"log" mapstructure:"log"`
}

type SubmitConfig struct {
	MaxAttempts   int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	BaseDelay     time.Duration `yaml:"base_delay" mapstructure:"base_delay"`
	MaxDelay      time.Duration `yaml:"max_delay" mapstructure:"max_delay"`
	RetryStatuses []int         `yaml:"retry_statuses" mapstructure:"retry_statuses"`
}

type QueueConfig struct {
	Timeout      time.Duration `yaml:"timeout" mapstructure:"timeout"`
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	MBean        string        `yaml:"mbean" mapstructure:"mbean"`
}

type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

var envVarRe = regexp.MustCompile(`\$([A-Z_][A-Z0-9_]*)`)

func expandEnv(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		name := strings.TrimPrefix(match, "$")
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

func DefaultConfig() *Config {
	policy := command.DefaultRetryPolicy()
	return &Config{
		ServerURLs:     []string{"http://localhost:8080"},
		CommandPath:    command.DefaultPath,
		QueryPath:      facts.DefaultQueryPath,
		MetricsPath:    queue.DefaultMetricsPath,
		Producer:       defaultProducer(),
		RequestTimeout: 30 * time.Second,
		Submit: SubmitConfig{
			MaxAttempts:   policy.MaxAttempts,
			BaseDelay:     policy.BaseDelay,
			MaxDelay:      policy.MaxDelay,
			RetryStatuses: policy.RetryStatuses,
		},
		Queue: QueueConfig{
			Timeout:      60 * time.Second,
			PollInterval: time.Second,
			MBean:        queue.CommandQueueMBean,
		},
		Log: LogConfig{Level: "info", Format: "console"},
	}
}

func defaultProducer() string {
	host, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	return host
}

// Load reads configuration from path, or from the usual search locations
// when path is empty. Environment variables prefixed PDBFACTS_ override
// file values.
func Load(path string) (*Config, error) {
	def := DefaultConfig()
	v := viper.New()

	setDefaults(v, def)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("pdbfacts")
		v.SetConfigType("yaml")

		// Search paths
		v.AddConfigPath(".")
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			v.AddConfigPath(filepath.Join(xdg, "pdbfacts"))
		}
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "pdbfacts"))
		}
	}

	v.SetEnvPrefix("PDBFACTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || path != "" {
			return nil, fmt.Errorf("config: %w", err)
		}
		// Config file not found; use defaults
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	for i, u := range cfg.ServerURLs {
		cfg.ServerURLs[i] = strings.TrimSpace(expandEnv(u))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so environment overrides apply even when
// no config file mentions them.
func setDefaults(v *viper.Viper, c *Config) {
	v.SetDefault("server_urls", c.ServerURLs)
	v.SetDefault("command_path", c.CommandPath)
	v.SetDefault("query_path", c.QueryPath)
	v.SetDefault("metrics_path", c.MetricsPath)
	v.SetDefault("producer", c.Producer)
	v.SetDefault("request_timeout", c.RequestTimeout)
	v.SetDefault("submit.max_attempts", c.Submit.MaxAttempts)
	v.SetDefault("submit.base_delay", c.Submit.BaseDelay)
	v.SetDefault("submit.max_delay", c.Submit.MaxDelay)
	v.SetDefault("submit.retry_statuses", c.Submit.RetryStatuses)
	v.SetDefault("queue.timeout", c.Queue.Timeout)
	v.SetDefault("queue.poll_interval", c.Queue.PollInterval)
	v.SetDefault("queue.mbean", c.Queue.MBean)
	v.SetDefault("log.level", c.Log.Level)
	v.SetDefault("log.format", c.Log.Format)
}

// Validate checks the configuration for errors and fills in zero durations.
func (c *Config) Validate() error {
	if len(c.ServerURLs) == 0 {
		return fmt.Errorf("config: server_urls must list at least one PuppetDB server")
	}
	for _, raw := range c.ServerURLs {
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("config: server url %q: %w", raw, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("config: server url %q must use http or https", raw)
		}
		if u.Host == "" {
			return fmt.Errorf("config: server url %q has no host", raw)
		}
	}
	if c.Submit.MaxAttempts < 1 {
		return fmt.Errorf("config: submit.max_attempts must be at least 1, got %d", c.Submit.MaxAttempts)
	}
	if c.Queue.PollInterval <= 0 {
		return fmt.Errorf("config: queue.poll_interval must be positive")
	}
	switch c.Log.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("config: log.format %q must be console or json", c.Log.Format)
	}

	def := DefaultConfig()
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	if c.Queue.Timeout <= 0 {
		c.Queue.Timeout = def.Queue.Timeout
	}
	if c.Submit.BaseDelay < 0 {
		c.Submit.BaseDelay = 0
	}
	return nil
}

// RetryPolicy converts the submit section for command.Submitter.
func (c *Config) RetryPolicy() command.RetryPolicy {
	return command.RetryPolicy{
		MaxAttempts:   c.Submit.MaxAttempts,
		BaseDelay:     c.Submit.BaseDelay,
		MaxDelay:      c.Submit.MaxDelay,
		RetryStatuses: c.Submit.RetryStatuses,
	}
}
