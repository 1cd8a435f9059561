// Package config provides configuration management for the gathering engine.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the gathering engine.
type Config struct {
	Logging     LoggingConfig     `mapstructure:"logging"`
	NATS        NATSConfig        `mapstructure:"nats"`
	Events      EventsConfig      `mapstructure:"events"`
	Facilitator FacilitatorConfig `mapstructure:"facilitator"`
	Circle      CircleConfig      `mapstructure:"circle"`
	Executor    ExecutorConfig    `mapstructure:"executor"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// NATSConfig holds optional NATS relay configuration. When URL is empty the
// engine never touches the network; events stay in-process.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// EventsConfig holds event bus configuration.
type EventsConfig struct {
	// HistorySize is the number of recent events, of all kinds together, retained in the bus's ring buffer.
	HistorySize int `mapstructure:"historySize"`
	// RelayNamespace prefixes subjects published to the optional NATS relay.
	RelayNamespace string `mapstructure:"relayNamespace"`
}

// FacilitatorConfig holds routing and workload configuration.
type FacilitatorConfig struct {
	// MaxWorkload is the workload at which an agent's availability score reaches zero.
	MaxWorkload int `mapstructure:"maxWorkload"`
}

// CircleConfig holds default policy for newly created circles.
type CircleConfig struct {
	RequireReview   bool          `mapstructure:"requireReview"`
	AutoRoute       bool          `mapstructure:"autoRoute"`
	MaxIterations   int           `mapstructure:"maxIterations"`
	StopGracePeriod time.Duration `mapstructure:"stopGracePeriod"`
	TurnTimeout     time.Duration `mapstructure:"turnTimeout"`
}

// ExecutorConfig holds background-executor pool and checkpoint defaults.
type ExecutorConfig struct {
	MaxConcurrent       int           `mapstructure:"maxConcurrent"`
	CheckpointInterval  int           `mapstructure:"checkpointInterval"`
	DefaultTimeout      time.Duration `mapstructure:"defaultTimeout"`
	StepBackoff         time.Duration `mapstructure:"stepBackoff"`
	ShutdownGracePeriod time.Duration `mapstructure:"shutdownGracePeriod"`
}

// SchedulerConfig holds clock-loop and retry policy defaults.
type SchedulerConfig struct {
	TickInterval       time.Duration `mapstructure:"tickInterval"`
	DefaultRetryLimit  int           `mapstructure:"defaultRetryLimit"`
	DefaultRetryDelay  time.Duration `mapstructure:"defaultRetryDelay"`
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix GATHERING_ followed by the upper-cased key path with
// dots replaced by underscores (e.g. GATHERING_EXECUTOR_MAXCONCURRENT).
// Config file should be named config.yaml and placed in the current directory or /etc/gathering/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("GATHERING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/gathering/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.outputPath", "stdout")

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "gathering")
	v.SetDefault("nats.maxReconnects", 10)

	v.SetDefault("events.historySize", 1024)
	v.SetDefault("events.relayNamespace", "gathering")

	v.SetDefault("facilitator.maxWorkload", 5)

	v.SetDefault("circle.requireReview", true)
	v.SetDefault("circle.autoRoute", true)
	v.SetDefault("circle.maxIterations", 3)
	v.SetDefault("circle.stopGracePeriod", 30*time.Second)
	v.SetDefault("circle.turnTimeout", 60*time.Second)

	v.SetDefault("executor.maxConcurrent", 8)
	v.SetDefault("executor.checkpointInterval", 5)
	v.SetDefault("executor.defaultTimeout", 30*time.Minute)
	v.SetDefault("executor.stepBackoff", 200*time.Millisecond)
	v.SetDefault("executor.shutdownGracePeriod", 30*time.Second)

	v.SetDefault("scheduler.tickInterval", 5*time.Second)
	v.SetDefault("scheduler.defaultRetryLimit", 3)
	v.SetDefault("scheduler.defaultRetryDelay", 30*time.Second)
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Facilitator.MaxWorkload <= 0 {
		errs = append(errs, "facilitator.maxWorkload must be > 0")
	}
	if cfg.Circle.MaxIterations <= 0 {
		errs = append(errs, "circle.maxIterations must be > 0")
	}
	if cfg.Executor.MaxConcurrent <= 0 {
		errs = append(errs, "executor.maxConcurrent must be > 0")
	}
	if cfg.Scheduler.TickInterval <= 0 {
		errs = append(errs, "scheduler.tickInterval must be > 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}
