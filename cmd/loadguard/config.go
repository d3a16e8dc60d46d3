package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/kbukum/loadguard/config"
	"github.com/kbukum/loadguard/resilience"
	"github.com/kbukum/loadguard/validation"
)

// Config is the loadguard command configuration.
type Config struct {
	config.ServiceConfig `yaml:",inline" mapstructure:",squash"`

	Resilience resilience.Config `yaml:"resilience" mapstructure:"resilience"`
	// Priorities maps operation names to priority names. Viper lowercases
	// keys, so operation names are matched in lower case.
	Priorities map[string]string `yaml:"priorities" mapstructure:"priorities"`
	Telemetry  TelemetryConfig   `yaml:"telemetry" mapstructure:"telemetry"`
	Simulation SimulationConfig  `yaml:"simulation" mapstructure:"simulation"`
}

// TelemetryConfig configures OTLP export of traces and metrics.
type TelemetryConfig struct {
	Enabled    bool          `yaml:"enabled" mapstructure:"enabled"`
	Endpoint   string        `yaml:"endpoint" mapstructure:"endpoint"`
	Insecure   bool          `yaml:"insecure" mapstructure:"insecure"`
	SampleRate float64       `yaml:"sample_rate" mapstructure:"sample_rate" validate:"gte=0,lte=1"`
	Interval   time.Duration `yaml:"interval" mapstructure:"interval" validate:"gte=0"`
}

// SimulationConfig shapes the synthetic workload.
type SimulationConfig struct {
	Requests    int     `yaml:"requests" mapstructure:"requests" validate:"gte=1"`
	Workers     int     `yaml:"workers" mapstructure:"workers" validate:"gte=1"`
	FailureRate float64 `yaml:"failure_rate" mapstructure:"failure_rate" validate:"gte=0,lte=1"`
	// NotFoundRate is the share of lookups rejected as not found.
	NotFoundRate float64       `yaml:"not_found_rate" mapstructure:"not_found_rate" validate:"gte=0,lte=1"`
	Latency      time.Duration `yaml:"latency" mapstructure:"latency" validate:"gte=0"`
	// Outage makes every backend call fail for this long, starting once a
	// third of the requests have been issued.
	Outage         time.Duration `yaml:"outage" mapstructure:"outage" validate:"gte=0"`
	Operations     []string      `yaml:"operations" mapstructure:"operations"`
	ReportInterval time.Duration `yaml:"report_interval" mapstructure:"report_interval" validate:"gte=0"`
}

// defaultConfig returns the command defaults with the given resilience preset.
func defaultConfig(preset resilience.Config) Config {
	return Config{
		ServiceConfig: config.ServiceConfig{Name: "loadguard"},
		Resilience:    preset,
		Priorities: map[string]string{
			"checkout": "critical",
			"lookup":   "high",
			"search":   "normal",
			"report":   "low",
			"reindex":  "background",
		},
		Telemetry: TelemetryConfig{
			Endpoint:   "localhost:4318",
			Insecure:   true,
			SampleRate: 1,
			Interval:   15 * time.Second,
		},
		Simulation: SimulationConfig{
			Requests:       200,
			Workers:        20,
			FailureRate:    0.05,
			NotFoundRate:   0.1,
			Latency:        20 * time.Millisecond,
			Outage:         time.Second,
			Operations:     []string{"checkout", "lookup", "search", "report", "reindex"},
			ReportInterval: time.Second,
		},
	}
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	c.ServiceConfig.ApplyDefaults()
	c.Resilience.ApplyDefaults()
	if c.Simulation.Workers <= 0 {
		c.Simulation.Workers = 1
	}
	if len(c.Simulation.Operations) == 0 {
		c.Simulation.Operations = []string{"default"}
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.ServiceConfig.Validate(); err != nil {
		return err
	}
	if err := c.Resilience.Validate(); err != nil {
		return err
	}
	if err := validation.Validate(&c.Telemetry); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	if err := validation.Validate(&c.Simulation); err != nil {
		return fmt.Errorf("simulation: %w", err)
	}

	names := make([]string, len(resilience.Priorities))
	for i, p := range resilience.Priorities {
		names[i] = p.String()
	}
	v := validation.New().
		Min("simulation.operations", len(c.Simulation.Operations), 1).
		// Failures and not-found rejections are drawn from one roll.
		Range("simulation.failure_rate", c.Simulation.FailureRate+c.Simulation.NotFoundRate, 0, 1)
	if c.Telemetry.Enabled {
		v.Required("telemetry.endpoint", c.Telemetry.Endpoint)
	}
	for op, name := range c.Priorities {
		v.Required("priorities."+op, name).
			OneOf("priorities."+op, strings.ToLower(name), names)
	}
	return v.Validate()
}
