package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateRegistry(); err != nil {
		return err
	}
	if err := c.validateWorkers(); err != nil {
		return err
	}
	if err := c.validateStages(); err != nil {
		return err
	}
	if err := c.validateRetention(); err != nil {
		return err
	}
	if err := c.validateTools(); err != nil {
		return err
	}
	if err := c.validateTelemetry(); err != nil {
		return err
	}
	if err := c.validateExport(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateRegistry() error {
	switch c.Registry.Backend {
	case "sqlite", "memory":
		return nil
	default:
		return fmt.Errorf("registry.backend must be sqlite or memory, got %q", c.Registry.Backend)
	}
}

func (c *Config) validateWorkers() error {
	if err := ensurePositiveMap(map[string]int{
		"workers.count":               c.Workers.Count,
		"workers.queue_poll_interval": c.Workers.QueuePollInterval,
	}); err != nil {
		return err
	}
	if c.Workers.HeartbeatInterval <= 0 {
		return errors.New("workers.heartbeat_interval must be positive")
	}
	if c.Workers.HeartbeatTimeout <= 0 {
		return errors.New("workers.heartbeat_timeout must be positive")
	}
	if c.Workers.HeartbeatTimeout <= c.Workers.HeartbeatInterval {
		return errors.New("workers.heartbeat_timeout must be greater than workers.heartbeat_interval")
	}
	return nil
}

func (c *Config) validateStages() error {
	return ensurePositiveMap(map[string]int{
		"stages.default_timeout":      c.Stages.DefaultTimeout,
		"retry.tool_failure_attempts": c.Retry.ToolFailureAttempts,
		"retry.backoff_initial":       c.Retry.BackoffInitial,
		"retry.backoff_max":           c.Retry.BackoffMax,
	})
}

func (c *Config) validateRetention() error {
	return ensurePositiveMap(map[string]int{
		"retention.completed_window_seconds": c.Retention.CompletedWindowSeconds,
		"retention.failed_window_seconds":    c.Retention.FailedWindowSeconds,
		"retention.sweep_interval_seconds":   c.Retention.SweepIntervalSeconds,
	})
}

func (c *Config) validateTools() error {
	tools := map[string]ToolSettings{
		"tools.notation_recognizer": c.Tools.NotationRecognizer,
		"tools.score_converter":     c.Tools.ScoreConverter,
		"tools.instrument_mapper":   c.Tools.InstrumentMapper,
		"tools.synthesizer":         c.Tools.Synthesizer,
		"tools.transcriber":         c.Tools.Transcriber,
		"tools.notation_renderer":   c.Tools.NotationRenderer,
	}
	for key, tool := range tools {
		if strings.TrimSpace(tool.Command) == "" {
			return fmt.Errorf("%s.command must be set", key)
		}
	}
	return nil
}

func (c *Config) validateTelemetry() error {
	if !c.Telemetry.Enabled {
		return nil
	}
	switch c.Telemetry.Exporter {
	case "stdout":
	case "otlp":
		if c.Telemetry.Endpoint == "" {
			return errors.New("telemetry.endpoint must be set when telemetry.exporter is otlp")
		}
	default:
		return fmt.Errorf("telemetry.exporter must be stdout or otlp, got %q", c.Telemetry.Exporter)
	}
	return nil
}

func (c *Config) validateExport() error {
	if !c.Export.Enabled {
		return nil
	}
	if c.Export.Endpoint == "" {
		return errors.New("export.endpoint must be set when export.enabled is true")
	}
	if c.Export.Bucket == "" {
		return errors.New("export.bucket must be set when export.enabled is true")
	}
	if c.Export.AccessKey == "" || c.Export.SecretKey == "" {
		return errors.New("export.access_key and export.secret_key must be set when export.enabled is true (or set QUAVER_EXPORT_ACCESS_KEY / QUAVER_EXPORT_SECRET_KEY)")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
