package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeRegistry()
	c.normalizeWorkers()
	c.normalizeStages()
	c.normalizeRetention()
	c.normalizeTools()
	c.normalizeNotifications()
	c.normalizeTelemetry()
	c.normalizeExport()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.ArtifactsDir, err = expandPath(c.Paths.ArtifactsDir); err != nil {
		return fmt.Errorf("paths.artifacts_dir: %w", err)
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("QUAVER_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeRegistry() {
	c.Registry.Backend = strings.ToLower(strings.TrimSpace(c.Registry.Backend))
	if c.Registry.Backend == "" {
		c.Registry.Backend = defaultBackend
	}
}

func (c *Config) normalizeWorkers() {
	if c.Workers.Count <= 0 {
		c.Workers.Count = defaultWorkerCount
	}
	if c.Workers.QueuePollInterval <= 0 {
		c.Workers.QueuePollInterval = defaultPollInterval
	}
	if c.Workers.HeartbeatInterval <= 0 {
		c.Workers.HeartbeatInterval = defaultHeartbeatInt
	}
	if c.Workers.HeartbeatTimeout <= 0 {
		c.Workers.HeartbeatTimeout = defaultHeartbeatLate
	}
}

func (c *Config) normalizeStages() {
	if c.Stages.DefaultTimeout <= 0 {
		c.Stages.DefaultTimeout = defaultStageTimeout
	}
	if c.Retry.ToolFailureAttempts <= 0 {
		c.Retry.ToolFailureAttempts = defaultToolFailureAttempts
	}
	if c.Retry.BackoffInitial <= 0 {
		c.Retry.BackoffInitial = defaultBackoffInitial
	}
	if c.Retry.BackoffMax <= 0 {
		c.Retry.BackoffMax = defaultBackoffMax
	}
}

func (c *Config) normalizeRetention() {
	if c.Retention.CompletedWindowSeconds <= 0 {
		c.Retention.CompletedWindowSeconds = defaultCompletedWindowSeconds
	}
	if c.Retention.FailedWindowSeconds <= 0 {
		c.Retention.FailedWindowSeconds = defaultFailedWindowSeconds
	}
	if c.Retention.SweepIntervalSeconds <= 0 {
		c.Retention.SweepIntervalSeconds = defaultSweepIntervalSeconds
	}
}

func (c *Config) normalizeTools() {
	normalizeTool(&c.Tools.NotationRecognizer, defaultRecognizerCommand)
	normalizeTool(&c.Tools.ScoreConverter, defaultScoreConvCommand)
	normalizeTool(&c.Tools.InstrumentMapper, defaultMapperCommand)
	normalizeTool(&c.Tools.Synthesizer, defaultSynthesizerCommand)
	normalizeTool(&c.Tools.Transcriber, defaultTranscriberCommand)
	normalizeTool(&c.Tools.NotationRenderer, defaultRendererCommand)
}

func normalizeTool(tool *ToolSettings, fallback string) {
	tool.Command = strings.TrimSpace(tool.Command)
	if tool.Command == "" {
		tool.Command = fallback
	}
	if tool.Timeout < 0 {
		tool.Timeout = 0
	}
	if tool.RetryAttempts < 0 {
		tool.RetryAttempts = 0
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	c.Notifications.NtfyToken = strings.TrimSpace(c.Notifications.NtfyToken)
	if c.Notifications.NtfyToken == "" {
		if value, ok := os.LookupEnv("QUAVER_NTFY_TOKEN"); ok {
			c.Notifications.NtfyToken = strings.TrimSpace(value)
		}
	}
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
	c.Notifications.NATSURL = strings.TrimSpace(c.Notifications.NATSURL)
	c.Notifications.NATSSubjectPrefix = strings.TrimSpace(c.Notifications.NATSSubjectPrefix)
	if c.Notifications.NATSSubjectPrefix == "" {
		c.Notifications.NATSSubjectPrefix = defaultNATSSubjectPrefix
	}
}

func (c *Config) normalizeTelemetry() {
	c.Telemetry.Exporter = strings.ToLower(strings.TrimSpace(c.Telemetry.Exporter))
	if c.Telemetry.Exporter == "" {
		c.Telemetry.Exporter = defaultTelemetryExporter
	}
	c.Telemetry.Endpoint = strings.TrimSpace(c.Telemetry.Endpoint)
	if c.Telemetry.SampleRatio <= 0 || c.Telemetry.SampleRatio > 1 {
		c.Telemetry.SampleRatio = defaultTelemetrySampleRatio
	}
}

func (c *Config) normalizeExport() {
	c.Export.Endpoint = strings.TrimSpace(c.Export.Endpoint)
	c.Export.Bucket = strings.TrimSpace(c.Export.Bucket)
	c.Export.Prefix = strings.Trim(strings.TrimSpace(c.Export.Prefix), "/")
	c.Export.AccessKey = strings.TrimSpace(c.Export.AccessKey)
	if c.Export.AccessKey == "" {
		if value, ok := os.LookupEnv("QUAVER_EXPORT_ACCESS_KEY"); ok {
			c.Export.AccessKey = strings.TrimSpace(value)
		}
	}
	c.Export.SecretKey = strings.TrimSpace(c.Export.SecretKey)
	if c.Export.SecretKey == "" {
		if value, ok := os.LookupEnv("QUAVER_EXPORT_SECRET_KEY"); ok {
			c.Export.SecretKey = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
