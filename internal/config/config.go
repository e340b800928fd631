package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	ArtifactsDir string `toml:"artifacts_dir"`
	StateDir     string `toml:"state_dir"`
	LogDir       string `toml:"log_dir"`
	APIBind      string `toml:"api_bind"`
	APIToken     string `toml:"api_token"`
}

// Registry selects the job registry backend.
type Registry struct {
	Backend string `toml:"backend"`
}

// Workers contains worker pool and scheduling configuration.
type Workers struct {
	Count             int `toml:"count"`
	QueuePollInterval int `toml:"queue_poll_interval"`
	HeartbeatInterval int `toml:"heartbeat_interval"`
	HeartbeatTimeout  int `toml:"heartbeat_timeout"`
}

// Stages contains stage execution defaults.
type Stages struct {
	DefaultTimeout int `toml:"default_timeout"`
}

// Retry contains the retry policy knobs for transient stage failures.
type Retry struct {
	ToolFailureAttempts int `toml:"tool_failure_attempts"`
	BackoffInitial      int `toml:"backoff_initial"`
	BackoffMax          int `toml:"backoff_max"`
}

// Retention controls how long terminal jobs and their artifacts are kept.
type Retention struct {
	CompletedWindowSeconds int  `toml:"completed_window_seconds"`
	FailedWindowSeconds    int  `toml:"failed_window_seconds"`
	SweepIntervalSeconds   int  `toml:"sweep_interval_seconds"`
	KeepIntermediates      bool `toml:"keep_intermediates"`
}

// ToolSettings configures one external tool binding.
type ToolSettings struct {
	Command       string   `toml:"command"`
	ExtraArgs     []string `toml:"extra_args"`
	Timeout       int      `toml:"timeout"`
	RetryAttempts int      `toml:"retry_attempts"`
}

// Tools configures the six external collaborators the pipelines invoke.
type Tools struct {
	NotationRecognizer ToolSettings `toml:"notation_recognizer"`
	ScoreConverter     ToolSettings `toml:"score_converter"`
	InstrumentMapper   ToolSettings `toml:"instrument_mapper"`
	Synthesizer        ToolSettings `toml:"synthesizer"`
	Transcriber        ToolSettings `toml:"transcriber"`
	NotationRenderer   ToolSettings `toml:"notation_renderer"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Metrics controls the Prometheus endpoint.
type Metrics struct {
	Enabled bool `toml:"enabled"`
}

// Telemetry controls OpenTelemetry trace export.
type Telemetry struct {
	Enabled     bool    `toml:"enabled"`
	Exporter    string  `toml:"exporter"`
	Endpoint    string  `toml:"endpoint"`
	SampleRatio float64 `toml:"sample_ratio"`
}

// Notifications contains push notification and event bus settings.
type Notifications struct {
	NtfyTopic         string `toml:"ntfy_topic"`
	NtfyToken         string `toml:"ntfy_token"`
	RequestTimeout    int    `toml:"request_timeout"`
	NATSURL           string `toml:"nats_url"`
	NATSSubjectPrefix string `toml:"nats_subject_prefix"`
	Queued            bool   `toml:"queued"`
	Completed         bool   `toml:"completed"`
	Failed            bool   `toml:"failed"`
	Cancelled         bool   `toml:"cancelled"`
}

// Export configures optional upload of final artifacts to object storage.
type Export struct {
	Enabled   bool   `toml:"enabled"`
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Bucket    string `toml:"bucket"`
	Prefix    string `toml:"prefix"`
	UseSSL    bool   `toml:"use_ssl"`
}

// Config encapsulates all configuration values for quaver.
//
// Configuration sections by subsystem:
//   - Paths: directories and API bind address
//   - Registry: job registry backend selection
//   - Workers: pool size, polling, and heartbeat cadence
//   - Stages: stage execution defaults
//   - Retry: transient failure retry policy
//   - Retention: terminal job and artifact lifetimes
//   - Tools: external tool commands per pipeline stage
//   - Logging: log format and level
//   - Metrics: Prometheus endpoint toggle
//   - Telemetry: OpenTelemetry trace export
//   - Notifications: ntfy push and NATS event publishing
//   - Export: object storage upload of final artifacts
type Config struct {
	Paths         Paths         `toml:"paths"`
	Registry      Registry      `toml:"registry"`
	Workers       Workers       `toml:"workers"`
	Stages        Stages        `toml:"stages"`
	Retry         Retry         `toml:"retry"`
	Retention     Retention     `toml:"retention"`
	Tools         Tools         `toml:"tools"`
	Logging       Logging       `toml:"logging"`
	Metrics       Metrics       `toml:"metrics"`
	Telemetry     Telemetry     `toml:"telemetry"`
	Notifications Notifications `toml:"notifications"`
	Export        Export        `toml:"export"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/quaver/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized. The second and third
// return values report the resolved path and whether a file existed there.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("quaver.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.ArtifactsDir, c.Paths.StateDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite registry location inside the state dir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.StateDir, "quaver.db")
}

// LockPath returns the daemon lock file location inside the state dir.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "quaverd.lock")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
