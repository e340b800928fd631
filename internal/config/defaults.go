package config

const (
	defaultArtifactsDir  = "~/.local/share/quaver/artifacts"
	defaultStateDir      = "~/.local/share/quaver"
	defaultLogDir        = "~/.local/share/quaver/logs"
	defaultAPIBind       = "127.0.0.1:7607"
	defaultLogFormat     = "console"
	defaultLogLevel      = "info"
	defaultBackend       = "sqlite"
	defaultWorkerCount   = 2
	defaultPollInterval  = 2
	defaultHeartbeatInt  = 15
	defaultHeartbeatLate = 120

	defaultStageTimeout        = 120
	defaultToolFailureAttempts = 3
	defaultBackoffInitial      = 2
	defaultBackoffMax          = 30

	defaultCompletedWindowSeconds = 86400
	defaultFailedWindowSeconds    = 21600
	defaultSweepIntervalSeconds   = 900

	defaultNotifyRequestTimeout = 10
	defaultNATSSubjectPrefix    = "quaver.jobs"
	defaultTelemetryExporter    = "stdout"
	defaultTelemetrySampleRatio = 1.0

	defaultRecognizerCommand  = "audiveris"
	defaultScoreConvCommand   = "mscore"
	defaultMapperCommand      = "quaver-remap"
	defaultSynthesizerCommand = "fluidsynth"
	defaultTranscriberCommand = "basic-pitch"
	defaultRendererCommand    = "lilypond"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			ArtifactsDir: defaultArtifactsDir,
			StateDir:     defaultStateDir,
			LogDir:       defaultLogDir,
			APIBind:      defaultAPIBind,
		},
		Registry: Registry{
			Backend: defaultBackend,
		},
		Workers: Workers{
			Count:             defaultWorkerCount,
			QueuePollInterval: defaultPollInterval,
			HeartbeatInterval: defaultHeartbeatInt,
			HeartbeatTimeout:  defaultHeartbeatLate,
		},
		Stages: Stages{
			DefaultTimeout: defaultStageTimeout,
		},
		Retry: Retry{
			ToolFailureAttempts: defaultToolFailureAttempts,
			BackoffInitial:      defaultBackoffInitial,
			BackoffMax:          defaultBackoffMax,
		},
		Retention: Retention{
			CompletedWindowSeconds: defaultCompletedWindowSeconds,
			FailedWindowSeconds:    defaultFailedWindowSeconds,
			SweepIntervalSeconds:   defaultSweepIntervalSeconds,
		},
		Tools: Tools{
			NotationRecognizer: ToolSettings{Command: defaultRecognizerCommand},
			ScoreConverter:     ToolSettings{Command: defaultScoreConvCommand},
			InstrumentMapper:   ToolSettings{Command: defaultMapperCommand},
			Synthesizer:        ToolSettings{Command: defaultSynthesizerCommand},
			Transcriber:        ToolSettings{Command: defaultTranscriberCommand},
			NotationRenderer:   ToolSettings{Command: defaultRendererCommand},
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Metrics: Metrics{
			Enabled: true,
		},
		Telemetry: Telemetry{
			Exporter:    defaultTelemetryExporter,
			SampleRatio: defaultTelemetrySampleRatio,
		},
		Notifications: Notifications{
			RequestTimeout:    defaultNotifyRequestTimeout,
			NATSSubjectPrefix: defaultNATSSubjectPrefix,
			Queued:            true,
			Completed:         true,
			Failed:            true,
			Cancelled:         true,
		},
	}
}
