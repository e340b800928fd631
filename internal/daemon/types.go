package daemon

import (
	"time"

	"quaver/internal/artifacts"
	"quaver/internal/queue"
)

// SubmitJobRequest is the body of POST /api/v1/jobs. The source path must
// be readable by the daemon; the file is copied into the job's namespace
// before the request returns.
type SubmitJobRequest struct {
	Kind       string            `json:"kind"`
	SourcePath string            `json:"source_path"`
	Options    map[string]string `json:"options,omitempty"`
}

// ArtifactView is the wire form of a published artifact reference.
type ArtifactView struct {
	Kind        string `json:"kind"`
	Path        string `json:"path"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
}

// StageErrorView is the wire form of a stage failure.
type StageErrorView struct {
	Kind     string `json:"kind"`
	Message  string `json:"message"`
	Attempts int    `json:"attempts"`
}

// StageView is the wire form of one stage record.
type StageView struct {
	Name       string          `json:"name"`
	Tool       string          `json:"tool"`
	Status     string          `json:"status"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	Artifact   *ArtifactView   `json:"artifact,omitempty"`
	Error      *StageErrorView `json:"error,omitempty"`
}

// JobView is the wire form of a job snapshot.
type JobView struct {
	ID              string            `json:"id"`
	Kind            string            `json:"kind"`
	Status          string            `json:"status"`
	Options         map[string]string `json:"options,omitempty"`
	SourcePath      string            `json:"source_path"`
	Stages          []StageView       `json:"stages"`
	ActiveStage     string            `json:"active_stage,omitempty"`
	Error           string            `json:"error,omitempty"`
	ResultAvailable bool              `json:"result_available"`
	CancelRequested bool              `json:"cancel_requested,omitempty"`
	ClaimedBy       string            `json:"claimed_by,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	FinishedAt      *time.Time        `json:"finished_at,omitempty"`
}

// JobListResponse wraps GET /api/v1/jobs.
type JobListResponse struct {
	Jobs []JobView `json:"jobs"`
}

// QueueCountsView summarizes job counts per lifecycle status.
type QueueCountsView struct {
	Total     int `json:"total"`
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// DatabaseHealthView is the wire form of registry diagnostics.
type DatabaseHealthView struct {
	Backend        string `json:"backend"`
	Path           string `json:"path,omitempty"`
	Exists         bool   `json:"exists"`
	Readable       bool   `json:"readable"`
	SchemaVersion  string `json:"schema_version,omitempty"`
	IntegrityCheck bool   `json:"integrity_check"`
	TotalJobs      int    `json:"total_jobs"`
	Error          string `json:"error,omitempty"`
}

// DiskView is the wire form of artifact disk statistics.
type DiskView struct {
	Namespaces int     `json:"namespaces"`
	UsedBytes  int64   `json:"used_bytes"`
	FreeBytes  uint64  `json:"free_bytes"`
	FreeRatio  float64 `json:"free_ratio"`
}

// ToolHealthView is the wire form of one tool's readiness probe.
type ToolHealthView struct {
	Tool   string `json:"tool"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// HealthResponse is the body of GET /api/v1/health.
type HealthResponse struct {
	Healthy  bool               `json:"healthy"`
	Running  bool               `json:"running"`
	PID      int                `json:"pid"`
	Workers  int                `json:"workers"`
	Queue    QueueCountsView    `json:"queue"`
	Database DatabaseHealthView `json:"database"`
	Disk     DiskView           `json:"disk"`
	Tools    []ToolHealthView   `json:"tools"`
	Problems []string           `json:"problems,omitempty"`
}

// ErrorResponse is the JSON envelope for every non-2xx API response. Kind
// carries the service error taxonomy so clients can rebuild typed errors.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// JobFromQueue converts a registry job into its wire form.
func JobFromQueue(job *queue.Job) JobView {
	view := JobView{
		ID:              job.ID,
		Kind:            string(job.Kind),
		Status:          string(job.Status),
		Options:         job.Options,
		SourcePath:      job.SourcePath,
		Stages:          make([]StageView, len(job.Stages)),
		ActiveStage:     job.ActiveStageName(),
		Error:           job.FailureMessage(),
		ResultAvailable: job.FinalArtifact() != nil,
		CancelRequested: job.CancelRequested,
		ClaimedBy:       job.ClaimedBy,
		CreatedAt:       job.CreatedAt,
		UpdatedAt:       job.UpdatedAt,
		FinishedAt:      job.FinishedAt,
	}
	for i, stage := range job.Stages {
		sv := StageView{
			Name:       stage.Name,
			Tool:       stage.Tool,
			Status:     string(stage.Status),
			StartedAt:  stage.StartedAt,
			FinishedAt: stage.FinishedAt,
		}
		if stage.Artifact != nil {
			ref := ArtifactView(*stage.Artifact)
			sv.Artifact = &ref
		}
		if stage.Error != nil {
			se := StageErrorView(*stage.Error)
			sv.Error = &se
		}
		view.Stages[i] = sv
	}
	return view
}

func queueCountsView(summary queue.HealthSummary) QueueCountsView {
	return QueueCountsView{
		Total:     summary.Total,
		Queued:    summary.Queued,
		Running:   summary.Running,
		Completed: summary.Completed,
		Failed:    summary.Failed,
		Cancelled: summary.Cancelled,
	}
}

func databaseView(db queue.DatabaseHealth) DatabaseHealthView {
	return DatabaseHealthView{
		Backend:        db.Backend,
		Path:           db.DBPath,
		Exists:         db.DatabaseExists,
		Readable:       db.DatabaseReadable,
		SchemaVersion:  db.SchemaVersion,
		IntegrityCheck: db.IntegrityCheck,
		TotalJobs:      db.TotalJobs,
		Error:          db.Error,
	}
}

func diskView(stats artifacts.DiskStats) DiskView {
	return DiskView{
		Namespaces: stats.Namespaces,
		UsedBytes:  stats.TotalBytes,
		FreeBytes:  stats.FreeBytes,
		FreeRatio:  stats.FreeRatio,
	}
}
