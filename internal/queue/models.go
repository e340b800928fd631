package queue

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Kind identifies which conversion pipeline a job runs.
type Kind string

const (
	KindSheetToAudio Kind = "sheet-to-audio"
	KindAudioToSheet Kind = "audio-to-sheet"
)

var allKinds = []Kind{KindSheetToAudio, KindAudioToSheet}

// AllKinds returns the ordered list of known job kinds.
func AllKinds() []Kind {
	cp := make([]Kind, len(allKinds))
	copy(cp, allKinds)
	return cp
}

// ParseKind converts a string into a known Kind.
func ParseKind(value string) (Kind, bool) {
	normalized := Kind(strings.ToLower(strings.TrimSpace(value)))
	switch normalized {
	case KindSheetToAudio, KindAudioToSheet:
		return normalized, true
	default:
		return "", false
	}
}

// Status represents the lifecycle of a conversion job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

var allStatuses = []Status{
	StatusQueued,
	StatusRunning,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var terminalStatuses = map[Status]struct{}{
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a status admits no further transitions.
func (s Status) IsTerminal() bool {
	_, ok := terminalStatuses[s]
	return ok
}

// StageStatus tracks one stage within a job's pipeline.
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageRunning   StageStatus = "running"
	StageSucceeded StageStatus = "succeeded"
	StageFailed    StageStatus = "failed"
	StageSkipped   StageStatus = "skipped"
)

// StageError records why a stage gave up and how many attempts it spent.
type StageError struct {
	Kind     string `json:"kind"`
	Message  string `json:"message"`
	Attempts int    `json:"attempts"`
}

// ArtifactRef points at an artifact published inside a job namespace.
type ArtifactRef struct {
	Kind        string `json:"kind"`
	Path        string `json:"path"`
	ContentType string `json:"content_type,omitempty"`
	SizeBytes   int64  `json:"size_bytes,omitempty"`
}

// StageRecord captures the persisted execution state of one pipeline stage.
// A stage only reaches succeeded after its artifact has been published, so a
// succeeded record always carries the artifact reference.
type StageRecord struct {
	Name       string       `json:"name"`
	Tool       string       `json:"tool"`
	Status     StageStatus  `json:"status"`
	StartedAt  *time.Time   `json:"started_at,omitempty"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
	Artifact   *ArtifactRef `json:"artifact,omitempty"`
	Error      *StageError  `json:"error,omitempty"`
}

// Job represents a conversion job persisted in the registry.
type Job struct {
	ID              string
	Kind            Kind
	Status          Status
	Options         map[string]string
	SourcePath      string
	Stages          []StageRecord
	CancelRequested bool
	ClaimedBy       string
	LastHeartbeat   *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
	FinishedAt      *time.Time
}

// DeriveStatus computes a job's status from its stage records. Any failed
// stage fails the job; a skipped stage without a failure means the job was
// cancelled, since cancellation is the only path that skips work; all stages
// succeeding completes it; any progress at all means it is still running.
// The persisted status column is only ever a projection of this function.
func DeriveStatus(stages []StageRecord) Status {
	if len(stages) == 0 {
		return StatusQueued
	}
	var failed, skipped, running, succeeded int
	for i := range stages {
		switch stages[i].Status {
		case StageFailed:
			failed++
		case StageSkipped:
			skipped++
		case StageRunning:
			running++
		case StageSucceeded:
			succeeded++
		}
	}
	switch {
	case failed > 0:
		return StatusFailed
	case skipped > 0:
		return StatusCancelled
	case succeeded == len(stages):
		return StatusCompleted
	case running > 0 || succeeded > 0:
		return StatusRunning
	default:
		return StatusQueued
	}
}

// IsTerminal reports whether the job reached a final state.
func (j Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// NextStageIndex returns the index of the first stage that has not succeeded,
// or -1 when every stage succeeded. Resumed jobs continue from this index so
// a published stage output is never produced twice.
func (j Job) NextStageIndex() int {
	for i := range j.Stages {
		if j.Stages[i].Status != StageSucceeded {
			return i
		}
	}
	return -1
}

// FinalArtifact returns the artifact published by the last stage when the job
// completed, or nil otherwise.
func (j Job) FinalArtifact() *ArtifactRef {
	if len(j.Stages) == 0 || DeriveStatus(j.Stages) != StatusCompleted {
		return nil
	}
	return j.Stages[len(j.Stages)-1].Artifact
}

// FailureMessage returns the first failed stage's error message, if any.
func (j Job) FailureMessage() string {
	for i := range j.Stages {
		if j.Stages[i].Status == StageFailed && j.Stages[i].Error != nil {
			return j.Stages[i].Error.Message
		}
	}
	return ""
}

// ActiveStageName returns the stage currently running, or the next pending
// stage when the job is between stages. Empty for terminal jobs.
func (j Job) ActiveStageName() string {
	for i := range j.Stages {
		if j.Stages[i].Status == StageRunning {
			return j.Stages[i].Name
		}
	}
	for i := range j.Stages {
		if j.Stages[i].Status == StagePending {
			return j.Stages[i].Name
		}
	}
	return ""
}

// Clone returns a deep copy safe to mutate independently of the original.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	if j.Options != nil {
		cp.Options = make(map[string]string, len(j.Options))
		for key, value := range j.Options {
			cp.Options[key] = value
		}
	}
	if j.LastHeartbeat != nil {
		hb := *j.LastHeartbeat
		cp.LastHeartbeat = &hb
	}
	if j.FinishedAt != nil {
		ft := *j.FinishedAt
		cp.FinishedAt = &ft
	}
	if j.Stages != nil {
		cp.Stages = make([]StageRecord, len(j.Stages))
		for i := range j.Stages {
			cp.Stages[i] = cloneStage(j.Stages[i])
		}
	}
	return &cp
}

func cloneStage(record StageRecord) StageRecord {
	if record.StartedAt != nil {
		v := *record.StartedAt
		record.StartedAt = &v
	}
	if record.FinishedAt != nil {
		v := *record.FinishedAt
		record.FinishedAt = &v
	}
	if record.Artifact != nil {
		v := *record.Artifact
		record.Artifact = &v
	}
	if record.Error != nil {
		v := *record.Error
		record.Error = &v
	}
	return record
}

// EncodeStages serializes stage records for the stages_json column.
func EncodeStages(stages []StageRecord) (string, error) {
	if len(stages) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(stages)
	if err != nil {
		return "", fmt.Errorf("marshal stages: %w", err)
	}
	return string(data), nil
}

// DecodeStages parses the stages_json column back into stage records.
func DecodeStages(raw string) ([]StageRecord, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed == "[]" {
		return nil, nil
	}
	var stages []StageRecord
	if err := json.Unmarshal([]byte(trimmed), &stages); err != nil {
		return nil, fmt.Errorf("decode stages: %w", err)
	}
	return stages, nil
}

// EncodeOptions serializes job options for the options_json column.
func EncodeOptions(options map[string]string) (string, error) {
	if len(options) == 0 {
		return "", nil
	}
	data, err := json.Marshal(options)
	if err != nil {
		return "", fmt.Errorf("marshal options: %w", err)
	}
	return string(data), nil
}

// DecodeOptions parses the options_json column back into a map.
func DecodeOptions(raw string) (map[string]string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	var options map[string]string
	if err := json.Unmarshal([]byte(trimmed), &options); err != nil {
		return nil, fmt.Errorf("decode options: %w", err)
	}
	return options, nil
}

// DatabaseHealth captures diagnostic information about the registry backend.
type DatabaseHealth struct {
	Backend          string
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	SchemaVersion    string
	TableExists      bool
	ColumnsPresent   []string
	MissingColumns   []string
	IntegrityCheck   bool
	TotalJobs        int
	Error            string
}

// HealthSummary describes aggregated job counts per lifecycle state.
type HealthSummary struct {
	Total     int
	Queued    int
	Running   int
	Completed int
	Failed    int
	Cancelled int
}
