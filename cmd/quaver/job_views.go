package main

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"quaver/internal/daemon"
)

var jobListHeaders = []string{"ID", "Kind", "Status", "Stage", "Created", "Source"}

var jobListAlignments = []columnAlignment{
	alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft,
}

func buildJobRows(jobs []daemon.JobView) [][]string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		stage := job.ActiveStage
		if stage == "" {
			stage = "-"
		}
		rows = append(rows, []string{
			job.ID,
			displayLabel(job.Kind),
			displayLabel(job.Status),
			stage,
			formatTime(job.CreatedAt),
			filepath.Base(job.SourcePath),
		})
	}
	return rows
}

func buildStageRows(stages []daemon.StageView) [][]string {
	rows := make([][]string, 0, len(stages))
	for _, stage := range stages {
		output := "-"
		if stage.Artifact != nil {
			output = fmt.Sprintf("%s (%s)", filepath.Base(stage.Artifact.Path), formatBytes(stage.Artifact.SizeBytes))
		}
		detail := ""
		if stage.Error != nil {
			detail = stage.Error.Message
			if stage.Error.Attempts > 1 {
				detail = fmt.Sprintf("%s (%d attempts)", detail, stage.Error.Attempts)
			}
		}
		rows = append(rows, []string{
			stage.Name,
			stage.Tool,
			displayLabel(stage.Status),
			stageDuration(stage),
			output,
			detail,
		})
	}
	return rows
}

// jobSummaryLines renders the single-job header block above the stage table.
func jobSummaryLines(job daemon.JobView, colorize bool) []string {
	lines := []string{
		renderStatusLine("Status", jobStatusKind(job.Status), displayLabel(job.Status), colorize),
		renderStatusLine("Kind", statusInfo, displayLabel(job.Kind), colorize),
		renderStatusLine("Source", statusInfo, job.SourcePath, colorize),
		renderStatusLine("Created", statusInfo, formatTime(job.CreatedAt), colorize),
	}
	if job.FinishedAt != nil {
		lines = append(lines, renderStatusLine("Finished", statusInfo, formatTime(*job.FinishedAt), colorize))
	}
	if len(job.Options) > 0 {
		lines = append(lines, renderStatusLine("Options", statusInfo, formatOptions(job.Options), colorize))
	}
	if job.CancelRequested {
		lines = append(lines, renderStatusLine("Cancellation", statusWarn, "requested", colorize))
	}
	if job.Error != "" {
		lines = append(lines, renderStatusLine("Error", statusError, job.Error, colorize))
	}
	return lines
}

func jobStatusKind(status string) statusKind {
	switch status {
	case "completed":
		return statusOK
	case "failed":
		return statusError
	case "cancelled":
		return statusWarn
	default:
		return statusInfo
	}
}

func stageDuration(stage daemon.StageView) string {
	if stage.StartedAt == nil {
		return "-"
	}
	end := time.Now()
	if stage.FinishedAt != nil {
		end = *stage.FinishedAt
	}
	elapsed := end.Sub(*stage.StartedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	return elapsed.Round(100 * time.Millisecond).String()
}

func formatTime(value time.Time) string {
	return value.Local().Format("2006-01-02 15:04:05")
}

func formatOptions(options map[string]string) string {
	pairs := make([]string, 0, len(options))
	for key, value := range options {
		pairs = append(pairs, fmt.Sprintf("%s=%s", key, value))
	}
	sort.Strings(pairs)
	return strings.Join(pairs, " ")
}
