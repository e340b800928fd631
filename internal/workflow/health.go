package workflow

import (
	"context"
	"fmt"

	"quaver/internal/artifacts"
	"quaver/internal/queue"
)

// HealthReport aggregates the signals the health endpoint and doctor command
// expose: worker pool state, job counts, registry diagnostics, and disk
// capacity around the artifacts root.
type HealthReport struct {
	Running  bool
	Workers  int
	Queue    queue.HealthSummary
	Database queue.DatabaseHealth
	Disk     artifacts.DiskStats
	Problems []string
}

// Healthy reports whether collection found no problems.
func (r HealthReport) Healthy() bool {
	return len(r.Problems) == 0
}

// Health collects a point-in-time report. Collection is best effort; signals
// that cannot be gathered land in Problems instead of failing the report.
func (m *Manager) Health(ctx context.Context) HealthReport {
	var report HealthReport

	m.mu.Lock()
	report.Running = m.running
	m.mu.Unlock()
	report.Workers = m.cfg.Workers.Count
	if report.Workers <= 0 {
		report.Workers = 1
	}
	if !report.Running {
		report.Problems = append(report.Problems, "workflow manager is not running")
	}

	summary, err := m.store.Health(ctx)
	if err != nil {
		report.Problems = append(report.Problems, fmt.Sprintf("queue summary: %v", err))
	} else {
		report.Queue = summary
	}

	db, err := m.store.CheckHealth(ctx)
	if err != nil {
		report.Problems = append(report.Problems, fmt.Sprintf("registry health: %v", err))
	}
	report.Database = db
	if db.Error != "" {
		report.Problems = append(report.Problems, db.Error)
	}

	disk, err := m.artifacts.DiskStats()
	if err != nil {
		report.Problems = append(report.Problems, fmt.Sprintf("disk stats: %v", err))
	} else {
		report.Disk = disk
		if err := m.artifacts.CheckFreeSpace(); err != nil {
			report.Problems = append(report.Problems, err.Error())
		}
	}
	return report
}
