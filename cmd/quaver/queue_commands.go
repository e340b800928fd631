package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"quaver/internal/daemon"
	"quaver/internal/queue"
	"quaver/internal/services"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the job queue",
	}

	queueCmd.AddCommand(newQueueStatusCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))

	return queueCmd
}

func newQueueStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show job counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRegistry(cmd.Context(), func(client *daemon.Client, store queue.Store) error {
				counts := make(map[string]int)
				if client != nil {
					health, err := client.Health(cmd.Context())
					if err != nil {
						return err
					}
					counts["queued"] = health.Queue.Queued
					counts["running"] = health.Queue.Running
					counts["completed"] = health.Queue.Completed
					counts["failed"] = health.Queue.Failed
					counts["cancelled"] = health.Queue.Cancelled
				} else {
					stats, err := store.Stats(cmd.Context())
					if err != nil {
						return err
					}
					for status, count := range stats {
						counts[string(status)] = count
					}
				}

				rows := buildQueueStatusRows(counts)
				if len(rows) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				table := renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight})
				fmt.Fprintln(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}
}

// buildQueueStatusRows orders counts in lifecycle order, skipping zero rows.
func buildQueueStatusRows(counts map[string]int) [][]string {
	rows := make([][]string, 0, len(counts))
	for _, status := range queue.AllStatuses() {
		count := counts[string(status)]
		if count == 0 {
			continue
		}
		rows = append(rows, []string{displayLabel(string(status)), fmt.Sprintf("%d", count)})
	}
	return rows
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [job-id...]",
		Short: "Requeue failed jobs (all failed jobs when no ids are given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *daemon.Client) error {
				stdout := cmd.OutOrStdout()

				ids := args
				if len(ids) == 0 {
					failed, err := client.Jobs(cmd.Context(), string(queue.StatusFailed))
					if err != nil {
						return err
					}
					for _, job := range failed {
						ids = append(ids, job.ID)
					}
					if len(ids) == 0 {
						fmt.Fprintln(stdout, "No failed jobs to retry")
						return nil
					}
				}

				retried := 0
				for _, id := range ids {
					job, err := client.Job(cmd.Context(), id)
					if err != nil {
						if errors.Is(err, services.ErrNotFound) {
							fmt.Fprintf(stdout, "Job %s not found\n", id)
							continue
						}
						return err
					}
					if job.Status != string(queue.StatusFailed) {
						fmt.Fprintf(stdout, "Job %s is %s; only failed jobs can be retried\n", id, job.Status)
						continue
					}
					if _, err := client.Retry(cmd.Context(), id); err != nil {
						return err
					}
					fmt.Fprintf(stdout, "Job %s requeued\n", id)
					retried++
				}
				fmt.Fprintf(stdout, "Retried %d failed job(s)\n", retried)
				return nil
			})
		},
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	var clearCompleted bool
	var clearFailed bool
	var clearAll bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove finished jobs and purge their artifacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses, label, err := clearSelection(clearCompleted, clearFailed, clearAll)
			if err != nil {
				return err
			}

			return ctx.withClient(func(client *daemon.Client) error {
				jobs, err := client.Jobs(cmd.Context(), statuses...)
				if err != nil {
					return err
				}

				removed := 0
				for _, job := range jobs {
					if err := client.Delete(cmd.Context(), job.ID); err != nil {
						if errors.Is(err, services.ErrNotFound) {
							continue
						}
						return err
					}
					removed++
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d %s\n", removed, label)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&clearCompleted, "completed", false, "Remove completed jobs")
	cmd.Flags().BoolVar(&clearFailed, "failed", false, "Remove failed jobs")
	cmd.Flags().BoolVar(&clearAll, "all", false, "Remove every terminal job")
	return cmd
}

// clearSelection maps the clear flags onto the statuses to remove. Deleting
// is restricted to terminal jobs server-side, so --all expands to the
// terminal statuses rather than an unfiltered listing.
func clearSelection(completed, failed, all bool) ([]string, string, error) {
	set := 0
	for _, flag := range []bool{completed, failed, all} {
		if flag {
			set++
		}
	}
	if set != 1 {
		return nil, "", errors.New("pick one of --completed, --failed, or --all")
	}
	switch {
	case completed:
		return []string{string(queue.StatusCompleted)}, "completed job(s)", nil
	case failed:
		return []string{string(queue.StatusFailed)}, "failed job(s)", nil
	default:
		return []string{
			string(queue.StatusCompleted),
			string(queue.StatusFailed),
			string(queue.StatusCancelled),
		}, "finished job(s)", nil
	}
}
