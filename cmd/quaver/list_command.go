package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"quaver/internal/daemon"
	"quaver/internal/queue"
)

func newListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conversion jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRegistry(cmd.Context(), func(client *daemon.Client, store queue.Store) error {
				views, err := fetchJobs(cmd, client, store, statuses)
				if err != nil {
					return err
				}

				if jsonOutput {
					return writeJSON(cmd, views)
				}
				if len(views) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
					return nil
				}
				table := renderTable(jobListHeaders, buildJobRows(views), jobListAlignments)
				fmt.Fprintln(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by job status (repeatable)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print jobs as JSON")
	return cmd
}

func fetchJobs(cmd *cobra.Command, client *daemon.Client, store queue.Store, statuses []string) ([]daemon.JobView, error) {
	if client != nil {
		return client.Jobs(cmd.Context(), statuses...)
	}

	parsed := make([]queue.Status, 0, len(statuses))
	for _, raw := range statuses {
		status, ok := queue.ParseStatus(raw)
		if !ok {
			return nil, fmt.Errorf("unknown status %q", raw)
		}
		parsed = append(parsed, status)
	}
	jobs, err := store.List(cmd.Context(), parsed...)
	if err != nil {
		return nil, err
	}
	views := make([]daemon.JobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, daemon.JobFromQueue(job))
	}
	return views, nil
}
