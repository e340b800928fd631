package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"quaver/internal/daemon"
	"quaver/internal/queue"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show one job with its stage progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRegistry(cmd.Context(), func(client *daemon.Client, store queue.Store) error {
				var view daemon.JobView
				if client != nil {
					job, err := client.Job(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					view = job
				} else {
					job, err := store.GetJob(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					if job == nil {
						return fmt.Errorf("job %s not found", args[0])
					}
					view = daemon.JobFromQueue(job)
				}

				if jsonOutput {
					return writeJSON(cmd, view)
				}

				stdout := cmd.OutOrStdout()
				colorize := shouldColorize(stdout)
				for _, line := range renderSectionHeader("Job "+view.ID, colorize) {
					fmt.Fprintln(stdout, line)
				}
				for _, line := range jobSummaryLines(view, colorize) {
					fmt.Fprintln(stdout, line)
				}
				fmt.Fprintln(stdout)

				table := renderTable(
					[]string{"Stage", "Tool", "Status", "Duration", "Output", "Detail"},
					buildStageRows(view.Stages),
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
				)
				fmt.Fprintln(stdout, table)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the job as JSON")
	return cmd
}
