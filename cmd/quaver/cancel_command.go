package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"quaver/internal/daemon"
)

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a queued or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *daemon.Client) error {
				job, err := client.Cancel(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				switch job.Status {
				case "cancelled":
					fmt.Fprintf(stdout, "Job %s cancelled\n", job.ID)
				case "completed", "failed":
					fmt.Fprintf(stdout, "Job %s already finished (%s); nothing to cancel\n", job.ID, job.Status)
				default:
					fmt.Fprintf(stdout, "Cancellation requested for job %s; the running stage stops at its next checkpoint\n", job.ID)
				}
				return nil
			})
		},
	}
}
