package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"quaver/internal/daemon"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Inspect the quaverd daemon",
	}
	daemonCmd.AddCommand(newDaemonStatusCommand(ctx))
	return daemonCmd
}

func newDaemonStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the daemon health report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *daemon.Client) error {
				health, err := client.Health(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, health)
				}

				stdout := cmd.OutOrStdout()
				colorize := shouldColorize(stdout)
				for _, line := range renderSectionHeader("Daemon Status", colorize) {
					fmt.Fprintln(stdout, line)
				}
				printHealthLines(stdout, health, colorize)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the health report as JSON")
	return cmd
}
