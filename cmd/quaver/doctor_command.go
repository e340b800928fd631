package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"quaver/internal/daemon"
	"quaver/internal/preflight"
)

// newDoctorCommand diagnoses the local installation. It always exits zero;
// the findings are the output.
func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check tool availability, directories, and daemon reachability",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)

			for _, line := range renderSectionHeader("Preflight", colorize) {
				fmt.Fprintln(stdout, line)
			}
			for _, result := range preflight.RunAll(cfg) {
				fmt.Fprintln(stdout, renderStatusLine(result.Name, checkStatusKind(result.Passed), result.Detail, colorize))
			}
			fmt.Fprintln(stdout)

			for _, line := range renderSectionHeader("Daemon", colorize) {
				fmt.Fprintln(stdout, line)
			}
			client, err := ctx.newClient()
			if err != nil {
				fmt.Fprintln(stdout, renderStatusLine("API", statusError, err.Error(), colorize))
				return nil
			}
			health, err := client.Health(cmd.Context())
			if err != nil {
				kind := statusError
				detail := err.Error()
				if daemon.IsDaemonUnavailable(err) {
					kind = statusWarn
					detail = fmt.Sprintf("not reachable at %s (start it with `quaverd`)", ctx.apiBind())
				}
				fmt.Fprintln(stdout, renderStatusLine("API", kind, detail, colorize))
				return nil
			}
			printHealthLines(stdout, health, colorize)
			return nil
		},
	}
}

func printHealthLines(stdout io.Writer, health daemon.HealthResponse, colorize bool) {
	overall := statusOK
	overallDetail := "healthy"
	if !health.Healthy {
		overall = statusWarn
		overallDetail = "degraded"
	}
	fmt.Fprintln(stdout, renderStatusLine("API", overall, fmt.Sprintf("%s (pid %d)", overallDetail, health.PID), colorize))
	fmt.Fprintln(stdout, renderStatusLine("Workers", statusInfo, fmt.Sprintf("%d", health.Workers), colorize))
	fmt.Fprintln(stdout, renderStatusLine("Queue", statusInfo,
		fmt.Sprintf("%d total (%d queued, %d running)", health.Queue.Total, health.Queue.Queued, health.Queue.Running), colorize))

	dbKind := checkStatusKind(health.Database.Readable && health.Database.IntegrityCheck)
	dbDetail := health.Database.Backend
	if health.Database.Error != "" {
		dbDetail = health.Database.Error
	}
	fmt.Fprintln(stdout, renderStatusLine("Registry", dbKind, dbDetail, colorize))
	fmt.Fprintln(stdout, renderStatusLine("Disk", statusInfo,
		fmt.Sprintf("%s used across %d namespaces, %s free",
			formatBytes(health.Disk.UsedBytes), health.Disk.Namespaces, formatBytes(int64(health.Disk.FreeBytes))), colorize))

	for _, tool := range health.Tools {
		kind := checkStatusKind(tool.Ready)
		detail := tool.Detail
		if tool.Ready && detail == "" {
			detail = "ready"
		}
		fmt.Fprintln(stdout, renderStatusLine(tool.Tool, kind, detail, colorize))
	}
	for _, problem := range health.Problems {
		fmt.Fprintln(stdout, renderStatusLine("Problem", statusWarn, problem, colorize))
	}
}
