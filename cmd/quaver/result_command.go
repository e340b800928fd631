package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"quaver/internal/daemon"
	"quaver/internal/fileutil"
	"quaver/internal/textutil"
)

func newResultCommand(ctx *commandContext) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "result <job-id>",
		Short: "Download the final artifact of a completed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *daemon.Client) error {
				staging, err := os.CreateTemp("", "quaver-result-*")
				if err != nil {
					return fmt.Errorf("create staging file: %w", err)
				}
				stagingPath := staging.Name()
				defer os.Remove(stagingPath)

				download, err := client.DownloadResult(cmd.Context(), args[0], staging)
				closeErr := staging.Close()
				if err != nil {
					return err
				}
				if closeErr != nil {
					return fmt.Errorf("finish staging file: %w", closeErr)
				}

				destination, err := resolveResultPath(output, download.Filename, args[0])
				if err != nil {
					return err
				}
				if err := fileutil.MoveFile(stagingPath, destination); err != nil {
					return fmt.Errorf("save %s: %w", destination, err)
				}

				fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%s)\n", destination, formatBytes(download.Bytes))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "O", "", "Destination path (defaults to the daemon's suggested filename)")
	return cmd
}

// resolveResultPath picks the download destination. The daemon's suggested
// filename is sanitized before use; when the daemon suggests nothing the job
// id names the file.
func resolveResultPath(output, suggested, jobID string) (string, error) {
	if output != "" {
		abs, err := filepath.Abs(output)
		if err != nil {
			return "", fmt.Errorf("resolve output path: %w", err)
		}
		if info, statErr := os.Stat(abs); statErr == nil && info.IsDir() {
			return filepath.Join(abs, defaultResultName(suggested, jobID)), nil
		}
		return abs, nil
	}
	return filepath.Abs(defaultResultName(suggested, jobID))
}

func defaultResultName(suggested, jobID string) string {
	if name := textutil.SanitizeFileName(suggested); name != "" {
		return name
	}
	return jobID + ".out"
}
