package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"quaver/internal/daemon"
	"quaver/internal/pipeline"
	"quaver/internal/queue"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var instrument string
	var options []string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "submit <kind> <source>",
		Short: "Submit a conversion job to the daemon",
		Long: fmt.Sprintf(
			"Submit a conversion job to the daemon.\n\nKinds: %s, %s.",
			queue.KindSheetToAudio, queue.KindAudioToSheet,
		),
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, ok := queue.ParseKind(args[0])
			if !ok {
				return fmt.Errorf("unknown job kind %q (want %s or %s)",
					args[0], queue.KindSheetToAudio, queue.KindAudioToSheet)
			}

			source, err := filepath.Abs(args[1])
			if err != nil {
				return fmt.Errorf("resolve source path: %w", err)
			}
			info, err := os.Stat(source)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("source file does not exist: %s", source)
				}
				return fmt.Errorf("inspect source: %w", err)
			}
			if info.IsDir() {
				return fmt.Errorf("%s is a directory", source)
			}

			opts, err := parseOptionFlags(options)
			if err != nil {
				return err
			}
			if instrument != "" {
				opts[pipeline.OptionInstrument] = instrument
			}

			return ctx.withClient(func(client *daemon.Client) error {
				job, err := client.SubmitJob(cmd.Context(), daemon.SubmitJobRequest{
					Kind:       string(kind),
					SourcePath: source,
					Options:    opts,
				})
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, job)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Submitted %s job %s (%s)\n",
					job.Kind, job.ID, filepath.Base(source))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&instrument, "instrument", "i", "",
		fmt.Sprintf("Instrument for sheet-to-audio synthesis (%s)", strings.Join(pipeline.Instruments(), ", ")))
	cmd.Flags().StringArrayVarP(&options, "option", "o", nil, "Job option as key=value (repeatable)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the created job as JSON")
	return cmd
}

func parseOptionFlags(raw []string) (map[string]string, error) {
	opts := make(map[string]string, len(raw))
	for _, pair := range raw {
		key, value, found := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !found || key == "" {
			return nil, fmt.Errorf("invalid option %q (want key=value)", pair)
		}
		opts[key] = strings.TrimSpace(value)
	}
	return opts, nil
}
