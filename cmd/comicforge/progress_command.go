package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"comicforge/internal/api"
	"comicforge/internal/apiclient"
)

func newProgressCommand(ctx *commandContext) *cobra.Command {
	var (
		watch    bool
		interval time.Duration
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "progress <project-id>",
		Short: "Show generation progress for a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				if watch {
					return watchProgress(cmd, client, args[0], interval)
				}
				progress, err := client.Progress(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, progress)
				}
				printProgress(cmd, progress)
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Follow progress until the run finishes")
	cmd.Flags().DurationVar(&interval, "interval", defaultWatchInterval, "Polling interval for --watch")
	addJSONFlag(cmd, &asJSON)
	return cmd
}

func printProgress(cmd *cobra.Command, progress api.GenerationProgress) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)

	fmt.Fprintln(out, renderStatusLine("Status", stageKind(progress.Status), stageLabel(progress.Status), colorize))
	fmt.Fprintln(out, renderStatusLine("Progress", statusInfo, fmt.Sprintf("%d%%", progress.Progress), colorize))
	fmt.Fprintln(out, renderStatusLine("Step", statusInfo, progress.CurrentStep, colorize))
	if progress.Script != nil && progress.Script.Title != "" {
		fmt.Fprintln(out, renderStatusLine("Title", statusInfo, progress.Script.Title, colorize))
	}
	fmt.Fprintln(out)

	rows := [][]string{
		{"Script", strconv.Itoa(progress.Groups.Script) + "%"},
		{"Characters", strconv.Itoa(progress.Groups.Characters) + "%"},
		{"Storyboard", strconv.Itoa(progress.Groups.Storyboard) + "%"},
		{"Preview", strconv.Itoa(progress.Groups.Preview) + "%"},
	}
	fmt.Fprintln(out, renderTable([]string{"Group", "Done"}, rows, []columnAlignment{alignLeft, alignRight}))

	if len(progress.PreviewPages) > 0 {
		ready := 0
		for _, page := range progress.PreviewPages {
			if page.Ready {
				ready++
			}
		}
		fmt.Fprintf(out, "Preview pages ready: %d/%d\n", ready, len(progress.PreviewPages))
	}
}
