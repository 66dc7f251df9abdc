package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"comicforge/internal/api"
	"comicforge/internal/apiclient"
)

const defaultWatchInterval = 2 * time.Second

func newGenerateCommand(ctx *commandContext) *cobra.Command {
	var (
		genre     string
		artStyle  string
		projectID string
		pages     int
		watch     bool
		interval  time.Duration
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "generate <story description>",
		Short: "Start a comic generation run",
		Long: "Start a comic generation run from a story description.\n\n" +
			"Pass --project to restart a failed project; the stored brief is reused.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := api.GenerateRequest{
				StoryDescription: strings.TrimSpace(strings.Join(args, " ")),
				Genre:            strings.TrimSpace(genre),
				ArtStyle:         strings.TrimSpace(artStyle),
				PageCount:        pages,
				ProjectID:        strings.TrimSpace(projectID),
			}
			return ctx.withClient(func(client *apiclient.Client) error {
				resp, err := client.Generate(cmd.Context(), req)
				if err != nil {
					return err
				}
				if asJSON && !watch {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s\n", resp.Message)
				fmt.Fprintf(out, "Project:        %s\n", resp.ProjectID)
				fmt.Fprintf(out, "Run:            %s\n", resp.RunID)
				fmt.Fprintf(out, "Access token:   %s\n", resp.AccessToken)
				fmt.Fprintf(out, "Estimated time: %s\n", time.Duration(resp.EstimatedTime)*time.Second)
				if !watch {
					return nil
				}
				return watchProgress(cmd, client, resp.ProjectID, interval)
			})
		},
	}

	cmd.Flags().StringVar(&genre, "genre", "", "Story genre")
	cmd.Flags().StringVar(&artStyle, "style", "comic book", "Art style for characters and panels")
	cmd.Flags().IntVarP(&pages, "pages", "n", 4, "Number of pages to generate")
	cmd.Flags().StringVar(&projectID, "project", "", "Restart this failed project instead of creating a new one")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Follow progress until the run finishes")
	cmd.Flags().DurationVar(&interval, "interval", defaultWatchInterval, "Polling interval for --watch")
	addJSONFlag(cmd, &asJSON)
	return cmd
}

// watchProgress polls the project until its run completes or fails, printing
// a line whenever the reported step or percentage changes.
func watchProgress(cmd *cobra.Command, client *apiclient.Client, projectID string, interval time.Duration) error {
	if interval <= 0 {
		interval = defaultWatchInterval
	}
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	last := ""
	for {
		progress, err := client.Progress(ctx, projectID)
		if err != nil {
			return err
		}
		line := renderProgressLine(progress.Progress, progress.CurrentStep, progress.Status, colorize)
		if line != last {
			fmt.Fprintln(out, line)
			last = line
		}
		switch progress.Status {
		case "complete":
			fmt.Fprintf(out, "Comic ready; run `comicforge preview %s` to inspect it\n", projectID)
			return nil
		case "failed":
			return errors.New("generation failed; restart with `comicforge generate --project " + projectID + "`")
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
