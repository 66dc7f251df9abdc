package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"comicforge/internal/api"
	"comicforge/internal/apiclient"
)

func newPreviewCommand(ctx *commandContext) *cobra.Command {
	var (
		pages  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "preview <project-id>",
		Short: "Show the generated pages, panels, and characters of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if pages < 0 {
				return fmt.Errorf("--pages must be positive")
			}
			return ctx.withClient(func(client *apiclient.Client) error {
				preview, err := client.Preview(cmd.Context(), args[0], pages)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, preview)
				}
				printPreview(cmd, preview)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&pages, "pages", 0, "Maximum number of pages to include (daemon default when unset)")
	addJSONFlag(cmd, &asJSON)
	return cmd
}

func printPreview(cmd *cobra.Command, preview api.ProjectPreview) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	p := preview.Project

	title := p.Title
	if title == "" {
		title = "Untitled comic"
	}
	for _, line := range renderSectionHeader(title, colorize) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out, renderStatusLine("Status", stageKind(p.Status), stageLabel(p.Status), colorize))
	fmt.Fprintln(out, renderStatusLine("Progress", statusInfo, fmt.Sprintf("%d%%", p.Progress), colorize))
	fmt.Fprintln(out, renderStatusLine("Pages", statusInfo, fmt.Sprintf("%d of %d shown", len(preview.Pages), preview.TotalPages), colorize))
	if p.Genre != "" {
		fmt.Fprintln(out, renderStatusLine("Genre", statusInfo, p.Genre, colorize))
	}
	fmt.Fprintln(out, renderStatusLine("Art style", statusInfo, p.ArtStyle, colorize))
	fmt.Fprintln(out)

	if len(preview.Characters) > 0 {
		rows := make([][]string, 0, len(preview.Characters))
		for _, c := range preview.Characters {
			rows = append(rows, []string{c.Name, c.Handle, yesNo(len(c.ReferenceImages) > 0)})
		}
		fmt.Fprintln(out, renderTable([]string{"Character", "Handle", "Designed"}, rows, nil))
	}

	if len(preview.Pages) == 0 {
		fmt.Fprintln(out, "No pages generated yet")
		return
	}
	rows := make([][]string, 0, len(preview.Pages))
	for _, page := range preview.Pages {
		bubbles := 0
		rendered := 0
		for _, panel := range page.Panels {
			bubbles += len(panel.Bubbles)
			if panel.ImageURL != "" {
				rendered++
			}
		}
		rows = append(rows, []string{
			strconv.Itoa(page.PageNumber),
			page.LayoutID,
			fmt.Sprintf("%d/%d", rendered, len(page.Panels)),
			strconv.Itoa(bubbles),
			dashIfEmpty(page.ImageURL),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Page", "Layout", "Rendered", "Bubbles", "Image"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignRight, alignRight, alignLeft},
	))
}

func dashIfEmpty(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}
