package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"comicforge/internal/api"
	"comicforge/internal/apiclient"
)

func newProjectsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:     "projects",
		Aliases: []string{"ls"},
		Short:   "List your projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				projects, err := client.Projects(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					if projects == nil {
						projects = []api.ProjectSummary{}
					}
					return writeJSON(cmd, projects)
				}
				out := cmd.OutOrStdout()
				if len(projects) == 0 {
					fmt.Fprintln(out, "No projects")
					return nil
				}
				fmt.Fprintln(out, renderTable(
					[]string{"ID", "Title", "Status", "Progress", "Pages", "Updated"},
					projectRows(projects),
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
				))
				return nil
			})
		},
	}

	addJSONFlag(cmd, &asJSON)
	return cmd
}

func projectRows(projects []api.ProjectSummary) [][]string {
	rows := make([][]string, 0, len(projects))
	for _, p := range projects {
		title := p.Title
		if title == "" {
			title = truncate(p.Synopsis, 32)
		}
		rows = append(rows, []string{
			p.ID,
			title,
			stageLabel(p.Status),
			strconv.Itoa(p.Progress) + "%",
			strconv.Itoa(p.TotalPages),
			p.UpdatedAt,
		})
	}
	return rows
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit-1]) + "…"
}
