package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"comicforge/internal/api"
	"comicforge/internal/apiclient"
	"comicforge/internal/project"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status and stage health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				status, err := client.Status(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, status)
				}
				printDaemonStatus(cmd, status)
				return nil
			})
		},
	}

	addJSONFlag(cmd, &asJSON)
	return cmd
}

func printDaemonStatus(cmd *cobra.Command, status api.DaemonStatus) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)

	for _, line := range renderSectionHeader("Daemon", colorize) {
		fmt.Fprintln(out, line)
	}
	runKind := statusError
	if status.Running {
		runKind = statusOK
	}
	fmt.Fprintln(out, renderStatusLine("Running", runKind, yesNo(status.Running), colorize))
	if status.PID > 0 {
		fmt.Fprintln(out, renderStatusLine("PID", statusInfo, strconv.Itoa(status.PID), colorize))
	}
	fmt.Fprintln(out, renderStatusLine("Database", statusInfo, status.DatabasePath, colorize))
	fmt.Fprintln(out, renderStatusLine("Active runs", statusInfo, strconv.Itoa(status.ActiveRuns), colorize))
	fmt.Fprintln(out)

	rows := make([][]string, 0, len(status.StageCounts))
	for _, st := range append(project.Sequence(), project.StageFailed) {
		if count := status.StageCounts[string(st)]; count > 0 {
			rows = append(rows, []string{stageLabel(string(st)), strconv.Itoa(count)})
		}
	}
	rows = append(rows, []string{"Total", strconv.Itoa(status.Total)})
	fmt.Fprintln(out, renderTable([]string{"Stage", "Projects"}, rows, []columnAlignment{alignLeft, alignRight}))

	if len(status.StageHealth) == 0 {
		return
	}
	fmt.Fprintln(out)
	for _, line := range renderSectionHeader("Stage health", colorize) {
		fmt.Fprintln(out, line)
	}
	for _, health := range status.StageHealth {
		kind := statusOK
		if !health.Ready {
			kind = statusError
		}
		fmt.Fprintln(out, renderStatusLine(stageLabel(health.Name), kind, health.Detail, colorize))
	}
}
