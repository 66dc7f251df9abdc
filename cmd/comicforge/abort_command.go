package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"comicforge/internal/apiclient"
)

func newAbortCommand(ctx *commandContext) *cobra.Command {
	var (
		reason string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "abort <project-id>",
		Short: "Abort the active generation run of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				resp, err := client.Abort(cmd.Context(), args[0], reason)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				if resp.Aborted {
					fmt.Fprintf(out, "Aborted %s\n", resp.ProjectID)
					return nil
				}
				fmt.Fprintf(out, "Project %s was not running (status: %s)\n", resp.ProjectID, stageLabel(resp.Status))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded on the project")
	addJSONFlag(cmd, &asJSON)
	return cmd
}
