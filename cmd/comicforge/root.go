package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var configFlag, urlFlag, tokenFlag string

	ctx := newCommandContext(&configFlag, &urlFlag, &tokenFlag)

	rootCmd := &cobra.Command{
		Use:           "comicforge",
		Short:         "Generate comics through the comicforge daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&urlFlag, "url", "", "Daemon base URL (defaults to server.bind)")
	rootCmd.PersistentFlags().StringVar(&tokenFlag, "token", "", "API bearer token (defaults to a configured token)")

	rootCmd.AddCommand(
		newGenerateCommand(ctx),
		newProgressCommand(ctx),
		newPreviewCommand(ctx),
		newProjectsCommand(ctx),
		newAbortCommand(ctx),
		newStatusCommand(ctx),
		newDoctorCommand(ctx),
		newConfigCommand(ctx),
	)

	return rootCmd
}
