package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var dbFlag string
	var logLevelFlag string

	ctx := newCommandContext(&dbFlag, &logLevelFlag)

	rootCmd := &cobra.Command{
		Use:           "stemctl",
		Short:         "Inspect project bundles and run stem renders",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		ctx.close()
	}

	rootCmd.PersistentFlags().StringVar(&dbFlag, "db", "", "Render store path (defaults to database.path)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level override")

	rootCmd.AddCommand(newInspectCommand(ctx))
	rootCmd.AddCommand(newJobsCommand(ctx))
	rootCmd.AddCommand(newRenderCommand(ctx))

	return rootCmd
}
