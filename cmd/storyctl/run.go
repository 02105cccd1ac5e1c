package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"dailystory/internal/app"
	"dailystory/internal/infra"
)

var runCmd = &cobra.Command{
	Use:   "run <runner>",
	Short: "Execute one runner now and wait for it to finish",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := infra.LoadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		components, err := app.Build(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer components.Close()

		runner, err := components.Runner(ctx, args[0])
		if err != nil {
			return err
		}
		res, err := runner.Run(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "run %s finished\nrecord   %s\nartifact %s\nprompt   %s\n", res.RunID, res.RecordID, res.ArtifactPath, res.Prompt)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
