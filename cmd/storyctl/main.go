package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"dailystory/internal/infra"
)

var logger = infra.NewLogger(os.Getenv("APP_ENV")).With().Str("cmd", "storyctl").Logger()

var rootCmd = &cobra.Command{
	Use:           "storyctl",
	Short:         "Run and inspect the daily story runners.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
