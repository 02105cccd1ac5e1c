package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"dailystory/internal/pipeline"
)

var runnersJSON bool

var runnersCmd = &cobra.Command{
	Use:   "runners",
	Short: "List the built-in runners and their daily hour",
	RunE: func(cmd *cobra.Command, args []string) error {
		defs := pipeline.DefaultDefinitions()
		out := cmd.OutOrStdout()
		if runnersJSON {
			b, _ := json.MarshalIndent(defs, "", "  ")
			fmt.Fprintln(out, string(b))
			return nil
		}
		for _, d := range defs {
			providers := make([]string, 0, len(d.Steps))
			for _, s := range d.Steps {
				providers = append(providers, s.Provider)
			}
			fmt.Fprintf(out, "%02d:00  %-18s  %-5s  steps=%s\n", d.Hour, d.Name, d.FinalKind(), strings.Join(providers, ">"))
		}
		return nil
	},
}

func init() {
	runnersCmd.Flags().BoolVar(&runnersJSON, "json", false, "JSON output")
	rootCmd.AddCommand(runnersCmd)
}
