package main

import (
	"fmt"

	"github.com/spf13/cobra"

	qhttp "taxipred/http"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, qhttp.Version, BuildTime)
		},
	}
}
