package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var (
	buildVersion = "dev"
	buildCommit  = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("assetdesk %s (%s, %s)\n", buildVersion, buildCommit, runtime.Version())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
