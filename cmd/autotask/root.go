package main

import (
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "autotask",
	Short: "autotask - periodic retention of dynamic config snapshots",
	Long: `autotask runs periodic tasks from a single scheduler loop. Its retention
task keeps the newest <prefix>.dynamic.<hex> snapshots of a directory, moves
older ones into dynamic.<hex>.zip archives and prunes archives over a size limit.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(rotateCmd)
}
