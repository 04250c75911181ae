package main

import (
	"os"

	"github.com/aatumaykin/autotask/internal/version"
)

// Set with -ldflags "-X main.Version=..." at build time.
var (
	Version   string
	BuildTime string
	GitCommit string
	GoVersion string
)

func init() {
	version.SetInfo(Version, BuildTime, GitCommit, GoVersion)
}

func main() {
	rootCmd.Version = version.Version
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
