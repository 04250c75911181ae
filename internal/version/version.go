// Package version holds build metadata injected with -ldflags.
package version

import (
	"fmt"
	"runtime"

	"github.com/aatumaykin/autotask/internal/constants"
)

var (
	Version   = constants.DefaultVersion
	BuildTime = constants.DefaultBuildTime
	GitCommit = constants.DefaultGitCommit
	GoVersion = runtime.Version()
)

// SetInfo overrides the build metadata. Empty values are ignored.
func SetInfo(v, bt, gc, gv string) {
	if v != "" {
		Version = v
	}
	if bt != "" {
		BuildTime = bt
	}
	if gc != "" {
		GitCommit = gc
	}
	if gv != "" && gv != constants.DefaultGoVersion {
		GoVersion = gv
	}
}

// String returns a one-line summary suitable for logs.
func String() string {
	return fmt.Sprintf("autotask %s (commit %s, built %s, %s)", Version, GitCommit, BuildTime, GoVersion)
}
