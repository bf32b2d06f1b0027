// Package buildinfo holds version and build metadata stamped at compile time via ldflags.
package buildinfo

import (
	"fmt"
	"runtime"
	"time"
)

// These variables are set at build time via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	GitBranch = "unknown"
	BuildTime = "unknown"
)

// startTime records when the process started.
var startTime = time.Now()

// Info returns all build and runtime info as a map.
func Info() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"git_branch": GitBranch,
		"build_time": BuildTime,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"uptime":     Uptime().String(),
	}
}

// Uptime returns the duration since process start.
func Uptime() time.Duration {
	return time.Since(startTime).Truncate(time.Second)
}

// UserAgent returns the User-Agent sent on service-to-service calls
// (LLM providers, search backends, the reader service). Page fetches
// that must look like a browser use their own agent string.
func UserAgent() string {
	return fmt.Sprintf("Whim/%s (+https://github.com/nugget/whim-agent)", Version)
}

// String returns a one-line summary for logging.
func String() string {
	return fmt.Sprintf("Whim %s (%s@%s) built %s", Version, GitCommit, GitBranch, BuildTime)
}
