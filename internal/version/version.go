package version

import (
	"fmt"
	"runtime"
)

// Build information. Populated at build-time via ldflags:
//
//	-X github.com/zgpcy/azure-cost-report/internal/version.Version=v1.2.3
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info returns version information
func Info() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"build_date": BuildDate,
		"go_version": runtime.Version(),
	}
}

// String renders the build information on a single line for the version command
func String() string {
	return fmt.Sprintf("azure-cost-report %s (commit %s, built %s, %s)",
		Version, GitCommit, BuildDate, runtime.Version())
}
