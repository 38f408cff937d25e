package version

import (
	"fmt"
	"runtime"
)

// Version information - set during build time
var (
	// Version is the semantic version of the application
	Version = "0.3.0"

	// GitCommit is the git commit hash
	GitCommit = "unknown"

	// BuildDate is when the binary was built
	BuildDate = "unknown"

	// GoVersion is the Go version used to compile
	GoVersion = runtime.Version()
)

// BuildInfo contains version and build information
type BuildInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
	Service   string `json:"service"`
}

// GetBuildInfo returns complete build information
func GetBuildInfo(serviceName string) *BuildInfo {
	return &BuildInfo{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: GoVersion,
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
		Service:   serviceName,
	}
}

// GetShortVersion returns version with commit hash
func GetShortVersion() string {
	if GitCommit != "unknown" && len(GitCommit) > 7 {
		return fmt.Sprintf("%s-%s", Version, GitCommit[:7])
	}
	return Version
}

// GetFullVersion returns complete version information
func GetFullVersion(serviceName string) string {
	return fmt.Sprintf(`%s version %s
Git Commit: %s
Build Date: %s
Go Version: %s
Platform: %s/%s`,
		serviceName,
		Version,
		GitCommit,
		BuildDate,
		GoVersion,
		runtime.GOOS,
		runtime.GOARCH,
	)
}
