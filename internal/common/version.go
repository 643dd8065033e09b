package common

import "fmt"

// Set via -ldflags "-X github.com/ternarybob/vigil/internal/common.Version=..."
var (
	Version   = "dev"
	Build     = "unknown"
	GitCommit = "unknown"
)

// VersionInfo is the build identity reported by the version endpoint
type VersionInfo struct {
	Version   string `json:"version"`
	Build     string `json:"build"`
	GitCommit string `json:"git_commit"`
}

// GetVersion returns the current version string
func GetVersion() string {
	return Version
}

// GetVersionInfo returns version, build and commit together
func GetVersionInfo() VersionInfo {
	return VersionInfo{Version: Version, Build: Build, GitCommit: GitCommit}
}

func (v VersionInfo) String() string {
	return fmt.Sprintf("%s (build: %s, commit: %s)", v.Version, v.Build, v.GitCommit)
}
