// Package version holds build-time version information injected via ldflags.
package version

import "fmt"

// These variables are set at build time via -ldflags.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String returns the one-line version banner printed by the CLI and served by the API.
func String() string {
	return fmt.Sprintf("reachprobe %s (commit %s, built %s)", Version, Commit, Date)
}

// UserAgent is the default User-Agent sent by outbound probes.
func UserAgent() string {
	return "reachprobe/" + Version
}
