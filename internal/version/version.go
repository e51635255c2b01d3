// Package version holds build metadata injected via -ldflags.
package version

import "fmt"

// Populated at build time:
//
//	go build -ldflags "-X cakisi/internal/version.Version=v1.2.0 -X cakisi/internal/version.Commit=abc123"
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Info returns a single-line description of the running build.
func Info() string {
	return fmt.Sprintf("cakisi %s (commit %s, built %s)", Version, Commit, Date)
}
