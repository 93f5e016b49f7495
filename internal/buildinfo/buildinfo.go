// Package buildinfo stores build-time metadata shared across packages.
package buildinfo

import "fmt"

// Set from main via ldflags during build.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String returns a one-line description such as "paneld 1.2.0 (abc123)".
func String() string {
	return fmt.Sprintf("paneld %s (%s)", Version, Commit)
}
