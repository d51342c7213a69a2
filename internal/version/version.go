// Package version holds build-time version metadata, overridden via
// -ldflags "-X github.com/wisbric/snowlink/internal/version.Version=...".
package version

var (
	Version = "dev"
	Commit  = "unknown"
)
