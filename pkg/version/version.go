package version

import (
	_ "embed"
	"strings"
)

//go:embed VERSION
var Version string

// Commit is set at build time with -ldflags "-X github.com/amoylab/oauthd/pkg/version.Commit=..."
var Commit = "unknown"

// Get returns the current version of the application
func Get() string {
	return strings.TrimSpace(Version)
}

// String returns the version together with the build commit
func String() string {
	return Get() + " (" + Commit + ")"
}
