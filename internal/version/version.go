// Package version carries build metadata, stamped at link time with
// -ldflags "-X ...".
package version

import "fmt"

var (
	// Version is the release version, "dev" for local builds.
	Version = "dev"
	// GitSHA is the git commit the binary was built from.
	GitSHA = "unknown"
)

// String renders the version for startup logs.
func String() string {
	return fmt.Sprintf("%s (%s)", Version, GitSHA)
}
