// Package version carries build identity injected at link time.
package version

var (
	// Version is the semantic version, overridden via ldflags.
	Version = "v0.0.0-dev"

	// GitCommit is the short commit hash, overridden via ldflags.
	GitCommit = "unknown"

	// BuildTime is the build timestamp, overridden via ldflags.
	BuildTime = "unknown"
)

// Info renders the build identity as a single line.
func Info() string {
	return Version + " (" + GitCommit + ") built at " + BuildTime
}
