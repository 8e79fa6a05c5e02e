package version

var (
	// Version is the cellglm release, set with -ldflags at build time
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String formats the build metadata for the version command.
func String() string {
	return Version + " (" + GitSHA + ", built " + BuildTime + ")"
}
