package version

// Version is the current release, overridden at build time via
// -ldflags "-X .../internal/version.Version=v1.2.3".
var Version = "v0.3.0"
