// Package version exposes build metadata for the composite installer.
//
// Version, Commit, and BuildTime are injected via Go ldflags on release
// builds and default to sensible values for local ones. Short and Full
// render the version string for CLI output and logs.
package version
