// Package version exposes build-time version information for the gazeta binary.
package version

import "runtime/debug"

// Version is the semantic version of the binary, injected via -ldflags.
var Version = "dev"

// Commit is the VCS revision the binary was built from, injected via -ldflags.
var Commit = "unknown"

// Date is the build timestamp, injected via -ldflags.
var Date = "unknown"

// InitBinaryVersion fills Commit from embedded build info when it was not
// injected at link time. Safe to call once at process start.
func InitBinaryVersion() {
	if Commit != "unknown" {
		return
	}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" {
			Commit = setting.Value

			return
		}
	}
}
