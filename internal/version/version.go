// Package version reports the build version of delegate.
package version

import (
	_ "embed"
	"runtime"
	"strings"
)

//go:embed VERSION
var versionContent string

// Commit is set at build time with -ldflags "-X .../version.Commit=<sha>".
var Commit = ""

// Get returns the current version, with whitespace trimmed.
func Get() string {
	return strings.TrimSpace(versionContent)
}

// String returns the version with the commit and Go runtime appended.
func String() string {
	var b strings.Builder
	b.WriteString(Get())
	if Commit != "" {
		b.WriteString(" (")
		b.WriteString(Commit)
		b.WriteString(")")
	}
	b.WriteString(" ")
	b.WriteString(runtime.Version())
	return b.String()
}
