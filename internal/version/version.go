// Package version carries build metadata injected at link time.
package version

import (
	"fmt"
	"runtime"
)

// Set via ldflags at build time:
//
//	go build -ldflags "-X github.com/soyeahso/kassa/internal/version.Version=1.0.0
//	  -X github.com/soyeahso/kassa/internal/version.Commit=abc123
//	  -X github.com/soyeahso/kassa/internal/version.Date=2026-01-01"
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Name is the program name used in version strings and HTTP user agents.
const Name = "kassa"

// Info returns a formatted version string.
func Info() string {
	return fmt.Sprintf("%s %s (commit: %s, built: %s, %s/%s)",
		Name, Version, short(Commit), Date, runtime.GOOS, runtime.GOARCH)
}

// UserAgent is sent on outbound HTTP requests to the price and model APIs.
func UserAgent() string {
	return fmt.Sprintf("%s/%s (+%s)", Name, Version, short(Commit))
}

func short(s string) string {
	if len(s) > 7 {
		return s[:7]
	}
	return s
}
