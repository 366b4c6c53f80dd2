// Package version reports the build version of the gateway
package version

import (
	"embed"
	"io"
	"runtime/debug"
	"strings"
)

//go:embed version.*
var versions embed.FS

// Version is read from version.txt when generated, or from the build info
var Version = "unable to get version"

func init() {
	f, err := versions.Open("version.txt")
	if err != nil {
		// installed by go install
		if inf, ok := debug.ReadBuildInfo(); ok {
			Version = inf.Main.Version
		}
		return
	}
	defer f.Close()
	s, err := io.ReadAll(f)
	if err != nil {
		return
	}
	Version = strings.TrimSpace(string(s))
}
