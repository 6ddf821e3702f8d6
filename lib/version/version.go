// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for the spooltag binary.
//
// Values are injected at build time via -ldflags, for example:
//
//	go build -ldflags "-X github.com/bureau-foundation/spooltag/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// When GitCommit is not injected, the VCS revision recorded by the Go
// toolchain is used if present.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// These variables are set via -ldflags at build time.
var (
	// GitCommit is the short git SHA of the build.
	GitCommit = "unknown"

	// GitDirty is "true" when the tree had uncommitted changes.
	GitDirty = "false"

	// BuildTime is the UTC timestamp of the build.
	BuildTime = "unknown"

	// Version is the semantic version, set manually for releases.
	Version = "0.1.0-dev"
)

// Build is the machine-readable form of the build information.
type Build struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Dirty     bool   `json:"dirty"`
	BuildTime string `json:"build_time"`
	Go        string `json:"go"`
	Platform  string `json:"platform"`
}

// Current returns the build information of the running binary.
func Current() Build {
	build := Build{
		Version:   Version,
		Commit:    GitCommit,
		Dirty:     GitDirty == "true",
		BuildTime: BuildTime,
		Go:        runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if build.Commit == "unknown" {
		applyBuildSettings(&build, readSettings())
	}
	return build
}

func readSettings() []debug.BuildSetting {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return nil
	}
	return info.Settings
}

// applyBuildSettings fills fields ldflags left unset from the VCS
// stamps the toolchain embeds.
func applyBuildSettings(build *Build, settings []debug.BuildSetting) {
	for _, setting := range settings {
		switch setting.Key {
		case "vcs.revision":
			build.Commit = setting.Value[:min(len(setting.Value), 12)]
		case "vcs.modified":
			build.Dirty = setting.Value == "true"
		case "vcs.time":
			if build.BuildTime == "unknown" {
				build.BuildTime = setting.Value
			}
		}
	}
}

// Info returns the one-line form used by `spooltag version`.
func Info() string {
	return Current().String()
}

func (b Build) String() string {
	dirty := ""
	if b.Dirty {
		dirty = "-dirty"
	}
	return fmt.Sprintf("%s (%s%s, %s)", b.Version, b.Commit, dirty, b.BuildTime)
}

// Full returns Info plus the Go version and platform.
func Full() string {
	build := Current()
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s", build, build.Go, build.Platform)
}
