// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"runtime"
)

// Set with -ldflags "-X github.com/bureau-foundation/aura/lib/version.<Name>=...".
var (
	GitCommit = "unknown"
	// GitDirty is "true" when the tree had uncommitted changes.
	GitDirty  = "false"
	BuildTime = "unknown"
	Version   = "0.1.0-dev"
)

// ProtocolVersion is the rendezvous handshake version this build
// speaks. Peers with a different version refuse the handshake.
const ProtocolVersion = "1"

// Summary describes a build. aura-sim embeds it in its JSON output.
type Summary struct {
	Version         string `json:"version"`
	Commit          string `json:"commit"`
	Dirty           bool   `json:"dirty"`
	BuildTime       string `json:"build_time"`
	ProtocolVersion string `json:"protocol_version"`
	Go              string `json:"go"`
	Platform        string `json:"platform"`
}

// Describe returns the summary of the running build.
func Describe() Summary {
	return Summary{
		Version:         Version,
		Commit:          GitCommit,
		Dirty:           GitDirty == "true",
		BuildTime:       BuildTime,
		ProtocolVersion: ProtocolVersion,
		Go:              runtime.Version(),
		Platform:        runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// String is the one-line form used for --version.
func (s Summary) String() string {
	commit := s.Commit
	if s.Dirty {
		commit += "-dirty"
	}
	return fmt.Sprintf("%s (%s, %s)", s.Version, commit, s.BuildTime)
}

// Info returns the --version line of the running build.
func Info() string { return Describe().String() }

// Full adds the protocol, Go and platform lines to Info.
func Full() string {
	summary := Describe()
	return fmt.Sprintf("%s\n  Protocol: %s\n  Go: %s\n  Platform: %s",
		summary, summary.ProtocolVersion, summary.Go, summary.Platform)
}
