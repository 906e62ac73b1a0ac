// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"runtime"
	"strings"
	"testing"
)

func TestDescribe(t *testing.T) {
	original := struct{ commit, dirty, built string }{GitCommit, GitDirty, BuildTime}
	t.Cleanup(func() { GitCommit, GitDirty, BuildTime = original.commit, original.dirty, original.built })

	tests := []struct {
		name  string
		dirty string
		want  string
	}{
		{"Clean", "false", Version + " (abc1234, 2026-01-01T00:00:00Z)"},
		{"Dirty", "true", Version + " (abc1234-dirty, 2026-01-01T00:00:00Z)"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			GitCommit, GitDirty, BuildTime = "abc1234", test.dirty, "2026-01-01T00:00:00Z"
			if got := Info(); got != test.want {
				t.Errorf("Info() = %q, want %q", got, test.want)
			}
			summary := Describe()
			if summary.Dirty != (test.dirty == "true") || summary.Commit != "abc1234" {
				t.Errorf("Describe() = %+v", summary)
			}
		})
	}
}

func TestFull(t *testing.T) {
	full := Full()
	for _, want := range []string{"Protocol: " + ProtocolVersion, "Go: " + runtime.Version(), runtime.GOOS + "/" + runtime.GOARCH} {
		if !strings.Contains(full, want) {
			t.Errorf("Full() = %q, missing %q", full, want)
		}
	}
}
