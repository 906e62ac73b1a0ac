// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
)

type statusError struct {
	code    int
	message string
}

func (e statusError) Error() string { return e.message }
func (e statusError) ExitCode() int { return e.code }

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"Nil", nil, 0},
		{"Plain", errors.New("boom"), 1},
		{"Coder", statusError{code: 3, message: "diverged"}, 3},
		{"WrappedCoder", fmt.Errorf("run: %w", statusError{code: 4}), 4},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := ExitCode(test.err); got != test.want {
				t.Errorf("ExitCode = %d, want %d", got, test.want)
			}
		})
	}
}

func TestReport(t *testing.T) {
	var buffer bytes.Buffer
	Report(&buffer, errors.New("storage unavailable"))
	if got := buffer.String(); got != "error: storage unavailable\n" {
		t.Errorf("report = %q", got)
	}

	buffer.Reset()
	Report(&buffer, nil)
	Report(&buffer, statusError{code: 2})
	if buffer.Len() != 0 {
		t.Errorf("silent errors wrote %q", buffer.String())
	}
}
