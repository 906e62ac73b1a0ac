// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package security

import (
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// ErrViolation is wrapped by every error a refusing component returns.
var ErrViolation = errors.New("security: critical security violation")

// Severity ranks an issue.
type Severity uint8

const (
	SeverityInfo Severity = iota + 1
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return fmt.Sprintf("severity(%d)", uint8(s))
	}
}

// MarshalText renders the severity name.
func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Kind classifies an issue.
type Kind string

const (
	KindCriticalSecurityViolation Kind = "critical_security_violation"
	KindInconsistency             Kind = "inconsistency"
	KindObservation               Kind = "observation"
)

// Components named in reports.
const (
	ComponentOpLog     = "oplog"
	ComponentTree      = "tree"
	ComponentBootstrap = "bootstrap"
	ComponentKeystore  = "keystore"
)

// Issue is one finding.
type Issue struct {
	Severity  Severity `json:"severity"`
	Kind      Kind     `json:"kind"`
	Component string   `json:"component"`
	Subject   string   `json:"subject,omitempty"`
	Message   string   `json:"message"`
}

func (i Issue) Error() string {
	if i.Subject == "" {
		return fmt.Sprintf("%s: %s", i.Component, i.Message)
	}
	return fmt.Sprintf("%s %s: %s", i.Component, i.Subject, i.Message)
}

// Info records an observation.
func Info(component, subject, message string) Issue {
	return Issue{Severity: SeverityInfo, Kind: KindObservation, Component: component, Subject: subject, Message: message}
}

// Warning records an inconsistency that does not affect integrity.
func Warning(component, subject, message string) Issue {
	return Issue{Severity: SeverityWarning, Kind: KindInconsistency, Component: component, Subject: subject, Message: message}
}

// Critical records an integrity failure.
func Critical(component, subject, message string) Issue {
	return Issue{Severity: SeverityCritical, Kind: KindCriticalSecurityViolation, Component: component, Subject: subject, Message: message}
}

// Report is the result of one validation run.
type Report struct {
	Issues []Issue `json:"issues"`
}

func (r *Report) add(issue Issue) { r.Issues = append(r.Issues, issue) }

// Critical returns the critical issues, optionally limited to one
// component. An empty component matches all.
func (r Report) Critical(component string) []Issue {
	var critical []Issue
	for _, issue := range r.Issues {
		if issue.Severity == SeverityCritical && (component == "" || issue.Component == component) {
			critical = append(critical, issue)
		}
	}
	return critical
}

// Count returns the number of issues at severity.
func (r Report) Count(severity Severity) int {
	count := 0
	for _, issue := range r.Issues {
		if issue.Severity == severity {
			count++
		}
	}
	return count
}

// Err joins every critical issue, or returns nil when there are none.
func (r Report) Err() error {
	var result *multierror.Error
	for _, issue := range r.Critical("") {
		result = multierror.Append(result, issue)
	}
	return result.ErrorOrNil()
}

// Refuse returns an error wrapping ErrViolation when component has a
// critical issue in this report.
func (r Report) Refuse(component string) error {
	critical := r.Critical(component)
	if len(critical) == 0 {
		return nil
	}
	var result *multierror.Error
	for _, issue := range critical {
		result = multierror.Append(result, issue)
	}
	return fmt.Errorf("%w: %s: %w", ErrViolation, component, result)
}

// Gate remembers critical issues per component across validation runs.
// Issues stay until Clear, so a later clean run does not silently
// re-enable a component.
type Gate struct {
	mu     sync.Mutex
	issues map[string][]Issue
}

// NewGate returns a gate with no outstanding issues.
func NewGate() *Gate {
	return &Gate{issues: make(map[string][]Issue)}
}

// Record adds the critical issues of report.
func (g *Gate) Record(report Report) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, issue := range report.Critical("") {
		g.issues[issue.Component] = append(g.issues[issue.Component], issue)
	}
}

// Refuse returns an error wrapping ErrViolation while component has
// outstanding critical issues.
func (g *Gate) Refuse(component string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Report{Issues: g.issues[component]}.Refuse(component)
}

// Clear drops the outstanding issues of component.
func (g *Gate) Clear(component string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.issues, component)
}
