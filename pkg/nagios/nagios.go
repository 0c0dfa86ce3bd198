// SPDX-License-Identifier: Apache-2.0

// Package nagios implements the monitoring-plugin output conventions:
// severity ordering, exit codes and the status/perfdata line format.
package nagios

import (
	"fmt"
	"sort"
	"strings"
)

// Severity is a monitoring-plugin service state. The numeric values are
// the plugin exit codes. UNKNOWN outranks CRITICAL when aggregating,
// matching the usual plugin-framework ordering.
type Severity int

const (
	SeverityOK Severity = iota
	SeverityWarning
	SeverityCritical
	SeverityUnknown
)

func (s Severity) String() string {
	switch s {
	case SeverityOK:
		return "OK"
	case SeverityWarning:
		return "WARNING"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// ExitCode returns the process exit code for the severity.
func (s Severity) ExitCode() int {
	return int(s)
}

// Worst returns the more severe of a and b.
func Worst(a, b Severity) Severity {
	if b > a {
		return b
	}
	return a
}

// PerfDatum is a single performance-data sample, rendered as
// label=value on the perfdata side of the status line.
type PerfDatum struct {
	Label string
	Value uint64
}

// Report is the final plugin result handed back to the scheduler.
type Report struct {
	Severity Severity
	Messages []string
	PerfData []PerfDatum
}

// Add merges a partial outcome into the report, keeping the worst
// severity seen so far.
func (r *Report) Add(s Severity, message string) {
	r.Severity = Worst(r.Severity, s)
	if message != "" {
		r.Messages = append(r.Messages, message)
	}
}

// AddPerfData appends one perfdata sample. Labels must not contain
// spaces or equal signs; callers are expected to pass sanitized
// serial_metric labels.
func (r *Report) AddPerfData(label string, value uint64) {
	r.PerfData = append(r.PerfData, PerfDatum{Label: label, Value: value})
}

// Render produces the plugin output: "SMART <STATE>[ - <messages>]"
// followed by perfdata sorted by label for stable output.
func (r *Report) Render() string {
	var b strings.Builder
	b.WriteString("SMART ")
	b.WriteString(r.Severity.String())
	if len(r.Messages) > 0 {
		b.WriteString(" - ")
		b.WriteString(strings.Join(r.Messages, ", "))
	}
	if len(r.PerfData) > 0 {
		perf := make([]PerfDatum, len(r.PerfData))
		copy(perf, r.PerfData)
		sort.Slice(perf, func(i, j int) bool { return perf[i].Label < perf[j].Label })
		b.WriteString(" |")
		for _, p := range perf {
			fmt.Fprintf(&b, " %s=%d", p.Label, p.Value)
		}
	}
	return b.String()
}
