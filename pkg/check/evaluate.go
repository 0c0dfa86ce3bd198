// SPDX-License-Identifier: Apache-2.0

package check

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/sbraz/check-smart/pkg/nagios"
	"github.com/sbraz/check-smart/pkg/smartctl"
)

// MetricResult is the outcome of evaluating one metric on one run.
type MetricResult struct {
	Key       MetricKey
	Value     uint64
	Failing   bool
	Checked   bool
	Increment bool
	Baseline  uint64
	Delta     uint64
}

// DeviceResult aggregates one device's metric results and any
// device-level findings.
type DeviceResult struct {
	Path     string
	Identity DeviceIdentity
	Severity nagios.Severity
	Problems []string
	Metrics  []MetricResult
	// Skipped devices failed their query and are excluded from
	// aggregation because ignore-failing-commands is set. The reason
	// is retained in Problems so the skip is never silent.
	Skipped bool
}

// Result is the run outcome across all devices, before report
// formatting.
type Result struct {
	Severity nagios.Severity
	Devices  []DeviceResult
	// Warnings are process-level conditions (cold start, save
	// failure) that affect the overall severity without belonging to
	// any one device.
	Warnings []string
}

// AddWarning records a process-level warning and degrades the overall
// severity accordingly.
func (r *Result) AddWarning(message string) {
	r.Warnings = append(r.Warnings, message)
	r.Severity = nagios.Worst(r.Severity, nagios.SeverityWarning)
}

// Evaluator runs the full failing-flag and increment evaluation for a
// set of devices against one open history store.
type Evaluator struct {
	Querier               smartctl.Querier
	Store                 *Store
	Policy                *Policy
	IgnoreFailingCommands bool
	IgnoreErrorMessages   []string
}

// Run evaluates the given resolved device paths and aggregates the
// worst severity. Aggregation is a maximum over an unordered set, so
// device order never changes the outcome.
func (e *Evaluator) Run(devices []string) *Result {
	result := &Result{}
	detector := &Detector{Store: e.Store}

	for _, device := range devices {
		dr := e.evaluateDevice(detector, device)
		if !dr.Skipped {
			result.Severity = nagios.Worst(result.Severity, dr.Severity)
		}
		result.Devices = append(result.Devices, dr)
	}
	return result
}

func (e *Evaluator) evaluateDevice(detector *Detector, device string) DeviceResult {
	dr := DeviceResult{Path: device, Identity: DeviceIdentity(device)}

	out, err := e.Querier.Query(device)
	if err != nil {
		return e.deviceFailed(dr, err.Error())
	}
	if msgs := out.ErrorMessages(e.IgnoreErrorMessages); len(msgs) > 0 {
		return e.deviceFailed(dr, "smartctl reported: "+strings.Join(msgs, "; "))
	}

	dr.Identity = Identity(out.SerialNumber, device)

	findings, fatal := smartctl.DecodeExitStatus(out.Smartctl.ExitStatus, e.IgnoreFailingCommands)
	if fatal {
		return e.deviceFailed(dr, findings[0].Message)
	}
	for _, f := range findings {
		dr.Severity = nagios.Worst(dr.Severity, f.Severity)
		dr.Problems = append(dr.Problems, f.Message)
	}

	var increments []string
	for _, rec := range Normalize(out) {
		if e.Policy.MetricExcluded(rec.Name) {
			// Drop history too: re-including the metric later must
			// start from a clean baseline.
			e.Store.Forget(MetricKey{Device: dr.Identity, Metric: rec.Name})
			continue
		}
		mr := e.evaluateMetric(detector, dr.Identity, out.ModelFamily, rec)
		dr.Metrics = append(dr.Metrics, mr)

		if mr.Failing {
			dr.Severity = nagios.Worst(dr.Severity, nagios.SeverityCritical)
			dr.Problems = append(dr.Problems, fmt.Sprintf("failing attribute %s", mr.Key.Metric))
		}
		if mr.Increment {
			dr.Severity = nagios.Worst(dr.Severity, nagios.SeverityWarning)
			increments = append(increments,
				fmt.Sprintf("%s: %d -> %d", mr.Key.Metric, mr.Baseline, mr.Value))
		}
	}
	if len(increments) > 0 {
		plural := ""
		if len(increments) > 1 {
			plural = "s"
		}
		dr.Problems = append(dr.Problems,
			fmt.Sprintf("increment in counter%s %s", plural, strings.Join(increments, ", ")))
	}
	return dr
}

func (e *Evaluator) evaluateMetric(detector *Detector, identity DeviceIdentity, modelFamily string, rec MetricRecord) MetricResult {
	key := MetricKey{Device: identity, Metric: rec.Name}
	mr := MetricResult{Key: key, Value: rec.Value, Failing: rec.Failing, Checked: rec.Checked}

	window := e.Store.Get(key)
	if len(window) > 0 {
		mr.Baseline = window[0]
	}
	detected, delta := detector.Check(key, rec.Value)

	// Unchecked metrics only seed history and perfdata; suppressed
	// model-family metrics keep their window current without alerting.
	if detected && rec.Checked && !e.Policy.IncrementExcluded(identity, modelFamily, rec.Name) {
		mr.Increment = true
		mr.Delta = delta
	}
	log.Info().Str("device", string(identity)).Str("metric", rec.Name).
		Uint64("value", rec.Value).Bool("increment", mr.Increment).Msg("metric evaluated")
	return mr
}

// deviceFailed classifies a device whose query produced no usable
// data. With ignore-failing-commands the device is excluded from
// aggregation; otherwise it surfaces as UNKNOWN.
func (e *Evaluator) deviceFailed(dr DeviceResult, reason string) DeviceResult {
	dr.Problems = append(dr.Problems, reason)
	if e.IgnoreFailingCommands {
		dr.Skipped = true
		log.Warn().Str("device", dr.Path).Str("reason", reason).
			Msg("excluding device with failed query from aggregation")
		return dr
	}
	dr.Severity = nagios.SeverityUnknown
	return dr
}

// BuildReport renders an evaluation result into plugin output:
// per-device problem messages plus one perfdata sample per metric.
func BuildReport(result *Result) *nagios.Report {
	report := &nagios.Report{Severity: result.Severity}
	for _, w := range result.Warnings {
		report.Add(result.Severity, w)
	}
	for _, dr := range result.Devices {
		for _, problem := range dr.Problems {
			name := string(dr.Identity)
			if name == "" {
				name = dr.Path
			}
			report.Add(result.Severity, fmt.Sprintf("Disk %s: %s", name, problem))
		}
		for _, mr := range dr.Metrics {
			report.AddPerfData(PerfLabel(mr.Key.Device, mr.Key.Metric), mr.Value)
		}
	}
	return report
}
