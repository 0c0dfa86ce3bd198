// SPDX-License-Identifier: Apache-2.0

package check

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbraz/check-smart/pkg/nagios"
	"github.com/sbraz/check-smart/pkg/smartctl"
)

// fakeQuerier serves canned outputs per device path.
type fakeQuerier struct {
	outputs map[string]*smartctl.Output
	errs    map[string]error
}

func (q *fakeQuerier) Query(device string) (*smartctl.Output, error) {
	if err, ok := q.errs[device]; ok {
		return nil, err
	}
	out, ok := q.outputs[device]
	if !ok {
		return nil, errors.New("no canned output for " + device)
	}
	return out, nil
}

func ataOutput(serial string, attrs ...smartctl.ATAEntry) *smartctl.Output {
	return &smartctl.Output{
		Device:        smartctl.Device{Name: "/dev/fake", Protocol: "ATA"},
		SerialNumber:  serial,
		ATASMARTAttrs: &smartctl.ATAAttributes{Table: attrs},
	}
}

func newEvaluator(t *testing.T, q smartctl.Querier) *Evaluator {
	t.Helper()
	return &Evaluator{
		Querier: q,
		Store:   openTestStore(t, 4),
		Policy:  &Policy{},
	}
}

func TestRunHealthyDeviceIsOK(t *testing.T) {
	q := &fakeQuerier{outputs: map[string]*smartctl.Output{
		"/dev/sda": ataOutput("SER1",
			smartctl.ATAEntry{Name: "Reallocated_Sector_Ct", Raw: smartctl.ATARaw{Value: 0}}),
	}}
	e := newEvaluator(t, q)

	result := e.Run([]string{"/dev/sda"})
	assert.Equal(t, nagios.SeverityOK, result.Severity)
	require.Len(t, result.Devices, 1)
	assert.Equal(t, DeviceIdentity("SER1"), result.Devices[0].Identity)
	assert.Empty(t, result.Devices[0].Problems)
}

func TestRunFailingAttributeIsCritical(t *testing.T) {
	q := &fakeQuerier{outputs: map[string]*smartctl.Output{
		"/dev/sda": ataOutput("SER1",
			smartctl.ATAEntry{
				Name: "Reallocated_Sector_Ct", WhenFailed: "now",
				Flags: smartctl.ATAFlags{Prefailure: true},
				Raw:   smartctl.ATARaw{Value: 12},
			}),
	}}
	e := newEvaluator(t, q)

	result := e.Run([]string{"/dev/sda"})
	assert.Equal(t, nagios.SeverityCritical, result.Severity)
	assert.Contains(t, result.Devices[0].Problems, "failing attribute Reallocated_Sector_Ct")
}

func TestRunIncrementIsWarning(t *testing.T) {
	q := &fakeQuerier{outputs: map[string]*smartctl.Output{
		"/dev/sda": ataOutput("SER1",
			smartctl.ATAEntry{Name: "Raw_Read_Error_Rate", Raw: smartctl.ATARaw{Value: 7}}),
	}}
	e := newEvaluator(t, q)
	e.Store.Record(MetricKey{Device: "SER1", Metric: "Raw_Read_Error_Rate"}, 5)

	result := e.Run([]string{"/dev/sda"})
	assert.Equal(t, nagios.SeverityWarning, result.Severity)
	require.Len(t, result.Devices[0].Metrics, 1)
	mr := result.Devices[0].Metrics[0]
	assert.True(t, mr.Increment)
	assert.Equal(t, uint64(2), mr.Delta)
	assert.Contains(t, result.Devices[0].Problems, "increment in counter Raw_Read_Error_Rate: 5 -> 7")
}

func TestRunFailingFlagOutranksIncrement(t *testing.T) {
	q := &fakeQuerier{outputs: map[string]*smartctl.Output{
		"/dev/sda": ataOutput("SER1",
			smartctl.ATAEntry{
				Name: "Reallocated_Sector_Ct", WhenFailed: "now",
				Flags: smartctl.ATAFlags{Prefailure: true},
				Raw:   smartctl.ATARaw{Value: 20},
			}),
	}}
	e := newEvaluator(t, q)
	e.Store.Record(MetricKey{Device: "SER1", Metric: "Reallocated_Sector_Ct"}, 10)

	result := e.Run([]string{"/dev/sda"})
	assert.Equal(t, nagios.SeverityCritical, result.Severity)
}

func TestRunUncheckedMetricNeverAlerts(t *testing.T) {
	q := &fakeQuerier{outputs: map[string]*smartctl.Output{
		"/dev/sda": ataOutput("SER1",
			smartctl.ATAEntry{Name: "Power_On_Hours", Raw: smartctl.ATARaw{Value: 5001}}),
	}}
	e := newEvaluator(t, q)
	e.Store.Record(MetricKey{Device: "SER1", Metric: "Power_On_Hours"}, 5000)

	result := e.Run([]string{"/dev/sda"})
	assert.Equal(t, nagios.SeverityOK, result.Severity)
	// The metric is still tracked and reported.
	require.Len(t, result.Devices[0].Metrics, 1)
	assert.False(t, result.Devices[0].Metrics[0].Increment)
}

func TestRunModelFamilyExclusionSuppressesIncrement(t *testing.T) {
	out := ataOutput("SER1",
		smartctl.ATAEntry{Name: "Seek_Error_Rate", Raw: smartctl.ATARaw{Value: 900}})
	out.ModelFamily = "Seagate Exos X16"
	q := &fakeQuerier{outputs: map[string]*smartctl.Output{"/dev/sda": out}}
	e := newEvaluator(t, q)
	e.Store.Record(MetricKey{Device: "SER1", Metric: "Seek_Error_Rate"}, 100)

	result := e.Run([]string{"/dev/sda"})
	assert.Equal(t, nagios.SeverityOK, result.Severity)
}

func TestRunAggregationIsWorstOverDevices(t *testing.T) {
	q := &fakeQuerier{outputs: map[string]*smartctl.Output{
		"/dev/sda": ataOutput("SER1",
			smartctl.ATAEntry{Name: "media_errors", Raw: smartctl.ATARaw{Value: 0}}),
		"/dev/sdb": ataOutput("SER2",
			smartctl.ATAEntry{Name: "Raw_Read_Error_Rate", Raw: smartctl.ATARaw{Value: 9}}),
		"/dev/sdc": ataOutput("SER3",
			smartctl.ATAEntry{Name: "media_errors", Raw: smartctl.ATARaw{Value: 0}}),
	}}
	e := newEvaluator(t, q)
	e.Store.Record(MetricKey{Device: "SER2", Metric: "Raw_Read_Error_Rate"}, 5)

	// {OK, WARNING, OK} aggregates to WARNING.
	result := e.Run([]string{"/dev/sda", "/dev/sdb", "/dev/sdc"})
	assert.Equal(t, nagios.SeverityWarning, result.Severity)

	// {OK, OK} aggregates to OK.
	okOnly := newEvaluator(t, q)
	result = okOnly.Run([]string{"/dev/sda", "/dev/sdc"})
	assert.Equal(t, nagios.SeverityOK, result.Severity)
}

func TestRunQueryFailureIsUnknown(t *testing.T) {
	q := &fakeQuerier{
		outputs: map[string]*smartctl.Output{
			"/dev/sda": ataOutput("SER1",
				smartctl.ATAEntry{Name: "media_errors", Raw: smartctl.ATARaw{Value: 0}}),
		},
		errs: map[string]error{"/dev/sdb": errors.New("open failed")},
	}
	e := newEvaluator(t, q)

	result := e.Run([]string{"/dev/sda", "/dev/sdb"})
	assert.Equal(t, nagios.SeverityUnknown, result.Severity)
	// The healthy device was still checked.
	assert.Equal(t, nagios.SeverityOK, result.Devices[0].Severity)
	assert.NotEmpty(t, result.Devices[1].Problems)
}

func TestRunQueryFailureIgnored(t *testing.T) {
	q := &fakeQuerier{
		outputs: map[string]*smartctl.Output{
			"/dev/sda": ataOutput("SER1",
				smartctl.ATAEntry{Name: "media_errors", Raw: smartctl.ATARaw{Value: 0}}),
		},
		errs: map[string]error{"/dev/sdb": errors.New("open failed")},
	}
	e := newEvaluator(t, q)
	e.IgnoreFailingCommands = true

	result := e.Run([]string{"/dev/sda", "/dev/sdb"})
	assert.Equal(t, nagios.SeverityOK, result.Severity)
	// Skipped, but the reason is still recorded.
	assert.True(t, result.Devices[1].Skipped)
	assert.NotEmpty(t, result.Devices[1].Problems)
}

func TestRunExitStatusFindings(t *testing.T) {
	out := ataOutput("SER1")
	out.Smartctl.ExitStatus = 1 << 3 // disk failing
	q := &fakeQuerier{outputs: map[string]*smartctl.Output{"/dev/sda": out}}
	e := newEvaluator(t, q)

	result := e.Run([]string{"/dev/sda"})
	assert.Equal(t, nagios.SeverityCritical, result.Severity)
	assert.Contains(t, result.Devices[0].Problems, "is in failing state")
}

func TestRunErrorMessageAbortsDevice(t *testing.T) {
	out := ataOutput("SER1")
	out.Smartctl.Messages = []smartctl.Message{{String: "cannot read", Severity: "error"}}
	q := &fakeQuerier{outputs: map[string]*smartctl.Output{"/dev/sda": out}}
	e := newEvaluator(t, q)

	result := e.Run([]string{"/dev/sda"})
	assert.Equal(t, nagios.SeverityUnknown, result.Severity)

	// The same message in the ignore list lets the device through.
	ignoring := newEvaluator(t, q)
	ignoring.IgnoreErrorMessages = []string{"cannot read"}
	result = ignoring.Run([]string{"/dev/sda"})
	assert.Equal(t, nagios.SeverityOK, result.Severity)
}

func TestExclusionIdempotence(t *testing.T) {
	q := &fakeQuerier{outputs: map[string]*smartctl.Output{
		"/dev/sda": ataOutput("SER1",
			smartctl.ATAEntry{Name: "Raw_Read_Error_Rate", Raw: smartctl.ATARaw{Value: 50}}),
	}}

	// Seed history, then run with the metric excluded: no alert and no
	// history write.
	e := newEvaluator(t, q)
	key := MetricKey{Device: "SER1", Metric: "Raw_Read_Error_Rate"}
	e.Store.Record(key, 5)
	e.Policy.ExcludeMetrics = []string{"Raw_Read_Error_Rate"}

	result := e.Run([]string{"/dev/sda"})
	assert.Equal(t, nagios.SeverityOK, result.Severity)
	assert.Empty(t, result.Devices[0].Metrics)
	assert.Empty(t, e.Store.Get(key), "exclusion must clear stored history")

	// Re-inclusion starts from an empty window: the first observation
	// seeds the baseline and cannot alert.
	e.Policy.ExcludeMetrics = nil
	result = e.Run([]string{"/dev/sda"})
	assert.Equal(t, nagios.SeverityOK, result.Severity)
	assert.Equal(t, []uint64{50}, e.Store.Get(key))
}

func TestAddWarningDegradesOK(t *testing.T) {
	result := &Result{}
	result.AddWarning("failed to save state file")
	assert.Equal(t, nagios.SeverityWarning, result.Severity)
}

func TestBuildReport(t *testing.T) {
	result := &Result{
		Severity: nagios.SeverityWarning,
		Devices: []DeviceResult{
			{
				Path:     "/dev/sda",
				Identity: "SER1",
				Severity: nagios.SeverityWarning,
				Problems: []string{"increment in counter media_errors: 0 -> 2"},
				Metrics: []MetricResult{
					{Key: MetricKey{Device: "SER1", Metric: "media_errors"}, Value: 2},
				},
			},
		},
	}
	report := BuildReport(result)
	assert.Equal(t, nagios.SeverityWarning, report.Severity)
	assert.Equal(t,
		"SMART WARNING - Disk SER1: increment in counter media_errors: 0 -> 2 | SER1_media_errors=2",
		report.Render())
}
