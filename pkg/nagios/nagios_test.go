// SPDX-License-Identifier: Apache-2.0

package nagios

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorst(t *testing.T) {
	assert.Equal(t, SeverityWarning, Worst(SeverityOK, SeverityWarning))
	assert.Equal(t, SeverityWarning, Worst(SeverityWarning, SeverityOK))
	assert.Equal(t, SeverityCritical, Worst(SeverityWarning, SeverityCritical))
	assert.Equal(t, SeverityUnknown, Worst(SeverityCritical, SeverityUnknown))
	assert.Equal(t, SeverityOK, Worst(SeverityOK, SeverityOK))
}

func TestExitCodes(t *testing.T) {
	assert.Equal(t, 0, SeverityOK.ExitCode())
	assert.Equal(t, 1, SeverityWarning.ExitCode())
	assert.Equal(t, 2, SeverityCritical.ExitCode())
	assert.Equal(t, 3, SeverityUnknown.ExitCode())
}

func TestReportAddKeepsWorst(t *testing.T) {
	var r Report
	r.Add(SeverityWarning, "first problem")
	r.Add(SeverityOK, "")
	assert.Equal(t, SeverityWarning, r.Severity)
	assert.Equal(t, []string{"first problem"}, r.Messages)

	r.Add(SeverityCritical, "second problem")
	assert.Equal(t, SeverityCritical, r.Severity)
}

func TestRenderOK(t *testing.T) {
	var r Report
	assert.Equal(t, "SMART OK", r.Render())
}

func TestRenderWithMessagesAndPerfData(t *testing.T) {
	var r Report
	r.Add(SeverityWarning, "Disk ABC123: increment in counter Raw_Read_Error_Rate: 5 -> 7")
	r.AddPerfData("ABC123_Raw_Read_Error_Rate", 7)
	r.AddPerfData("ABC123_Power_On_Hours", 12345)

	out := r.Render()
	assert.Equal(t,
		"SMART WARNING - Disk ABC123: increment in counter Raw_Read_Error_Rate: 5 -> 7 |"+
			" ABC123_Power_On_Hours=12345 ABC123_Raw_Read_Error_Rate=7",
		out)
}
