// SPDX-License-Identifier: Apache-2.0

package smartctl

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleATA = `{
	"json_format_version": [1, 0],
	"smartctl": {
		"version": [7, 4],
		"argv": ["smartctl", "--json=s", "-x", "/dev/sda"],
		"exit_status": 0
	},
	"device": {"name": "/dev/sda", "info_name": "/dev/sda [SAT]", "type": "sat", "protocol": "ATA"},
	"model_family": "Seagate Exos X16",
	"model_name": "ST16000NM001G-2KK103",
	"serial_number": "ZL2A_TEST",
	"firmware_version": "SN03",
	"smart_status": {"passed": true},
	"temperature": {"current": 34},
	"ata_smart_attributes": {
		"revision": 10,
		"table": [
			{"id": 1, "name": "Raw_Read_Error_Rate", "value": 80, "worst": 64, "thresh": 44,
			 "flags": {"value": 15, "string": "POSR--", "prefailure": true, "event_count": false},
			 "raw": {"value": 98811632, "string": "98811632"}},
			{"id": 5, "name": "Reallocated_Sector_Ct", "value": 100, "worst": 100, "thresh": 10,
			 "when_failed": "now",
			 "flags": {"value": 51, "string": "PO--CK", "prefailure": true, "event_count": false},
			 "raw": {"value": 8, "string": "8"}}
		]
	},
	"ata_smart_error_log": {"extended": {"revision": 1, "count": 3}}
}`

func TestParseATA(t *testing.T) {
	out, err := Parse([]byte(sampleATA))
	require.NoError(t, err)

	assert.Equal(t, "ATA", out.Device.Protocol)
	assert.Equal(t, "ZL2A_TEST", out.SerialNumber)
	assert.Equal(t, "Seagate Exos X16", out.ModelFamily)
	require.NotNil(t, out.Temperature)
	assert.Equal(t, int64(34), out.Temperature.Current)
	require.NotNil(t, out.ATASMARTAttrs)
	require.Len(t, out.ATASMARTAttrs.Table, 2)
	assert.Equal(t, "now", out.ATASMARTAttrs.Table[1].WhenFailed)

	count, ok := out.ErrorLogCount()
	assert.True(t, ok)
	assert.Equal(t, int64(3), count)
}

func TestParseNVMeHealthLogStaysGeneric(t *testing.T) {
	sample := `{
		"smartctl": {"exit_status": 0},
		"device": {"name": "/dev/nvme0", "type": "nvme", "protocol": "NVMe"},
		"serial_number": "S4EWNX0N123456",
		"nvme_smart_health_information_log": {
			"media_errors": 0,
			"num_err_log_entries": 12,
			"temperature_sensors": [36, 41]
		}
	}`
	out, err := Parse([]byte(sample))
	require.NoError(t, err)
	assert.Equal(t, float64(12), out.NVMeHealthLog["num_err_log_entries"])
	assert.IsType(t, []any{}, out.NVMeHealthLog["temperature_sensors"])

	_, ok := out.ErrorLogCount()
	assert.False(t, ok)
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse([]byte("not json at all"))
	assert.Error(t, err)
}

func TestReaderQuerier(t *testing.T) {
	q := ReaderQuerier{R: strings.NewReader(sampleATA)}
	out, err := q.Query("/dev/ignored")
	require.NoError(t, err)
	assert.Equal(t, "/dev/sda", out.Device.Name)
}

func TestErrorMessages(t *testing.T) {
	out := &Output{Smartctl: Details{Messages: []Message{
		{String: "Smartctl open device failed", Severity: "error"},
		{String: "some informational note", Severity: "warning"},
		{String: "known flaky message", Severity: "error"},
	}}}

	msgs := out.ErrorMessages(nil)
	assert.Equal(t, []string{"Smartctl open device failed", "known flaky message"}, msgs)

	msgs = out.ErrorMessages([]string{"known flaky message"})
	assert.Equal(t, []string{"Smartctl open device failed"}, msgs)
}
