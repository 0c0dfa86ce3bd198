// SPDX-License-Identifier: Apache-2.0

package smartctl

// Output represents the JSON output of smartctl --json=s -x for one
// device. Only the sections the check consumes are mapped; unknown
// fields are ignored so newer smartmontools releases keep working.
type Output struct {
	JSONFormatVersion []int64        `json:"json_format_version"`
	Smartctl          Details        `json:"smartctl"`
	Device            Device         `json:"device"`
	ModelFamily       string         `json:"model_family,omitempty"`
	ModelName         string         `json:"model_name,omitempty"`
	SerialNumber      string         `json:"serial_number,omitempty"`
	FirmwareVersion   string         `json:"firmware_version,omitempty"`
	SmartStatus       *SmartStatus   `json:"smart_status,omitempty"`
	Temperature       *Temperature   `json:"temperature,omitempty"`
	ATASMARTAttrs     *ATAAttributes `json:"ata_smart_attributes,omitempty"`
	ATASMARTErrorLog  *ATAErrorLog   `json:"ata_smart_error_log,omitempty"`

	// The NVMe health log is kept untyped: device families keep adding
	// counters and every numeric entry is a candidate metric.
	NVMeHealthLog map[string]any `json:"nvme_smart_health_information_log,omitempty"`
}

// Details describes the smartctl invocation itself.
type Details struct {
	Argv       []string  `json:"argv"`
	Version    []int64   `json:"version"`
	ExitStatus int64     `json:"exit_status"`
	Messages   []Message `json:"messages,omitempty"`
}

// Message is a diagnostic emitted by smartctl alongside the data.
type Message struct {
	String   string `json:"string"`
	Severity string `json:"severity"`
}

// Device identifies the queried device.
type Device struct {
	Name     string `json:"name"`
	InfoName string `json:"info_name"`
	Type     string `json:"type"`
	Protocol string `json:"protocol"`
}

// SmartStatus is the device's overall health self-assessment.
type SmartStatus struct {
	Passed bool `json:"passed"`
}

// Temperature holds the current drive temperature. Parsed separately
// because raw temperature attribute values often embed min/max strings
// and are unusable as counters.
type Temperature struct {
	Current int64 `json:"current"`
}

// ATAAttributes is the traditional ATA SMART attribute table.
type ATAAttributes struct {
	Revision int64      `json:"revision"`
	Table    []ATAEntry `json:"table"`
}

// ATAEntry is a single row of the attribute table.
type ATAEntry struct {
	ID         int64    `json:"id"`
	Name       string   `json:"name"`
	Value      int64    `json:"value"`
	Worst      int64    `json:"worst"`
	Thresh     int64    `json:"thresh"`
	WhenFailed string   `json:"when_failed,omitempty"`
	Flags      ATAFlags `json:"flags"`
	Raw        ATARaw   `json:"raw"`
}

// ATAFlags carries the attribute flag bits.
type ATAFlags struct {
	Value      int64  `json:"value"`
	String     string `json:"string"`
	Prefailure bool   `json:"prefailure"`
	EventCount bool   `json:"event_count"`
}

// ATARaw is the raw value of an attribute table row.
type ATARaw struct {
	Value  int64  `json:"value"`
	String string `json:"string"`
}

// ATAErrorLog is the device error log. With -x smartctl reports the
// extended log; the summary form is kept for older drives.
type ATAErrorLog struct {
	Extended *ATAErrorLogSummary `json:"extended,omitempty"`
	Summary  *ATAErrorLogSummary `json:"summary,omitempty"`
}

// ATAErrorLogSummary carries the lifetime error count.
type ATAErrorLogSummary struct {
	Revision int64 `json:"revision"`
	Count    int64 `json:"count"`
}

// ErrorLogCount returns the number of errors in the device error log
// and whether a log section was present at all.
func (o *Output) ErrorLogCount() (int64, bool) {
	if o.ATASMARTErrorLog == nil {
		return 0, false
	}
	if o.ATASMARTErrorLog.Extended != nil {
		return o.ATASMARTErrorLog.Extended.Count, true
	}
	if o.ATASMARTErrorLog.Summary != nil {
		return o.ATASMARTErrorLog.Summary.Count, true
	}
	return 0, false
}
