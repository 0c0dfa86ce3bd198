// SPDX-License-Identifier: Apache-2.0

package smartctl

import "github.com/sbraz/check-smart/pkg/nagios"

// Finding is one condition derived from smartctl's exit-status bits.
type Finding struct {
	Severity nagios.Severity
	Message  string
}

// Exit-status bits, per smartctl(8) RETURN VALUES.
const (
	bitCommandLineError  = 1 << 0
	bitDeviceOpenFailed  = 1 << 1
	bitCommandFailed     = 1 << 2
	bitDiskFailing       = 1 << 3
	bitPrefailBelow      = 1 << 4
	bitPrefailBelowPast  = 1 << 5
	bitSelfTestErrors    = 1 << 7
)

// DecodeExitStatus turns the exit-status bitmask into per-device
// findings. Bits 0 and 1 mean no usable data was produced and are
// returned as a fatal finding for the device. Bit 2 (a command failed
// or a checksum error was found) is suppressed when
// ignoreFailingCommands is set.
func DecodeExitStatus(status int64, ignoreFailingCommands bool) (findings []Finding, fatal bool) {
	if status&bitCommandLineError != 0 {
		return []Finding{{nagios.SeverityUnknown, "command line did not parse"}}, true
	}
	if status&bitDeviceOpenFailed != 0 {
		return []Finding{{nagios.SeverityUnknown, "device open failed"}}, true
	}
	if status&bitCommandFailed != 0 && !ignoreFailingCommands {
		findings = append(findings, Finding{nagios.SeverityWarning, "a command failed or a checksum error was found"})
	}
	if status&bitDiskFailing != 0 {
		findings = append(findings, Finding{nagios.SeverityCritical, "is in failing state"})
	}
	if status&bitPrefailBelow != 0 {
		findings = append(findings, Finding{nagios.SeverityCritical, "has prefail attributes below threshold"})
	}
	if status&bitPrefailBelowPast != 0 {
		findings = append(findings, Finding{nagios.SeverityWarning, "had prefail attributes below threshold at some point"})
	}
	if status&bitSelfTestErrors != 0 {
		findings = append(findings, Finding{nagios.SeverityWarning, "returned errors during the last self-test"})
	}
	return findings, false
}
