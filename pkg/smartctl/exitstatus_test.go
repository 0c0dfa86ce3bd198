// SPDX-License-Identifier: Apache-2.0

package smartctl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbraz/check-smart/pkg/nagios"
)

func TestDecodeExitStatusClean(t *testing.T) {
	findings, fatal := DecodeExitStatus(0, false)
	assert.False(t, fatal)
	assert.Empty(t, findings)
}

func TestDecodeExitStatusFatalBits(t *testing.T) {
	for _, status := range []int64{1 << 0, 1 << 1} {
		findings, fatal := DecodeExitStatus(status, false)
		assert.True(t, fatal, "status %d", status)
		require.Len(t, findings, 1)
		assert.Equal(t, nagios.SeverityUnknown, findings[0].Severity)
	}
}

func TestDecodeExitStatusCommandFailed(t *testing.T) {
	findings, fatal := DecodeExitStatus(1<<2, false)
	assert.False(t, fatal)
	require.Len(t, findings, 1)
	assert.Equal(t, nagios.SeverityWarning, findings[0].Severity)

	// The same bit is suppressed with ignore-failing-commands.
	findings, fatal = DecodeExitStatus(1<<2, true)
	assert.False(t, fatal)
	assert.Empty(t, findings)
}

func TestDecodeExitStatusCombined(t *testing.T) {
	// Failing disk with prefail attributes below threshold and
	// self-test errors: one finding per bit, critical ones first.
	findings, fatal := DecodeExitStatus(1<<3|1<<4|1<<7, false)
	assert.False(t, fatal)
	require.Len(t, findings, 3)
	assert.Equal(t, nagios.SeverityCritical, findings[0].Severity)
	assert.Equal(t, "is in failing state", findings[0].Message)
	assert.Equal(t, nagios.SeverityCritical, findings[1].Severity)
	assert.Equal(t, nagios.SeverityWarning, findings[2].Severity)
}

func TestDecodeExitStatusPastPrefail(t *testing.T) {
	findings, fatal := DecodeExitStatus(1<<5, false)
	assert.False(t, fatal)
	require.Len(t, findings, 1)
	assert.Equal(t, nagios.SeverityWarning, findings[0].Severity)
	assert.Equal(t, "had prefail attributes below threshold at some point", findings[0].Message)
}
