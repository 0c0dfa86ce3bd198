// SPDX-License-Identifier: Apache-2.0

// Package smartctl invokes smartmontools' smartctl and decodes its
// JSON output and exit status.
package smartctl

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/rs/zerolog/log"
)

// Querier retrieves the SMART data for one device. The evaluator only
// depends on this interface so tests can substitute canned output.
type Querier interface {
	Query(device string) (*Output, error)
}

// Installed reports whether smartctl is available in PATH.
func Installed() bool {
	_, err := exec.LookPath("smartctl")
	return err == nil
}

// ExecQuerier runs smartctl for real. Sudo is non-interactive (-n) so
// an unattended check fails fast instead of hanging on a password
// prompt.
type ExecQuerier struct {
	UseSudo bool
}

// Query runs smartctl --json=s -x against the device. smartctl sets
// exit-status bits for device problems while still emitting valid
// JSON, so stdout is parsed regardless of the exit code; only an empty
// stdout is treated as a command failure.
func (q ExecQuerier) Query(device string) (*Output, error) {
	args := []string{"smartctl", "--json=s", "-x", device}
	if q.UseSudo {
		args = append([]string{"sudo", "-n"}, args...)
	}
	log.Info().Str("command", strings.Join(args, " ")).Msg("running smartctl")

	cmd := exec.Command(args[0], args[1:]...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if len(out) == 0 {
		if err != nil {
			return nil, fmt.Errorf("smartctl failed for %s: %w; stderr: %q", device, err, stderr.String())
		}
		return nil, fmt.Errorf("smartctl produced no output for %s", device)
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return nil, fmt.Errorf("smartctl failed for %s: %w", device, err)
	}
	return Parse(out)
}

// Parse decodes one smartctl JSON document.
func Parse(data []byte) (*Output, error) {
	var out Output
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode smartctl JSON output: %w", err)
	}
	return &out, nil
}

// ReaderQuerier parses smartctl output from a stream instead of
// running the tool. Used by the --load-json debug mode where the
// device argument is ignored.
type ReaderQuerier struct {
	R io.Reader
}

func (q ReaderQuerier) Query(string) (*Output, error) {
	data, err := io.ReadAll(q.R)
	if err != nil {
		return nil, fmt.Errorf("failed to read smartctl JSON input: %w", err)
	}
	return Parse(data)
}

// ErrorMessages returns the error-severity diagnostics smartctl
// attached to the run, minus any message the caller chose to ignore.
func (o *Output) ErrorMessages(ignore []string) []string {
	var msgs []string
	for _, m := range o.Smartctl.Messages {
		if m.Severity != "error" {
			continue
		}
		ignored := false
		for _, ign := range ignore {
			if m.String == ign {
				ignored = true
				break
			}
		}
		if !ignored {
			msgs = append(msgs, m.String)
		}
	}
	return msgs
}
