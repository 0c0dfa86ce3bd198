// SPDX-License-Identifier: Apache-2.0

package check

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DeviceIdentity is the stable key under which a physical device's
// history is persisted. It survives /dev renumbering across reboots as
// long as the hardware serial is readable.
type DeviceIdentity string

// MetricKey addresses one counter of one device in the history store.
type MetricKey struct {
	Device DeviceIdentity
	Metric string
}

// ErrNotADevice is returned when a path exists but is not a block or
// character device node.
var ErrNotADevice = errors.New("not a block or character device")

// ResolveDevice resolves symlinks (e.g. /dev/disk/by-id/... targets)
// and returns the canonical absolute path. Checks are frequently
// configured against stable symlinks, so two paths naming the same
// device must resolve identically.
func ResolveDevice(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	abs, err := filepath.Abs(resolved)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	return abs, nil
}

// ValidateDevice verifies that the path refers to a device node.
func ValidateDevice(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Mode()&(os.ModeDevice|os.ModeCharDevice) == 0 {
		return fmt.Errorf("%s: %w", path, ErrNotADevice)
	}
	return nil
}

// Identity derives the persistence key for a device. The hardware
// serial is preferred; underscores are mapped to dashes so perfdata
// labels can be split on the first underscore. When the serial is
// unavailable the canonical path keeps the identity stable as long as
// the path itself does not move.
func Identity(serial, canonicalPath string) DeviceIdentity {
	if serial != "" {
		return DeviceIdentity(strings.ReplaceAll(serial, "_", "-"))
	}
	return DeviceIdentity(canonicalPath)
}
