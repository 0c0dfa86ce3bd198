// SPDX-License-Identifier: Apache-2.0

package check

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// scsiTypeDisk is the SCSI peripheral device type for direct-access
// block devices.
const scsiTypeDisk = 0

// Discoverer enumerates checkable block devices from sysfs. The roots
// are configurable so tests can point at a fabricated tree.
type Discoverer struct {
	SysBlockRoot string // default /sys/block
	DevRoot      string // default /dev
}

// NewDiscoverer returns a Discoverer rooted at the real sysfs.
func NewDiscoverer() *Discoverer {
	return &Discoverer{SysBlockRoot: "/sys/block", DevRoot: "/dev"}
}

// Discover lists candidate disk device paths: entries with a device
// directory, SCSI type disk, nonzero size, and (optionally) not
// removable. The policy's device lists are applied by the caller after
// path resolution; removable skip happens here, before anything is
// queried, because spun-down removable media can be slow to probe.
func (d *Discoverer) Discover(skipRemovable bool) ([]string, error) {
	entries, err := os.ReadDir(d.SysBlockRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", d.SysBlockRoot, err)
	}

	var devices []string
	for _, entry := range entries {
		blockPath := filepath.Join(d.SysBlockRoot, entry.Name())
		if info, err := os.Stat(filepath.Join(blockPath, "device")); err != nil || !info.IsDir() {
			continue
		}

		// A missing type file means the kernel driver does not expose
		// one; assume a disk, as lsblk does.
		scsiType, err := readSysInt(filepath.Join(blockPath, "device", "type"))
		if errors.Is(err, os.ErrNotExist) {
			scsiType = scsiTypeDisk
		} else if err != nil {
			log.Debug().Err(err).Str("device", entry.Name()).Msg("skipping device with unreadable type")
			continue
		}
		if scsiType != scsiTypeDisk {
			continue
		}

		size, err := readSysInt(filepath.Join(blockPath, "size"))
		if err != nil || size == 0 {
			continue
		}

		if skipRemovable {
			if removable, err := readSysInt(filepath.Join(blockPath, "removable")); err == nil && removable == 1 {
				log.Info().Str("device", entry.Name()).Msg("skipping removable device")
				continue
			}
		}

		devices = append(devices, filepath.Join(d.DevRoot, entry.Name()))
	}
	sort.Strings(devices)
	return devices, nil
}

func readSysInt(path string) (int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
}
