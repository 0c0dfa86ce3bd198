// SPDX-License-Identifier: Apache-2.0

package check

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/sbraz/check-smart/pkg/smartctl"
)

// MetricRecord is one normalized counter observation for one device,
// produced fresh each run. Only Value ever enters the history store.
type MetricRecord struct {
	Name    string
	Value   uint64
	Failing bool
	// Checked marks counters that participate in increment detection.
	// Unchecked metrics are still reported as perfdata.
	Checked bool
}

// checkedMetrics lists the counters whose increments indicate new
// errors. Both traditional ATA attribute names and NVMe health-log
// field names appear here so mixed fleets share one policy.
var checkedMetrics = map[string]bool{
	"ata_smart_error_log_count": true,
	"Calibration_Retry_Count":   true,
	"critical_comp_time":        true,
	"critical_warning":          true,
	"Current_Pending_Sector":    true,
	"CRC_Error_Count":           true,
	"ECC_Error_Rate":            true,
	"Erase_Fail_Count_Total":    true,
	"G-Sense_Error_Rate":        true,
	"Load_Retry_Count":          true,
	"media_errors":              true,
	"Multi_Zone_Error_Rate":     true,
	"Offline_Uncorrectable":     true,
	"Program_Fail_Cnt_Total":    true,
	"Raw_Read_Error_Rate":       true,
	"Reallocated_Event_Count":   true,
	"Reallocated_Sector_Ct":     true,
	"Runtime_Bad_Block":         true,
	"Seek_Error_Rate":           true,
	"Spin_Retry_Count":          true,
	"UDMA_CRC_Error_Count":      true,
	"Uncorrectable_Error_Cnt":   true,
	"Used_Rsvd_Blk_Cnt_Tot":     true,
	"warning_temp_time":         true,
}

// aliasMap folds vendor-specific spellings of semantically equivalent
// counters onto one canonical name, so exclusion lists and history
// keys stay meaningful across device families.
var aliasMap = map[string]string{
	"Reallocated_Sector_Count":        "Reallocated_Sector_Ct",
	"Reallocate_NAND_Blk_Cnt":         "Reallocated_Sector_Ct",
	"Raw_Read_Error_Count":            "Raw_Read_Error_Rate",
	"UDMA_CRC_Error_Cnt":              "UDMA_CRC_Error_Count",
	"media_and_data_integrity_errors": "media_errors",
}

// temperatureRE matches raw temperature attributes, which are reported
// separately from the "current temperature" section because their raw
// values often embed min/max strings.
var temperatureRE = regexp.MustCompile(`(?i)^temperature($|_)`)

// CanonicalName resolves an attribute name through the alias map.
func CanonicalName(name string) string {
	if canonical, ok := aliasMap[name]; ok {
		return canonical
	}
	return name
}

// IsChecked reports whether increments of the named metric are
// alertable.
func IsChecked(name string) bool {
	return checkedMetrics[CanonicalName(name)]
}

// Normalize converts one device's raw smartctl output into the uniform
// metric records the detector consumes. Records come back sorted by
// name so downstream output is stable.
func Normalize(out *smartctl.Output) []MetricRecord {
	var records []MetricRecord

	if count, ok := out.ErrorLogCount(); ok && count >= 0 {
		records = append(records, record("ata_smart_error_log_count", uint64(count), false))
	}

	if out.Temperature != nil && out.Temperature.Current > 0 {
		records = append(records, record("temperature", uint64(out.Temperature.Current), false))
	}

	if out.ATASMARTAttrs != nil {
		records = append(records, normalizeATATable(out.ATASMARTAttrs.Table)...)
	}
	if out.NVMeHealthLog != nil {
		records = append(records, normalizeNVMeLog(out.Device.Name, out.NVMeHealthLog)...)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })
	return records
}

func normalizeATATable(table []smartctl.ATAEntry) []MetricRecord {
	var records []MetricRecord
	for _, entry := range table {
		name := CanonicalName(entry.Name)
		// Raw temperature values are unusable; the current-temperature
		// section already produced a record.
		if temperatureRE.MatchString(name) {
			continue
		}
		if entry.Raw.Value < 0 {
			log.Debug().Str("attribute", entry.Name).Int64("raw", entry.Raw.Value).
				Msg("dropping attribute with negative raw value")
			continue
		}
		failing := entry.Flags.Prefailure && entry.WhenFailed == "now"
		records = append(records, record(name, uint64(entry.Raw.Value), failing))
	}
	return records
}

// normalizeNVMeLog walks the untyped NVMe health log. Scalar numbers
// become one record, lists expand to name_0, name_1, ... and anything
// non-numeric is dropped rather than defaulted to zero, which would
// look like a counter reset and later a spurious increment.
func normalizeNVMeLog(device string, healthLog map[string]any) []MetricRecord {
	var records []MetricRecord
	for name, value := range healthLog {
		name = CanonicalName(name)
		if temperatureRE.MatchString(name) {
			continue
		}
		switch v := value.(type) {
		case float64:
			if raw, ok := toCounter(v); ok {
				records = append(records, record(name, raw, false))
			} else {
				log.Debug().Str("device", device).Str("metric", name).
					Float64("value", v).Msg("dropping non-integral health log value")
			}
		case []any:
			for i, item := range v {
				num, isNum := item.(float64)
				if !isNum {
					continue
				}
				if raw, ok := toCounter(num); ok {
					records = append(records, record(fmt.Sprintf("%s_%d", name, i), raw, false))
				}
			}
		default:
			log.Debug().Str("device", device).Str("metric", name).
				Msg("dropping non-numeric health log entry")
		}
	}
	return records
}

func toCounter(v float64) (uint64, bool) {
	if v < 0 || v != math.Trunc(v) {
		return 0, false
	}
	return uint64(v), true
}

func record(name string, value uint64, failing bool) MetricRecord {
	return MetricRecord{
		Name:    name,
		Value:   value,
		Failing: failing,
		Checked: checkedMetrics[name],
	}
}

// PerfLabel builds the perfdata label for a metric. The identity never
// contains underscores (serials are rewritten), so consumers can split
// on the first underscore to recover it.
func PerfLabel(identity DeviceIdentity, metric string) string {
	return strings.ReplaceAll(string(identity), " ", "-") + "_" + metric
}
