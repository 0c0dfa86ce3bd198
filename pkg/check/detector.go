// SPDX-License-Identifier: Apache-2.0

package check

// Detector decides whether an observed counter value constitutes a new
// alertable increment, comparing against the oldest value retained in
// the metric's history window.
//
// Because the window holds the last N observations and the baseline is
// always the oldest survivor, a single genuine increment stays flagged
// for exactly N consecutive runs and then silences itself once the
// incremented value has aged into the baseline position. No separate
// attempt counter is needed.
type Detector struct {
	Store *Store
}

// Check runs the sliding-window comparison for one metric and records
// the observation. The first-ever observation establishes the baseline
// and never alerts. A value at or below the baseline never alerts
// either: counters may reset (device replacement, firmware update) and
// a decrease is not evidence of new errors.
func (d *Detector) Check(key MetricKey, value uint64) (detected bool, delta uint64) {
	window := d.Store.Get(key)
	if len(window) > 0 {
		baseline := window[0]
		if value > baseline {
			detected = true
			delta = value - baseline
		}
	}
	d.Store.Record(key, value)
	return detected, delta
}
