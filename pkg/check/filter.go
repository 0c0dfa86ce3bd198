// SPDX-License-Identifier: Apache-2.0

package check

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// modelExclusion suppresses increment alerts for metrics that are
// known to be noisy on specific drive families. Seagate Exos drives
// report raw read/seek error rates as rolling hashes of operation
// counts, so every run looks like an increment.
type modelExclusion struct {
	ModelFamily string
	Metrics     []string
}

var modelExclusions = []modelExclusion{
	{ModelFamily: "Seagate Exos X16", Metrics: []string{"Raw_Read_Error_Rate", "Seek_Error_Rate"}},
	{ModelFamily: "Seagate Exos X18", Metrics: []string{"Raw_Read_Error_Rate", "Seek_Error_Rate"}},
}

// Policy applies device inclusion/exclusion and metric exclusion
// before any core logic runs. Device lists hold canonical resolved
// paths; resolution happens once in the command layer so a symlink and
// its target filter identically.
type Policy struct {
	// Devices limits the check to these resolved paths. Empty means
	// all discovered devices.
	Devices []string
	// ExcludeDevices removes resolved paths after inclusion.
	ExcludeDevices []string
	// ExcludeMetrics drops metrics by canonical or raw name before
	// alerting and before history writes.
	ExcludeMetrics []string
	// SkipRemovable skips removable devices before any query is made.
	SkipRemovable bool

	mu sync.RWMutex
}

// SetExcludeMetrics replaces the metric exclusion list. Safe to call
// while checks are running, which allows config reloads in daemon mode.
func (p *Policy) SetExcludeMetrics(metrics []string) {
	p.mu.Lock()
	p.ExcludeMetrics = metrics
	p.mu.Unlock()
	log.Info().Strs("exclude_metrics", metrics).Msg("metric exclusions updated")
}

// SelectDevice reports whether the resolved device path passes the
// inclusion and exclusion lists.
func (p *Policy) SelectDevice(resolved string) bool {
	for _, excluded := range p.ExcludeDevices {
		if resolved == excluded {
			return false
		}
	}
	if len(p.Devices) == 0 {
		return true
	}
	for _, included := range p.Devices {
		if resolved == included {
			return true
		}
	}
	return false
}

// MetricExcluded reports whether the metric is excluded by name,
// matching either the canonical or the raw spelling.
func (p *Policy) MetricExcluded(name string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	canonical := CanonicalName(name)
	for _, excluded := range p.ExcludeMetrics {
		if name == excluded || canonical == CanonicalName(excluded) {
			return true
		}
	}
	return false
}

// IncrementExcluded reports whether increment alerts for the metric
// are suppressed for the device's model family. The metric still
// enters history and perfdata.
func (p *Policy) IncrementExcluded(identity DeviceIdentity, modelFamily, metric string) bool {
	for _, exclusion := range modelExclusions {
		if exclusion.ModelFamily != modelFamily {
			continue
		}
		for _, m := range exclusion.Metrics {
			if m == metric {
				log.Debug().Str("device", string(identity)).Str("metric", metric).
					Str("model_family", modelFamily).
					Msg("ignoring increment for excluded model family metric")
				return true
			}
		}
	}
	return false
}
