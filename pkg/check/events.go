// SPDX-License-Identifier: Apache-2.0

package check

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/host"

	"github.com/sbraz/check-smart/pkg/nagios"
)

// AlertEvent is published to NATS for every device with a non-OK
// outcome, so fleet-wide tooling can react without scraping plugin
// output.
type AlertEvent struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	NodeName  string            `json:"node_name"`
	Device    string            `json:"device"`
	Identity  string            `json:"identity"`
	Severity  string            `json:"severity"`
	Messages  []string          `json:"messages"`
	Metrics   map[string]uint64 `json:"metrics,omitempty"`
}

// nodeName returns the host name for event attribution, empty on
// failure.
func nodeName() string {
	info, err := host.Info()
	if err != nil {
		log.Warn().Err(err).Msg("failed to read host info")
		return ""
	}
	return info.Hostname
}

// PublishAlerts sends one event per problematic device. Publish errors
// abort, since a half-published run is worse than a retried one.
func PublishAlerts(nc *nats.Conn, subject string, result *Result) error {
	node := nodeName()
	for _, dr := range result.Devices {
		if dr.Severity == nagios.SeverityOK && !dr.Skipped {
			continue
		}
		metrics := make(map[string]uint64, len(dr.Metrics))
		for _, mr := range dr.Metrics {
			if mr.Increment || mr.Failing {
				metrics[mr.Key.Metric] = mr.Value
			}
		}
		event := AlertEvent{
			ID:        uuid.NewString(),
			Timestamp: time.Now().UTC(),
			NodeName:  node,
			Device:    dr.Path,
			Identity:  string(dr.Identity),
			Severity:  dr.Severity.String(),
			Messages:  dr.Problems,
			Metrics:   metrics,
		}
		data, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to marshal alert event: %w", err)
		}
		if err := nc.Publish(subject, data); err != nil {
			return fmt.Errorf("failed to publish alert event: %w", err)
		}
		log.Info().Str("device", dr.Path).Str("severity", event.Severity).
			Msg("published alert event")
	}
	return nc.Flush()
}
