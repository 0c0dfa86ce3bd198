// SPDX-License-Identifier: Apache-2.0

package check

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Collector exposes evaluation results as Prometheus metrics: raw
// attribute values, detected increment deltas and per-device severity.
type Collector struct {
	registry  *prometheus.Registry
	rawValue  *prometheus.GaugeVec
	increment *prometheus.GaugeVec
	severity  *prometheus.GaugeVec
}

// NewCollector builds a collector with its own registry so plugin runs
// never inherit unrelated process metrics.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		rawValue: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "smart_attribute_raw_value",
				Help: "Raw SMART attribute value",
			},
			[]string{"device", "metric"},
		),
		increment: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "smart_attribute_increment",
				Help: "Increase over the history baseline for attributes flagged this run",
			},
			[]string{"device", "metric"},
		),
		severity: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "smart_device_severity",
				Help: "Check severity per device (0 OK, 1 warning, 2 critical, 3 unknown)",
			},
			[]string{"device"},
		),
	}
	c.registry.MustRegister(c.rawValue, c.increment, c.severity)
	return c
}

// Update replaces the exported samples with the given run's results.
func (c *Collector) Update(result *Result) {
	c.rawValue.Reset()
	c.increment.Reset()
	c.severity.Reset()
	for _, dr := range result.Devices {
		if dr.Skipped {
			continue
		}
		id := string(dr.Identity)
		c.severity.WithLabelValues(id).Set(float64(dr.Severity))
		for _, mr := range dr.Metrics {
			c.rawValue.WithLabelValues(id, mr.Key.Metric).Set(float64(mr.Value))
			if mr.Increment {
				c.increment.WithLabelValues(id, mr.Key.Metric).Set(float64(mr.Delta))
			}
		}
	}
}

// WriteTextfile writes the current samples in node_exporter textfile
// collector format, for one-shot runs scheduled outside a scraper.
func (c *Collector) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("failed to write textfile %s: %w", path, err)
	}
	return nil
}

// Serve exposes the registry over HTTP for watch mode.
func (c *Collector) Serve(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	go func() {
		addr := fmt.Sprintf(":%d", port)
		log.Info().Str("addr", addr).Msg("serving prometheus metrics")
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error().Err(err).Msg("prometheus server stopped")
		}
	}()
}
