// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sbraz/check-smart/pkg/check"
	"github.com/sbraz/check-smart/pkg/smartctl"
)

type watchOptions struct {
	devices               []string
	excludeDevices        []string
	excludeMetrics        []string
	skipRemovable         bool
	maxAttempts           int
	ignoreFailingCommands bool
	ignoreErrorMessages   []string
	stateDir              string
	retention             time.Duration
	interval              time.Duration
	prometheusPort        int
	natsURL               string
	natsSubject           string
}

var watchOpts watchOptions

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the S.M.A.R.T. check periodically and expose results",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := watchOpts
		opts.mergeConfig(cmd)
		return opts.run()
	},
}

func init() {
	f := watchCmd.Flags()
	f.StringSliceVarP(&watchOpts.devices, "devices", "D", nil, "Limit the check to specific devices")
	f.StringSliceVarP(&watchOpts.excludeDevices, "exclude-devices", "X", nil, "Exclude the specified devices")
	f.StringSliceVar(&watchOpts.excludeMetrics, "exclude-metrics", nil,
		"Exclude the specified metrics when checking for increments")
	f.BoolVar(&watchOpts.skipRemovable, "skip-removable", false, "Skip removable devices")
	f.IntVar(&watchOpts.maxAttempts, "max-attempts", 4,
		"Number of runs an increment stays alerted, which controls the number of values retained per counter")
	f.BoolVar(&watchOpts.ignoreFailingCommands, "ignore-failing-commands", false,
		"Ignore failed commands and checksum errors, and skip devices whose query failed")
	f.StringSliceVar(&watchOpts.ignoreErrorMessages, "ignore-error-message", nil,
		"Ignore smartctl error messages equal to the given strings")
	f.StringVar(&watchOpts.stateDir, "state-dir", "/var/tmp", "Directory holding the persisted state file")
	f.DurationVar(&watchOpts.retention, "retention", 0,
		"Prune history of devices unseen for this long (0 keeps history forever)")
	f.DurationVar(&watchOpts.interval, "interval", 5*time.Minute, "Time between check runs")
	f.IntVar(&watchOpts.prometheusPort, "prometheus-port", 0,
		"Serve prometheus metrics on this port (0 disables the endpoint)")
	f.StringVar(&watchOpts.natsURL, "nats-url", "", "Publish alert events to this NATS server")
	f.StringVar(&watchOpts.natsSubject, "nats-subject", "host.disk.health", "NATS subject for alert events")

	watchCmd.MarkFlagsMutuallyExclusive("devices", "exclude-devices")
}

func (o *watchOptions) mergeConfig(cmd *cobra.Command) {
	o.devices = configStringSlice(cmd, "devices", "devices", o.devices)
	o.excludeDevices = configStringSlice(cmd, "exclude-devices", "exclude_devices", o.excludeDevices)
	o.excludeMetrics = configStringSlice(cmd, "exclude-metrics", "exclude_metrics", o.excludeMetrics)
	o.skipRemovable = configBool(cmd, "skip-removable", "skip_removable", o.skipRemovable)
	o.maxAttempts = configInt(cmd, "max-attempts", "max_attempts", o.maxAttempts)
	o.stateDir = configString(cmd, "state-dir", "state_dir", o.stateDir)

	o.natsURL = getEnv("NATS_URL", o.natsURL)
	o.natsSubject = getEnv("NATS_SUBJECT", o.natsSubject)
	o.maxAttempts = getEnvInt("MAX_ATTEMPTS", o.maxAttempts)
	o.skipRemovable = getEnvBool("SKIP_REMOVABLE", o.skipRemovable)
}

func (o *watchOptions) run() error {
	if o.maxAttempts < 1 {
		return fmt.Errorf("max-attempts must be at least 1, got %d", o.maxAttempts)
	}
	if !smartctl.Installed() {
		return fmt.Errorf("smartctl is not installed, please install smartmontools")
	}

	policy := &check.Policy{
		Devices:        resolveAll(o.devices),
		ExcludeDevices: resolveAll(o.excludeDevices),
		ExcludeMetrics: o.excludeMetrics,
		SkipRemovable:  o.skipRemovable,
	}

	// Metric exclusions can be changed in the config file without
	// restarting the daemon.
	viper.OnConfigChange(func(e fsnotify.Event) {
		log.Info().Str("file", e.Name).Msg("config file changed, reloading metric exclusions")
		if viper.IsSet("exclude_metrics") {
			policy.SetExcludeMetrics(viper.GetStringSlice("exclude_metrics"))
		}
	})
	viper.WatchConfig()

	statePath := check.StatePath(o.stateDir,
		fmt.Sprintf("devices=%v", o.devices),
		fmt.Sprintf("exclude_devices=%v", o.excludeDevices),
		fmt.Sprintf("skip_removable=%t", o.skipRemovable),
		fmt.Sprintf("max_attempts=%d", o.maxAttempts),
		"watch=true",
	)
	store, firstRun, err := check.Open(statePath, o.maxAttempts, o.retention)
	if err != nil {
		return err
	}
	defer store.Close()
	if firstRun {
		log.Info().Str("state_file", statePath).Msg("no previous state, starting fresh")
	}

	var nc *nats.Conn
	if o.natsURL != "" {
		nc, err = nats.Connect(o.natsURL,
			nats.Name("check-smart-watch"),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second))
		if err != nil {
			return fmt.Errorf("failed to connect to nats: %w", err)
		}
		defer nc.Close()
		log.Info().Str("nats_url", o.natsURL).Msg("Connected to NATS server")
	}

	collector := check.NewCollector()
	if o.prometheusPort > 0 {
		collector.Serve(o.prometheusPort)
	}

	evaluator := &check.Evaluator{
		Querier:               smartctl.ExecQuerier{UseSudo: true},
		Store:                 store,
		Policy:                policy,
		IgnoreFailingCommands: o.ignoreFailingCommands,
		IgnoreErrorMessages:   o.ignoreErrorMessages,
	}

	log.Info().Dur("interval", o.interval).Msg("starting periodic disk health checks")
	o.runOnce(evaluator, policy, collector, nc)
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()
	for range ticker.C {
		o.runOnce(evaluator, policy, collector, nc)
	}
	return nil
}

func (o *watchOptions) runOnce(evaluator *check.Evaluator, policy *check.Policy, collector *check.Collector, nc *nats.Conn) {
	discovered, err := check.NewDiscoverer().Discover(o.skipRemovable)
	if err != nil {
		log.Error().Err(err).Msg("device discovery failed")
		return
	}
	var devices []string
	for _, dev := range discovered {
		resolved, err := check.ResolveDevice(dev)
		if err != nil {
			log.Warn().Err(err).Str("device", dev).Msg("failed to resolve discovered device")
			continue
		}
		if policy.SelectDevice(resolved) {
			devices = append(devices, resolved)
		}
	}
	if len(devices) == 0 {
		log.Warn().Msg("no devices to check")
		return
	}

	result := evaluator.Run(devices)
	if err := evaluator.Store.Save(); err != nil {
		log.Error().Err(err).Msg("failed to save state")
	}
	collector.Update(result)
	if nc != nil {
		if err := check.PublishAlerts(nc, o.natsSubject, result); err != nil {
			log.Error().Err(err).Msg("failed to publish alert events")
		}
	}
	log.Info().
		Str("severity", result.Severity.String()).
		Int("devices", len(result.Devices)).
		Msg("check run complete")
}
