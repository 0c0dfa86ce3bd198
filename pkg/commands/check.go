// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sbraz/check-smart/pkg/check"
	"github.com/sbraz/check-smart/pkg/nagios"
	"github.com/sbraz/check-smart/pkg/smartctl"
)

type checkOptions struct {
	devices               []string
	excludeDevices        []string
	excludeMetrics        []string
	skipRemovable         bool
	maxAttempts           int
	ignoreFailingCommands bool
	ignoreErrorMessages   []string
	stateDir              string
	retention             time.Duration
	listDevices           bool
	loadJSON              bool
	printChecked          bool
	printNonChecked       bool
	promTextfile          string
	natsURL               string
	natsSubject           string
}

var checkOpts checkOptions

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run the S.M.A.R.T. check once and report plugin status",
	Run: func(cmd *cobra.Command, args []string) {
		opts := checkOpts
		opts.mergeConfig(cmd)

		report, err := opts.run()
		if err != nil {
			fmt.Printf("SMART UNKNOWN - %v\n", err)
			os.Exit(nagios.SeverityUnknown.ExitCode())
		}
		if report == nil {
			// --list-devices only prints the inventory.
			return
		}
		fmt.Println(report.Render())
		os.Exit(report.Severity.ExitCode())
	},
}

func init() {
	f := checkCmd.Flags()
	f.StringSliceVarP(&checkOpts.devices, "devices", "D", nil, "Limit the check to specific devices")
	f.StringSliceVarP(&checkOpts.excludeDevices, "exclude-devices", "X", nil, "Exclude the specified devices")
	f.StringSliceVar(&checkOpts.excludeMetrics, "exclude-metrics", nil,
		"Exclude the specified metrics when checking for increments")
	f.BoolVar(&checkOpts.skipRemovable, "skip-removable", false, "Skip removable devices")
	f.IntVar(&checkOpts.maxAttempts, "max-attempts", 4,
		"Number of runs an increment stays alerted, which controls the number of values retained per counter")
	f.BoolVar(&checkOpts.ignoreFailingCommands, "ignore-failing-commands", false,
		"Ignore failed commands and checksum errors, and skip devices whose query failed")
	f.StringSliceVar(&checkOpts.ignoreErrorMessages, "ignore-error-message", nil,
		"Ignore smartctl error messages equal to the given strings")
	f.StringVar(&checkOpts.stateDir, "state-dir", "/var/tmp", "Directory holding the persisted state file")
	f.DurationVar(&checkOpts.retention, "retention", 0,
		"Prune history of devices unseen for this long (0 keeps history forever)")
	f.BoolVar(&checkOpts.listDevices, "list-devices", false, "List all available devices and exit")
	f.BoolVar(&checkOpts.loadJSON, "load-json", false, "Load smartctl JSON output from stdin")
	f.BoolVar(&checkOpts.printChecked, "checked-metrics", false, "Print checked metrics and their values")
	f.BoolVar(&checkOpts.printNonChecked, "non-checked-metrics", false,
		"Print non-checked metrics and their values")
	f.StringVar(&checkOpts.promTextfile, "prom-textfile", "",
		"Write results to this node_exporter textfile collector path")
	f.StringVar(&checkOpts.natsURL, "nats-url", "", "Publish alert events to this NATS server")
	f.StringVar(&checkOpts.natsSubject, "nats-subject", "host.disk.health", "NATS subject for alert events")

	checkCmd.MarkFlagsMutuallyExclusive("devices", "exclude-devices")
	checkCmd.MarkFlagsMutuallyExclusive("checked-metrics", "non-checked-metrics")
}

// mergeConfig applies config-file values beneath flags and environment
// variables beneath both.
func (o *checkOptions) mergeConfig(cmd *cobra.Command) {
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

func (o *checkOptions) validate() error {
	if o.maxAttempts < 1 {
		return fmt.Errorf("max-attempts must be at least 1, got %d", o.maxAttempts)
	}
	if o.listDevices && (len(o.devices) > 0 || len(o.excludeDevices) > 0) {
		return errors.New("--list-devices can not be used with --devices or --exclude-devices")
	}
	return nil
}

// run performs one full check. A nil report with nil error means the
// command already produced its output (--list-devices).
func (o *checkOptions) run() (*nagios.Report, error) {
	if err := o.validate(); err != nil {
		return nil, err
	}

	policy := &check.Policy{
		Devices:        resolveAll(o.devices),
		ExcludeDevices: resolveAll(o.excludeDevices),
		ExcludeMetrics: o.excludeMetrics,
		SkipRemovable:  o.skipRemovable,
	}

	var devices []string
	var querier smartctl.Querier
	if o.loadJSON {
		// Debug mode: one pseudo device fed from stdin.
		devices = []string{""}
		querier = smartctl.ReaderQuerier{R: os.Stdin}
	} else {
		if !smartctl.Installed() {
			return nil, errors.New("smartctl is not installed, please install smartmontools")
		}
		var err error
		devices, err = o.selectDevices(policy)
		if err != nil {
			return nil, err
		}
		if o.listDevices {
			for _, dev := range devices {
				fmt.Printf("Found device %s\n", dev)
			}
			return nil, nil
		}
		querier = smartctl.ExecQuerier{UseSudo: true}
	}

	store, firstRun, err := check.Open(o.statePath(), o.maxAttempts, o.retention)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	evaluator := &check.Evaluator{
		Querier:               querier,
		Store:                 store,
		Policy:                policy,
		IgnoreFailingCommands: o.ignoreFailingCommands,
		IgnoreErrorMessages:   o.ignoreErrorMessages,
	}
	result := evaluator.Run(devices)
	if firstRun {
		result.AddWarning(fmt.Sprintf("no data in state file %s, first run?", o.statePath()))
	}

	// Losing persistence does not invalidate the comparison just
	// computed, but future runs lose continuity, so the run degrades
	// to a warning instead of failing.
	if err := store.Save(); err != nil {
		log.Error().Err(err).Msg("failed to save state")
		result.AddWarning(fmt.Sprintf("failed to save state: %v", err))
	}

	o.printMetrics(result)

	if o.promTextfile != "" {
		collector := check.NewCollector()
		collector.Update(result)
		if err := collector.WriteTextfile(o.promTextfile); err != nil {
			log.Error().Err(err).Msg("failed to write prometheus textfile")
			result.AddWarning(err.Error())
		}
	}
	if o.natsURL != "" {
		if err := publishAlerts(o.natsURL, o.natsSubject, result); err != nil {
			log.Error().Err(err).Msg("failed to publish alert events")
			result.AddWarning(err.Error())
		}
	}

	return check.BuildReport(result), nil
}

// selectDevices discovers checkable devices and applies the policy.
func (o *checkOptions) selectDevices(policy *check.Policy) ([]string, error) {
	discovered, err := check.NewDiscoverer().Discover(o.skipRemovable)
	if err != nil {
		return nil, err
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
		if len(o.devices) > 0 {
			// Explain why each requested device was not matched.
			for _, dev := range policy.Devices {
				if err := check.ValidateDevice(dev); err != nil {
					log.Warn().Err(err).Str("device", dev).Msg("requested device is not checkable")
				}
			}
			return nil, fmt.Errorf("could not find any device matching %s", strings.Join(o.devices, ", "))
		}
		return nil, errors.New("could not find any device to check")
	}
	return devices, nil
}

// statePath derives the state file for this configuration. Options
// that change comparison semantics are part of the key, so differently
// configured checks never share history windows.
func (o *checkOptions) statePath() string {
	relevant := []string{
		fmt.Sprintf("devices=%v", o.devices),
		fmt.Sprintf("exclude_devices=%v", o.excludeDevices),
		fmt.Sprintf("exclude_metrics=%v", o.excludeMetrics),
		fmt.Sprintf("skip_removable=%t", o.skipRemovable),
		fmt.Sprintf("max_attempts=%d", o.maxAttempts),
		fmt.Sprintf("ignore_failing_commands=%t", o.ignoreFailingCommands),
		fmt.Sprintf("ignore_error_message=%v", o.ignoreErrorMessages),
		fmt.Sprintf("load_json=%t", o.loadJSON),
	}
	return check.StatePath(o.stateDir, relevant...)
}

// printMetrics implements the --checked-metrics/--non-checked-metrics
// debug output: one "[identity] metric = value" line per metric.
func (o *checkOptions) printMetrics(result *check.Result) {
	if !o.printChecked && !o.printNonChecked {
		return
	}
	var lines []string
	for _, dr := range result.Devices {
		for _, mr := range dr.Metrics {
			if mr.Checked == o.printChecked {
				lines = append(lines, fmt.Sprintf("[%s] %s = %d", dr.Identity, mr.Key.Metric, mr.Value))
			}
		}
	}
	sort.Strings(lines)
	for _, line := range lines {
		fmt.Println(line)
	}
}

// resolveAll canonicalizes filter paths, keeping entries that fail to
// resolve as-is so they still match verbatim.
func resolveAll(paths []string) []string {
	resolved := make([]string, 0, len(paths))
	for _, p := range paths {
		r, err := check.ResolveDevice(p)
		if err != nil {
			log.Warn().Err(err).Str("device", p).Msg("failed to resolve device path")
			r = p
		}
		resolved = append(resolved, r)
	}
	return resolved
}

func publishAlerts(url, subject string, result *check.Result) error {
	nc, err := nats.Connect(url, nats.Name("check-smart"))
	if err != nil {
		return fmt.Errorf("failed to connect to nats: %w", err)
	}
	defer nc.Close()
	return check.PublishAlerts(nc, subject, result)
}
