// SPDX-License-Identifier: Apache-2.0

// Package commands wires the CLI: the one-shot check subcommand used
// as a monitoring plugin and the watch subcommand for continuous
// collection.
package commands

import (
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	verbosity string
	cfgFile   string
)

var rootCmd = &cobra.Command{
	Use:   "check-smart",
	Short: "Monitoring plugin for S.M.A.R.T. disk health",
	Long: "A monitoring plugin that checks S.M.A.R.T. data via smartctl, " +
		"persists per-device counter history and alerts on failing attributes " +
		"and on error-counter increments.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := setUpLogs(verbosity); err != nil {
			return err
		}
		return loadConfigFile()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&verbosity, "verbosity", "v", zerolog.WarnLevel.String(),
		"Log level (debug, info, warn, error, fatal, panic)")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Optional configuration file")

	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(watchCmd)
}

// Execute runs the CLI. Plugin exit codes are produced by the check
// subcommand itself; this only covers setup failures.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "check-smart: %v\n", err)
		os.Exit(3)
	}
}

// setUpLogs configures the global logger. Plugin output goes to
// stdout, so logs go to stderr to keep the status line parseable.
func setUpLogs(level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	return nil
}

func loadConfigFile() error {
	if cfgFile == "" {
		return nil
	}
	viper.SetConfigFile(cfgFile)
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	log.Info().Str("config", viper.ConfigFileUsed()).Msg("configuration loaded")
	return nil
}

// configStringSlice returns the config-file value for key unless the
// flag was set explicitly; flags always win over the file.
func configStringSlice(cmd *cobra.Command, flag, key string, current []string) []string {
	if viper.IsSet(key) && !cmd.Flags().Changed(flag) {
		return viper.GetStringSlice(key)
	}
	return current
}

func configString(cmd *cobra.Command, flag, key, current string) string {
	if viper.IsSet(key) && !cmd.Flags().Changed(flag) {
		return viper.GetString(key)
	}
	return current
}

func configInt(cmd *cobra.Command, flag, key string, current int) int {
	if viper.IsSet(key) && !cmd.Flags().Changed(flag) {
		return viper.GetInt(key)
	}
	return current
}

func configBool(cmd *cobra.Command, flag, key string, current bool) bool {
	if viper.IsSet(key) && !cmd.Flags().Changed(flag) {
		return viper.GetBool(key)
	}
	return current
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return value
	}
	return fallback
}
