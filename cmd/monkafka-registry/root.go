package main

import (
	"fmt"
	"strings"

	"github.com/CefBoud/monkafka-registry/logging"
	"github.com/CefBoud/monkafka-registry/metadata"
	"github.com/CefBoud/monkafka-registry/types"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "monkafka-registry",
		Short:         "Broker registrations for a KRaft-style metadata log",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().String("log-level", logging.INFO, "log level (DEBUG, INFO, WARN, ERROR)")
	rootCmd.PersistentFlags().String("metadata-version", metadata.LatestMetadataVersion.String(),
		"metadata version records are written at, e.g. 3.3-IV3 or 3.4")
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		level, _ := cmd.Flags().GetString("log-level")
		logging.SetLogLevel(level)
	}

	rootCmd.AddCommand(newServeCmd(), newEncodeCmd(), newDecodeCmd())
	return rootCmd
}

// loadConfig reads the configuration from, in increasing priority: defaults,
// the config file, MONKAFKA_* environment variables and flags.
func loadConfig(flags *pflag.FlagSet, cfgFile string) (*types.Configuration, error) {
	v := viper.New()
	v.SetDefault("log_dir", "/tmp/MonKafka-registry")
	v.SetDefault("log_level", logging.INFO)
	v.SetDefault("raft_address", "localhost:9093")
	v.SetDefault("listeners", []string{"PLAINTEXT://:9092"})
	v.SetDefault("metadata_version", metadata.LatestMetadataVersion.String())
	v.SetDefault("snapshot_compression", "zstd")

	v.SetEnvPrefix("MONKAFKA")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("could not read config file %s: %w", cfgFile, err)
		}
	}

	for _, name := range []string{
		"log-dir", "log-level", "node-id", "bootstrap", "raft-id", "raft-address", "dev",
		"serf-address", "serf-join-address", "listeners", "listener-security-protocol-map", "rack",
		"metadata-version", "snapshot-compression", "zk-connect", "zk-prefix",
	} {
		if err := v.BindPFlag(strings.ReplaceAll(name, "-", "_"), flags.Lookup(name)); err != nil {
			return nil, err
		}
	}

	var config types.Configuration
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("could not parse configuration: %w", err)
	}
	return &config, nil
}
