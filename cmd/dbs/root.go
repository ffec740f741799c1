package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "dbs",
	Short: "Direct Block Store — snapshottable virtual block volumes over one backing file",
	Long: `dbs is the reference command-line front end for the DBS core library.

It manages volumes and their snapshot histories inside a single backing
file or raw block device. Every subcommand takes the backing object's
path as its first argument.

Commands:
  init_device       Format a backing object as a fresh, empty pool
  vacuum_device     Reclaim dark device slots (not implemented)
  create_volume     Create a new volume
  rename_volume     Rename an existing volume
  delete_volume     Delete a volume and everything in its chain
  create_snapshot   Snapshot a volume's current tip
  clone_snapshot     Materialize an independent volume from a snapshot
  delete_snapshot   Remove a single non-tip snapshot
  get_device_info   Show device-wide metadata
  get_volume_info   List volumes
  get_snapshot_info List a volume's snapshot chain
  describe          Aggregate device + volume + snapshot info`,
	Version: "0.1.0-dev",
}

var cfgFile string

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.dbs.yaml)")
}

// initConfig loads an optional config file and DBS_-prefixed environment
// variables into viper. No subcommand reads a value from it: every
// subcommand takes the device path as an argument and prints plain text.
// The core library never reads this configuration.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
			viper.SetConfigName(".dbs")
		}
	}
	viper.SetEnvPrefix("DBS")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()
}

// Execute runs the root command, printing errors to stderr and setting
// a non-zero exit code per spec.md §6.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// withCorrelation tags a mutating operation with a fresh correlation id
// for log output, and reports the outcome on return.
func withCorrelation(op string, fn func() error) error {
	id := uuid.New()
	fmt.Printf("[%s] %s: start\n", id, op)
	err := fn()
	if err != nil {
		fmt.Printf("[%s] %s: failed: %v\n", id, op, err)
		return err
	}
	fmt.Printf("[%s] %s: ok\n", id, op)
	return nil
}
