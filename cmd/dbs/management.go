package main

import (
	"fmt"
	"strconv"

	"github.com/dbsstore/dbs/pkg/dbs"
	"github.com/spf13/cobra"
)

var initDeviceCmd = &cobra.Command{
	Use:   "init_device PATH",
	Short: "Format a backing object as a fresh, empty pool",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCorrelation("init_device", func() error { return dbs.InitDevice(args[0]) })
	},
}

var vacuumDeviceCmd = &cobra.Command{
	Use:   "vacuum_device PATH",
	Short: "Reclaim dark device slots (not implemented)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCorrelation("vacuum_device", func() error { return dbs.VacuumDevice(args[0]) })
	},
}

var createVolumeCmd = &cobra.Command{
	Use:   "create_volume PATH NAME SIZE",
	Short: "Create a new volume of SIZE bytes",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		size, err := strconv.ParseUint(args[2], 10, 64)
		if err != nil {
			return fmt.Errorf("create_volume: invalid size %q: %w", args[2], err)
		}
		return withCorrelation("create_volume", func() error { return dbs.CreateVolume(args[0], args[1], size) })
	},
}

var renameVolumeCmd = &cobra.Command{
	Use:   "rename_volume PATH NAME NEW_NAME",
	Short: "Rename an existing volume",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCorrelation("rename_volume", func() error { return dbs.RenameVolume(args[0], args[1], args[2]) })
	},
}

var deleteVolumeCmd = &cobra.Command{
	Use:   "delete_volume PATH NAME",
	Short: "Delete a volume and everything in its snapshot chain",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCorrelation("delete_volume", func() error { return dbs.DeleteVolume(args[0], args[1]) })
	},
}

var createSnapshotCmd = &cobra.Command{
	Use:   "create_snapshot PATH NAME",
	Short: "Snapshot a volume's current tip",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCorrelation("create_snapshot", func() error { return dbs.CreateSnapshot(args[0], args[1]) })
	},
}

var cloneSnapshotCmd = &cobra.Command{
	Use:   "clone_snapshot PATH NEW_NAME SNAPSHOT_ID",
	Short: "Materialize an independent volume from a snapshot",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		sid, err := strconv.ParseUint(args[2], 10, 16)
		if err != nil {
			return fmt.Errorf("clone_snapshot: invalid snapshot id %q: %w", args[2], err)
		}
		return withCorrelation("clone_snapshot", func() error {
			return dbs.CloneSnapshot(args[0], args[1], uint16(sid))
		})
	},
}

var deleteSnapshotCmd = &cobra.Command{
	Use:   "delete_snapshot PATH SNAPSHOT_ID",
	Short: "Remove a single non-tip snapshot",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		sid, err := strconv.ParseUint(args[1], 10, 16)
		if err != nil {
			return fmt.Errorf("delete_snapshot: invalid snapshot id %q: %w", args[1], err)
		}
		return withCorrelation("delete_snapshot", func() error { return dbs.DeleteSnapshot(args[0], uint16(sid)) })
	},
}

func init() {
	rootCmd.AddCommand(
		initDeviceCmd,
		vacuumDeviceCmd,
		createVolumeCmd,
		renameVolumeCmd,
		deleteVolumeCmd,
		createSnapshotCmd,
		cloneSnapshotCmd,
		deleteSnapshotCmd,
	)
}
