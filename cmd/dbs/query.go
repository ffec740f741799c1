package main

import (
	"fmt"

	"github.com/dbsstore/dbs/pkg/dbs"
	"github.com/spf13/cobra"
)

var getDeviceInfoCmd = &cobra.Command{
	Use:   "get_device_info PATH",
	Short: "Show device-wide metadata",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := dbs.GetDeviceInfo(args[0])
		if err != nil {
			return err
		}
		printDeviceInfo(info)
		return nil
	},
}

var getVolumeInfoCmd = &cobra.Command{
	Use:   "get_volume_info PATH",
	Short: "List volumes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		infos, err := dbs.GetVolumeInfo(args[0])
		if err != nil {
			return err
		}
		printVolumeInfo(infos)
		return nil
	},
}

var getSnapshotInfoCmd = &cobra.Command{
	Use:   "get_snapshot_info PATH VOLUME",
	Short: "List a volume's snapshot chain, tip to root",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		infos, err := dbs.GetSnapshotInfo(args[0], args[1])
		if err != nil {
			return err
		}
		printSnapshotInfo(infos)
		return nil
	},
}

func printDeviceInfo(info dbs.DeviceInfo) {
	fmt.Printf("version:                  0x%08x\n", info.Version)
	fmt.Printf("device_size:              %d\n", info.DeviceSize)
	fmt.Printf("total_device_extents:     %d\n", info.TotalDeviceExtents)
	fmt.Printf("allocated_device_extents: %d\n", info.AllocatedDeviceExtents)
	fmt.Printf("volume_count:             %d\n", info.VolumeCount)
}

func printVolumeInfo(infos []dbs.VolumeInfo) {
	fmt.Printf("%-24s %-14s %-10s %-12s %s\n", "NAME", "SIZE", "TIP", "CREATED_AT", "SNAPSHOTS")
	for _, v := range infos {
		fmt.Printf("%-24s %-14d %-10d %-12d %d\n", v.Name, v.Size, v.TipSnapshotID, v.CreatedAt, v.SnapshotCount)
	}
}

func printSnapshotInfo(infos []dbs.SnapshotInfo) {
	fmt.Printf("%-10s %-10s %s\n", "ID", "PARENT", "CREATED_AT")
	for _, s := range infos {
		fmt.Printf("%-10d %-10d %d\n", s.ID, s.ParentID, s.CreatedAt)
	}
}

func init() {
	rootCmd.AddCommand(getDeviceInfoCmd, getVolumeInfoCmd, getSnapshotInfoCmd)
}
