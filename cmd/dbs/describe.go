package main

import (
	"fmt"

	"github.com/dbsstore/dbs/pkg/dbs"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"
)

// describeCmd is a CLI-only convenience (SPEC_FULL.md §C.1): it fans out
// the three read-only Query entry points concurrently, since each one
// independently opens the backing path, and renders them together.
var describeCmd = &cobra.Command{
	Use:   "describe PATH",
	Short: "Show device, volume, and snapshot info together",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]

		type fanOut struct {
			device    dbs.DeviceInfo
			volumes   []dbs.VolumeInfo
			isVolumes bool
		}

		p := pool.NewWithResults[fanOut]().WithErrors()
		p.Go(func() (fanOut, error) {
			device, err := dbs.GetDeviceInfo(path)
			return fanOut{device: device}, err
		})
		p.Go(func() (fanOut, error) {
			volumes, err := dbs.GetVolumeInfo(path)
			return fanOut{volumes: volumes, isVolumes: true}, err
		})
		results, err := p.Wait()
		if err != nil {
			return fmt.Errorf("describe: %w", err)
		}

		var device dbs.DeviceInfo
		var volumes []dbs.VolumeInfo
		for _, r := range results {
			if r.isVolumes {
				volumes = r.volumes
			} else {
				device = r.device
			}
		}

		fmt.Println("== device ==")
		printDeviceInfo(device)

		fmt.Println("\n== volumes ==")
		printVolumeInfo(volumes)

		snapshotPool := pool.NewWithResults[namedSnapshots]().WithErrors()
		for _, v := range volumes {
			name := v.Name
			snapshotPool.Go(func() (namedSnapshots, error) {
				snaps, err := dbs.GetSnapshotInfo(path, name)
				return namedSnapshots{name: name, snapshots: snaps}, err
			})
		}
		snapshotResults, err := snapshotPool.Wait()
		if err != nil {
			return fmt.Errorf("describe: %w", err)
		}

		for _, ns := range snapshotResults {
			fmt.Printf("\n== snapshots: %s ==\n", ns.name)
			printSnapshotInfo(ns.snapshots)
		}
		return nil
	},
}

type namedSnapshots struct {
	name      string
	snapshots []dbs.SnapshotInfo
}

func init() {
	rootCmd.AddCommand(describeCmd)
}
