package dbs

import (
	"fmt"

	"github.com/dbsstore/dbs/internal/dbserrors"
	"github.com/dbsstore/dbs/internal/devicectx"
	"github.com/dbsstore/dbs/internal/ondisk"
)

// GetDeviceInfo returns device-wide metadata.
func GetDeviceInfo(path string) (DeviceInfo, error) {
	dc, err := devicectx.Open(path)
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("get_device_info: %w", err)
	}
	defer dc.Close()

	return DeviceInfo{
		Version:                dc.Superblock.Version,
		DeviceSize:             dc.Superblock.DeviceSize,
		TotalDeviceExtents:     dc.TotalDeviceExtents(),
		AllocatedDeviceExtents: dc.Superblock.AllocatedDeviceExtents,
		VolumeCount:            dc.CountVolumes(),
	}, nil
}

// GetVolumeInfo returns every in-use volume, in slot order.
func GetVolumeInfo(path string) ([]VolumeInfo, error) {
	dc, err := devicectx.Open(path)
	if err != nil {
		return nil, fmt.Errorf("get_volume_info: %w", err)
	}
	defer dc.Close()

	var out []VolumeInfo
	for i := range dc.Volumes {
		v := dc.Volumes[i]
		if !v.InUse() {
			continue
		}
		out = append(out, VolumeInfo{
			Name:          v.Name(),
			Size:          v.VolumeSize,
			TipSnapshotID: v.SnapshotID,
			CreatedAt:     dc.Snapshots[v.SnapshotID-1].CreatedAt,
			SnapshotCount: dc.CountSnapshots(i),
		})
	}
	return out, nil
}

// GetSnapshotInfo returns volumeName's snapshot chain ordered tip to
// root.
func GetSnapshotInfo(path, volumeName string) ([]SnapshotInfo, error) {
	dc, err := devicectx.Open(path)
	if err != nil {
		return nil, fmt.Errorf("get_snapshot_info: %w", err)
	}
	defer dc.Close()

	slot, ok := dc.FindVolume(volumeName)
	if !ok {
		return nil, fmt.Errorf("get_snapshot_info %q: %w", volumeName, dbserrors.ErrVolumeNotFound)
	}

	var out []SnapshotInfo
	cur := dc.Volumes[slot].SnapshotID
	for cur != ondisk.NoSnapshot {
		rec := dc.Snapshots[cur-1]
		out = append(out, SnapshotInfo{ID: cur, ParentID: rec.ParentSnapshotID, CreatedAt: rec.CreatedAt})
		cur = rec.ParentSnapshotID
	}
	return out, nil
}

// ValidateIntegrity walks spec.md §3's invariants across the whole
// device and returns every violation found via multierr, rather than
// failing fast on the first one. A nil return means the device is
// internally consistent.
func ValidateIntegrity(path string) error {
	dc, err := devicectx.Open(path)
	if err != nil {
		return fmt.Errorf("validate_integrity: %w", err)
	}
	defer dc.Close()

	var errs error
	names := map[string]int{}

	for i := range dc.Volumes {
		v := dc.Volumes[i]
		if !v.InUse() {
			continue
		}
		if v.Name() == "" {
			errs = appendErr(errs, fmt.Errorf("volume slot %d: empty name", i))
		}
		if prev, dup := names[v.Name()]; dup {
			errs = appendErr(errs, fmt.Errorf("volume slot %d and %d share name %q", prev, i, v.Name()))
		} else {
			names[v.Name()] = i
		}
		if v.VolumeSize%ondisk.ExtentSize != 0 {
			errs = appendErr(errs, fmt.Errorf("volume %q: size %d not a multiple of extent size", v.Name(), v.VolumeSize))
		}

		seen := map[uint16]bool{}
		cur := v.SnapshotID
		for cur != ondisk.NoSnapshot {
			if int(cur) > len(dc.Snapshots) || !dc.Snapshots[cur-1].InUse() {
				errs = appendErr(errs, fmt.Errorf("volume %q: tip chain references free snapshot %d", v.Name(), cur))
				break
			}
			if seen[cur] {
				errs = appendErr(errs, fmt.Errorf("volume %q: snapshot chain cycle at %d", v.Name(), cur))
				break
			}
			seen[cur] = true
			cur = dc.Snapshots[cur-1].ParentSnapshotID
		}
	}

	if dc.Superblock.AllocatedDeviceExtents > dc.TotalDeviceExtents() {
		errs = appendErr(errs, fmt.Errorf("allocated_device_extents %d exceeds total_device_extents %d",
			dc.Superblock.AllocatedDeviceExtents, dc.TotalDeviceExtents()))
	}

	total := dc.AllocatedDeviceExtents()
	for start := uint32(0); start < total; start += ondisk.ExtentBatch {
		count := uint32(ondisk.ExtentBatch)
		if start+count > total {
			count = total - start
		}
		batch, err := dc.ReadExtentRecordsBatch(start, count)
		if err != nil {
			errs = appendErr(errs, fmt.Errorf("reading extent batch at %d: %w", start, err))
			continue
		}
		for i, rec := range batch {
			if rec.SnapshotID == ondisk.NoSnapshot {
				continue
			}
			if int(rec.SnapshotID) > len(dc.Snapshots) || !dc.Snapshots[rec.SnapshotID-1].InUse() {
				errs = appendErr(errs, fmt.Errorf("device slot %d: owning snapshot %d is not in use", start+uint32(i), rec.SnapshotID))
			}
		}
	}

	return errs
}
