package dbs

import (
	"fmt"

	"github.com/dbsstore/dbs/internal/dbserrors"
	"github.com/dbsstore/dbs/internal/devicectx"
	"github.com/dbsstore/dbs/internal/extentmap"
	"github.com/dbsstore/dbs/internal/ondisk"
)

// InitDevice formats path as a fresh, empty DBS pool.
func InitDevice(path string) error {
	return devicectx.Init(path)
}

// VacuumDevice is declared by spec but deliberately unimplemented: DBS
// never compacts or reclaims dark device slots.
func VacuumDevice(path string) error {
	return dbserrors.ErrNotImplemented
}

// CreateVolume allocates a fresh volume slot with a root snapshot.
func CreateVolume(path, name string, sizeBytes uint64) error {
	dc, err := devicectx.Open(path)
	if err != nil {
		return fmt.Errorf("create_volume: %w", err)
	}
	defer dc.Close()

	if name == "" {
		return fmt.Errorf("create_volume: %w", dbserrors.ErrZeroSize)
	}
	if _, ok := dc.FindVolume(name); ok {
		return fmt.Errorf("create_volume %q: %w", name, dbserrors.ErrVolumeExists)
	}

	if _, err := dc.AddVolume(name, sizeBytes); err != nil {
		return fmt.Errorf("create_volume: %w", err)
	}
	if err := dc.WriteMetadata(); err != nil {
		return fmt.Errorf("create_volume: %w", err)
	}
	return nil
}

// RenameVolume overwrites name's volume_name field with newName,
// rejecting collisions with any other in-use slot.
func RenameVolume(path, name, newName string) error {
	dc, err := devicectx.Open(path)
	if err != nil {
		return fmt.Errorf("rename_volume: %w", err)
	}
	defer dc.Close()

	slot, ok := dc.FindVolume(name)
	if !ok {
		return fmt.Errorf("rename_volume %q: %w", name, dbserrors.ErrVolumeNotFound)
	}
	if newName != name {
		if other, ok := dc.FindVolume(newName); ok && other != slot {
			return fmt.Errorf("rename_volume %q: %w", newName, dbserrors.ErrVolumeExists)
		}
	}

	dc.Volumes[slot].SetName(newName)
	if err := dc.WriteMetadata(); err != nil {
		return fmt.Errorf("rename_volume: %w", err)
	}
	return nil
}

// CreateSnapshot allocates a new snapshot whose parent is the volume's
// current tip, then advances the tip to it.
func CreateSnapshot(path, name string) error {
	dc, err := devicectx.Open(path)
	if err != nil {
		return fmt.Errorf("create_snapshot: %w", err)
	}
	defer dc.Close()

	slot, ok := dc.FindVolume(name)
	if !ok {
		return fmt.Errorf("create_snapshot %q: %w", name, dbserrors.ErrVolumeNotFound)
	}

	tip := dc.Volumes[slot].SnapshotID
	newSid, err := dc.AddSnapshot(tip)
	if err != nil {
		return fmt.Errorf("create_snapshot: %w", err)
	}
	dc.Volumes[slot].SnapshotID = newSid

	if err := dc.WriteMetadata(); err != nil {
		return fmt.Errorf("create_snapshot: %w", err)
	}
	return nil
}

// CloneSnapshot materializes a brand-new volume whose data is a
// physical copy of everything visible at snapshotID.
func CloneSnapshot(path, newName string, snapshotID uint16) error {
	dc, err := devicectx.Open(path)
	if err != nil {
		return fmt.Errorf("clone_snapshot: %w", err)
	}
	defer dc.Close()

	if snapshotID == ondisk.NoSnapshot || int(snapshotID) > len(dc.Snapshots) || !dc.Snapshots[snapshotID-1].InUse() {
		return fmt.Errorf("clone_snapshot %d: %w", snapshotID, dbserrors.ErrSnapshotNotFound)
	}
	srcSlot, ok := dc.FindVolumeWithSnapshot(snapshotID)
	if !ok {
		return fmt.Errorf("clone_snapshot %d: %w", snapshotID, dbserrors.ErrSnapshotNotFound)
	}
	if _, ok := dc.FindVolume(newName); ok {
		return fmt.Errorf("clone_snapshot %q: %w", newName, dbserrors.ErrVolumeExists)
	}

	volumeSize := dc.Volumes[srcSlot].VolumeSize
	vmap, err := extentmap.VolumeMap(dc, volumeSize, snapshotID)
	if err != nil {
		return fmt.Errorf("clone_snapshot: %w", err)
	}
	if uint32(dc.AllocatedDeviceExtents())+vmap.AllocatedVolumeExtents > dc.TotalDeviceExtents() {
		return fmt.Errorf("clone_snapshot: %w", dbserrors.ErrNoSpace)
	}

	dstSlot, err := dc.AddVolume(newName, volumeSize)
	if err != nil {
		return fmt.Errorf("clone_snapshot: %w", err)
	}
	if err := dc.WriteMetadata(); err != nil {
		return fmt.Errorf("clone_snapshot: %w", err)
	}

	newSid := dc.Volumes[dstSlot].SnapshotID
	if err := vmap.CopyAllTo(dc, newSid); err != nil {
		return fmt.Errorf("clone_snapshot: %w", err)
	}
	if err := dc.WriteSuperblock(); err != nil {
		return fmt.Errorf("clone_snapshot: %w", err)
	}
	return nil
}

// DeleteVolume clears every extent owned anywhere along the volume's
// snapshot chain, frees the chain's snapshot slots, and frees the
// volume slot itself.
func DeleteVolume(path, name string) error {
	dc, err := devicectx.Open(path)
	if err != nil {
		return fmt.Errorf("delete_volume: %w", err)
	}
	defer dc.Close()

	slot, ok := dc.FindVolume(name)
	if !ok {
		return fmt.Errorf("delete_volume %q: %w", name, dbserrors.ErrVolumeNotFound)
	}

	volumeSize := dc.Volumes[slot].VolumeSize
	var errs error
	cur := dc.Volumes[slot].SnapshotID
	for cur != ondisk.NoSnapshot {
		m, err := extentmap.SnapshotMap(dc, volumeSize, cur)
		if err != nil {
			errs = appendErr(errs, err)
		} else if err := m.ClearAll(dc); err != nil {
			errs = appendErr(errs, err)
		}
		parent := dc.Snapshots[cur-1].ParentSnapshotID
		dc.Snapshots[cur-1] = ondisk.SnapshotRecord{}
		cur = parent
	}

	dc.Volumes[slot] = ondisk.VolumeRecord{}
	if err := dc.WriteMetadata(); err != nil {
		errs = appendErr(errs, err)
	}
	if errs != nil {
		return fmt.Errorf("delete_volume %q: %w", name, errs)
	}
	return nil
}

// DeleteSnapshot removes a single non-tip snapshot from its volume's
// chain, merging any data it uniquely owns into its child before
// rewiring the child's parent to the victim's parent.
func DeleteSnapshot(path string, snapshotID uint16) error {
	dc, err := devicectx.Open(path)
	if err != nil {
		return fmt.Errorf("delete_snapshot: %w", err)
	}
	defer dc.Close()

	if snapshotID == ondisk.NoSnapshot || int(snapshotID) > len(dc.Snapshots) || !dc.Snapshots[snapshotID-1].InUse() {
		return fmt.Errorf("delete_snapshot %d: %w", snapshotID, dbserrors.ErrSnapshotNotFound)
	}
	if _, isTip := findTipVolume(dc, snapshotID); isTip {
		return fmt.Errorf("delete_snapshot %d: %w", snapshotID, dbserrors.ErrCannotDeleteCurrent)
	}

	childSid, ok := dc.FindChildSnapshot(snapshotID)
	if !ok {
		return fmt.Errorf("delete_snapshot %d: %w", snapshotID, dbserrors.ErrCannotDeleteRoot)
	}

	volSlot, ok := dc.FindVolumeWithSnapshot(snapshotID)
	if !ok {
		return fmt.Errorf("delete_snapshot %d: %w", snapshotID, dbserrors.ErrSnapshotNotFound)
	}
	volumeSize := dc.Volumes[volSlot].VolumeSize

	victim, err := extentmap.SnapshotMap(dc, volumeSize, snapshotID)
	if err != nil {
		return fmt.Errorf("delete_snapshot: %w", err)
	}
	child, err := extentmap.SnapshotMap(dc, volumeSize, childSid)
	if err != nil {
		return fmt.Errorf("delete_snapshot: %w", err)
	}

	if err := victim.MergeInto(child, dc, childSid); err != nil {
		return fmt.Errorf("delete_snapshot: %w", err)
	}
	if err := victim.ClearAll(dc); err != nil {
		return fmt.Errorf("delete_snapshot: %w", err)
	}

	dc.Snapshots[childSid-1].ParentSnapshotID = dc.Snapshots[snapshotID-1].ParentSnapshotID
	dc.Snapshots[snapshotID-1] = ondisk.SnapshotRecord{}

	if err := dc.WriteMetadata(); err != nil {
		return fmt.Errorf("delete_snapshot: %w", err)
	}
	return nil
}

// findTipVolume reports whether sid is some volume's current tip.
func findTipVolume(dc *devicectx.DeviceContext, sid uint16) (int, bool) {
	for i := range dc.Volumes {
		if dc.Volumes[i].InUse() && dc.Volumes[i].SnapshotID == sid {
			return i, true
		}
	}
	return 0, false
}
