// Package devicectx holds the in-memory mirror of a DBS backing object's
// superblock, volume table, and snapshot table, plus the derived offsets
// that locate the extent-metadata table and the data area. It is the
// teacher's container-superblock-reader-plus-manager shape
// (internal/parsers/container/container_superblock_reader.go's
// open-and-validate, internal/managers/container's
// mutate-the-parsed-structures-then-persist) generalized from a
// read-only APFS container mirror to a read/write DBS device mirror.
package devicectx

import (
	"fmt"
	"time"

	"github.com/dbsstore/dbs/internal/dbserrors"
	"github.com/dbsstore/dbs/internal/interfaces"
	"github.com/dbsstore/dbs/internal/ioadapter"
	"github.com/dbsstore/dbs/internal/ondisk"
	"github.com/dbsstore/dbs/internal/ondisk/codec"
)

// DeviceContext is the in-memory mirror of one open backing object.
type DeviceContext struct {
	Store interfaces.BackingStore

	Superblock ondisk.Superblock
	Volumes    [ondisk.MaxVolumes]ondisk.VolumeRecord
	Snapshots  [ondisk.MaxSnapshots]ondisk.SnapshotRecord

	ExtentOffset       int64
	DataOffset         int64
	extentCapacity uint32

	// Clock is overridable so snapshot creation times are deterministic
	// in tests; defaults to time.Now().Unix.
	Clock func() int64
}

func (dc *DeviceContext) now() int64 {
	if dc.Clock != nil {
		return dc.Clock()
	}
	return time.Now().Unix()
}

// Init formats a fresh backing object: validates its size, writes a new
// superblock, and zeroes the metadata and extent-metadata region by
// streaming empty batches rather than building one giant buffer.
func Init(path string) error {
	store, err := ioadapter.Open(path)
	if err != nil {
		return dbserrors.Wrap("init_device", err)
	}
	defer store.Close()

	size, err := store.Size()
	if err != nil {
		return dbserrors.Wrap("init_device", err)
	}
	if size == 0 {
		return fmt.Errorf("init_device: %w", dbserrors.ErrZeroSize)
	}
	if size < ondisk.MinDeviceSize {
		return fmt.Errorf("init_device: %w", dbserrors.ErrTooSmall)
	}

	sb := ondisk.Superblock{
		Magic:      ondisk.Magic,
		Version:    ondisk.Version,
		DeviceSize: uint64(size),
	}
	if err := store.WriteAt(codec.EncodeSuperblock(&sb), 0); err != nil {
		return dbserrors.Wrap("init_device", err)
	}

	_, dataOffset, _ := computeOffsets(uint64(size))
	if err := zeroRegion(store, ondisk.BlockSize, dataOffset-ondisk.BlockSize); err != nil {
		return dbserrors.Wrap("init_device", err)
	}

	if err := store.Sync(); err != nil {
		return dbserrors.Wrap("init_device", err)
	}
	return nil
}

// zeroStreamBatch bounds how much zero data is written to the backing
// object per WriteAt call while zeroing the metadata region, mirroring
// the ExtentBatch bound used for extent-metadata I/O elsewhere.
const zeroStreamBatch = 4 << 20 // 4 MiB

func zeroRegion(store interfaces.BackingStore, offset, length int64) error {
	if length <= 0 {
		return nil
	}
	buf := make([]byte, zeroStreamBatch)
	for length > 0 {
		n := int64(len(buf))
		if n > length {
			n = length
		}
		if err := store.WriteAt(buf[:n], offset); err != nil {
			return err
		}
		offset += n
		length -= n
	}
	return nil
}

// Open reads the superblock and tables of an existing backing object,
// rejecting on magic or version mismatch, and computes derived offsets.
func Open(path string) (*DeviceContext, error) {
	store, err := ioadapter.Open(path)
	if err != nil {
		return nil, dbserrors.Wrap("open", err)
	}

	sbBuf := make([]byte, ondisk.BlockSize)
	if err := store.ReadAt(sbBuf, 0); err != nil {
		store.Close()
		return nil, dbserrors.Wrap("open", err)
	}
	sb, err := codec.DecodeSuperblock(sbBuf)
	if err != nil {
		store.Close()
		return nil, dbserrors.Wrap("open", err)
	}

	dc := &DeviceContext{Store: store, Superblock: *sb}
	dc.ExtentOffset, dc.DataOffset, dc.extentCapacity = computeOffsets(sb.DeviceSize)

	metaBuf := make([]byte, codec.MetadataRegionSize)
	if err := store.ReadAt(metaBuf, ondisk.BlockSize); err != nil {
		store.Close()
		return nil, dbserrors.Wrap("open", err)
	}
	volumes, snapshots, err := codec.DecodeTables(metaBuf)
	if err != nil {
		store.Close()
		return nil, dbserrors.Wrap("open", err)
	}
	dc.Volumes = volumes
	dc.Snapshots = snapshots
	return dc, nil
}

// Close syncs and releases the backing object.
func (dc *DeviceContext) Close() error {
	return dbserrors.Wrap("close", dc.Store.Close())
}

// --- lookup helpers (spec.md §4.3) ---

// FindVolume returns the slot index of the in-use volume named name.
func (dc *DeviceContext) FindVolume(name string) (int, bool) {
	for i := range dc.Volumes {
		if dc.Volumes[i].InUse() && dc.Volumes[i].Name() == name {
			return i, true
		}
	}
	return 0, false
}

// FindChildSnapshot returns the unique snapshot id whose parent is sid,
// if any.
func (dc *DeviceContext) FindChildSnapshot(sid uint16) (uint16, bool) {
	for i := range dc.Snapshots {
		if dc.Snapshots[i].InUse() && dc.Snapshots[i].ParentSnapshotID == sid {
			return uint16(i + 1), true
		}
	}
	return 0, false
}

// FindVolumeWithSnapshot walks descendants of sid until a volume tip
// points at a snapshot in the chain, returning that volume's slot index.
func (dc *DeviceContext) FindVolumeWithSnapshot(sid uint16) (int, bool) {
	cur := sid
	for {
		for i := range dc.Volumes {
			if dc.Volumes[i].InUse() && dc.Volumes[i].SnapshotID == cur {
				return i, true
			}
		}
		child, ok := dc.FindChildSnapshot(cur)
		if !ok {
			return 0, false
		}
		cur = child
	}
}

// CountVolumes returns the number of in-use volume slots.
func (dc *DeviceContext) CountVolumes() int {
	n := 0
	for i := range dc.Volumes {
		if dc.Volumes[i].InUse() {
			n++
		}
	}
	return n
}

// CountSnapshots returns the chain length (tip to root, inclusive) for
// the volume at slot volumeIdx.
func (dc *DeviceContext) CountSnapshots(volumeIdx int) int {
	n := 0
	cur := dc.Volumes[volumeIdx].SnapshotID
	for cur != ondisk.NoSnapshot {
		n++
		cur = dc.Snapshots[cur-1].ParentSnapshotID
	}
	return n
}

// --- mutators (spec.md §4.3) ---

// AddSnapshot allocates the first free snapshot slot with the given
// parent and returns its id (slot index + 1).
func (dc *DeviceContext) AddSnapshot(parent uint16) (uint16, error) {
	for i := range dc.Snapshots {
		if !dc.Snapshots[i].InUse() {
			dc.Snapshots[i] = ondisk.SnapshotRecord{ParentSnapshotID: parent, CreatedAt: dc.now()}
			return uint16(i + 1), nil
		}
	}
	return 0, dbserrors.ErrOutOfSnapshotSlots
}

// AddVolume allocates the first free volume slot, creates its root
// snapshot, and initializes name/size (size truncated down to a
// multiple of ExtentSize). Returns the new volume's slot index.
func (dc *DeviceContext) AddVolume(name string, size uint64) (int, error) {
	truncSize := (size / ondisk.ExtentSize) * ondisk.ExtentSize
	if truncSize == 0 {
		return 0, dbserrors.ErrZeroSize
	}

	slot := -1
	for i := range dc.Volumes {
		if !dc.Volumes[i].InUse() {
			slot = i
			break
		}
	}
	if slot == -1 {
		return 0, dbserrors.ErrOutOfVolumeSlots
	}

	sid, err := dc.AddSnapshot(ondisk.NoSnapshot)
	if err != nil {
		return 0, err
	}

	dc.Volumes[slot] = ondisk.VolumeRecord{SnapshotID: sid, VolumeSize: truncSize}
	dc.Volumes[slot].SetName(name)
	return slot, nil
}

// --- persisters (spec.md §4.3) ---

// WriteSuperblock persists the in-memory superblock.
func (dc *DeviceContext) WriteSuperblock() error {
	return dbserrors.Wrap("write_superblock", dc.Store.WriteAt(codec.EncodeSuperblock(&dc.Superblock), 0))
}

// WriteMetadata persists the full volume and snapshot tables.
func (dc *DeviceContext) WriteMetadata() error {
	buf := codec.EncodeTables(&dc.Volumes, &dc.Snapshots)
	return dbserrors.Wrap("write_metadata", dc.Store.WriteAt(buf, ondisk.BlockSize))
}

// --- extentmap.DeviceAccessor implementation ---
//
// These methods satisfy internal/extentmap.DeviceAccessor structurally;
// DeviceContext does not import extentmap, avoiding an import cycle
// between the two (management code in pkg/dbs wires them together).

// TotalDeviceExtents is the fixed capacity of the extent-metadata table.
func (dc *DeviceContext) TotalDeviceExtents() uint32 { return dc.extentCapacity }

// AllocatedDeviceExtents is the current high-water mark of appended
// device slots.
func (dc *DeviceContext) AllocatedDeviceExtents() uint32 { return dc.Superblock.AllocatedDeviceExtents }

// AllocateDeviceSlot returns the next free device-slot index and
// advances the in-memory counter; the caller persists the superblock.
func (dc *DeviceContext) AllocateDeviceSlot() (uint32, error) {
	if dc.Superblock.AllocatedDeviceExtents >= dc.extentCapacity {
		return 0, dbserrors.ErrNoSpace
	}
	slot := dc.Superblock.AllocatedDeviceExtents
	dc.Superblock.AllocatedDeviceExtents++
	return slot, nil
}

// ReadExtentRecordsBatch reads count consecutive on-disk extent records
// starting at device slot startSlot, bounded internally by
// ondisk.ExtentBatch per round-trip.
func (dc *DeviceContext) ReadExtentRecordsBatch(startSlot, count uint32) ([]ondisk.ExtentRecord, error) {
	out := make([]ondisk.ExtentRecord, 0, count)
	for remaining := count; remaining > 0; {
		n := remaining
		if n > ondisk.ExtentBatch {
			n = ondisk.ExtentBatch
		}
		slot := startSlot + (count - remaining)
		buf := make([]byte, int64(n)*ondisk.ExtentRecordSize)
		off := dc.ExtentOffset + int64(slot)*ondisk.ExtentRecordSize
		if err := dc.Store.ReadAt(buf, off); err != nil {
			return nil, dbserrors.Wrap("read_extents", err)
		}
		recs, err := codec.DecodeExtentBatch(buf, int(n))
		if err != nil {
			return nil, dbserrors.Wrap("read_extents", err)
		}
		out = append(out, recs...)
		remaining -= n
	}
	return out, nil
}

// WriteExtentRecord persists rec at device slot, restoring the on-disk
// (volume-relative) meaning of ExtentPos.
func (dc *DeviceContext) WriteExtentRecord(slot uint32, rec *ondisk.ExtentRecord, volumeRelativeExtent uint32) error {
	buf := codec.EncodeExtentRecord(rec, volumeRelativeExtent)
	off := dc.ExtentOffset + int64(slot)*ondisk.ExtentRecordSize
	return dbserrors.Wrap("write_extent", dc.Store.WriteAt(buf, off))
}

// WriteExtentsBatch persists a contiguous run of records starting at
// startSlot, chunked by ondisk.ExtentBatch.
func (dc *DeviceContext) WriteExtentsBatch(records []ondisk.ExtentRecord, volumeRelativeExtents []uint32, startSlot uint32) error {
	for i := 0; i < len(records); i += ondisk.ExtentBatch {
		end := i + ondisk.ExtentBatch
		if end > len(records) {
			end = len(records)
		}
		buf := codec.EncodeExtentBatch(records[i:end], volumeRelativeExtents[i:end])
		off := dc.ExtentOffset + int64(startSlot+uint32(i))*ondisk.ExtentRecordSize
		if err := dc.Store.WriteAt(buf, off); err != nil {
			return dbserrors.Wrap("write_extents", err)
		}
	}
	return nil
}

// CopyExtentData copies one whole extent's data region from device slot
// src to device slot dst.
func (dc *DeviceContext) CopyExtentData(src, dst uint32) error {
	buf := make([]byte, ondisk.ExtentSize)
	if err := dc.Store.ReadAt(buf, dc.DataOffset+int64(src)*ondisk.ExtentSize); err != nil {
		return dbserrors.Wrap("copy_extent_data", err)
	}
	if err := dc.Store.WriteAt(buf, dc.DataOffset+int64(dst)*ondisk.ExtentSize); err != nil {
		return dbserrors.Wrap("copy_extent_data", err)
	}
	return nil
}

// ParentSnapshot returns the parent snapshot id of sid (0 if sid is a
// root or is itself 0).
func (dc *DeviceContext) ParentSnapshot(sid uint16) (uint16, error) {
	if sid == ondisk.NoSnapshot {
		return ondisk.NoSnapshot, nil
	}
	return dc.Snapshots[sid-1].ParentSnapshotID, nil
}

// --- block-data I/O (spec.md §4.6) ---

// ReadExtentBlock reads one BlockSize-sized block b out of the extent
// physically stored at device slot.
func (dc *DeviceContext) ReadExtentBlock(slot uint32, b int, buf []byte) error {
	off := dc.DataOffset + int64(slot)*ondisk.ExtentSize + int64(b)*ondisk.BlockSize
	return dbserrors.Wrap("read_block", dc.Store.ReadAt(buf, off))
}

// WriteExtentBlock writes one BlockSize-sized block b into the extent
// physically stored at device slot.
func (dc *DeviceContext) WriteExtentBlock(slot uint32, b int, buf []byte) error {
	off := dc.DataOffset + int64(slot)*ondisk.ExtentSize + int64(b)*ondisk.BlockSize
	return dbserrors.Wrap("write_block", dc.Store.WriteAt(buf, off))
}
