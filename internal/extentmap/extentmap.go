// Package extentmap materializes, for a given (volume, snapshot),
// which volume-relative extent indices are present and where each one
// lives on the device, and implements the copy-on-write bulk operations
// (new/copy/copy-all/merge/clear) that management and block operations
// compose.
//
// The bitmap-plus-sparse-array shape and the word-at-a-time empty-region
// skip are grounded on the teacher's apfs/pkg/container/spacemanager.go
// (SpaceManager's bitmap cache over allocation chunks) and on the
// ancestor-walk shape of internal/apfs/object_maps's tree lookups,
// generalized here from APFS's object map chain to a single linear
// snapshot-ancestor chain.
package extentmap

import (
	"fmt"
	"math/bits"

	"github.com/dbsstore/dbs/internal/ondisk"
)

const bitsPerWord = 32

// DeviceAccessor is everything an ExtentMap builder or bulk operation
// needs from the device context, without importing it (internal/
// devicectx implements this interface implicitly; management code in
// pkg/dbs wires the two together).
type DeviceAccessor interface {
	// TotalDeviceExtents is the fixed capacity of the extent-metadata
	// table.
	TotalDeviceExtents() uint32

	// AllocatedDeviceExtents is the current high-water mark of
	// appended device slots.
	AllocatedDeviceExtents() uint32

	// AllocateDeviceSlot returns the next free device-slot index
	// (the current AllocatedDeviceExtents value) and advances the
	// in-memory counter. The caller is responsible for persisting the
	// superblock afterward (spec.md §4.6 write_block step 2).
	AllocateDeviceSlot() (uint32, error)

	// ReadExtentRecordsBatch reads count consecutive on-disk extent
	// records starting at device slot startSlot.
	ReadExtentRecordsBatch(startSlot, count uint32) ([]ondisk.ExtentRecord, error)

	// WriteExtentRecord persists rec at device slot, restoring the
	// on-disk (volume-relative) meaning of ExtentPos.
	WriteExtentRecord(slot uint32, rec *ondisk.ExtentRecord, volumeRelativeExtent uint32) error

	// CopyExtentData copies one whole extent's data region from
	// device slot src to device slot dst.
	CopyExtentData(src, dst uint32) error

	// ParentSnapshot returns the parent snapshot id of sid (0 if sid
	// is a root or is itself 0).
	ParentSnapshot(sid uint16) (uint16, error)
}

// ExtentMap is the in-memory materialization of which volume-relative
// extents are present for a given snapshot id (SnapshotMap) or for a
// volume's full lineage (VolumeMap), and where each one lives on
// device.
type ExtentMap struct {
	// TotalVolumeExtents is volume_size / ExtentSize.
	TotalVolumeExtents uint32

	// AllocatedVolumeExtents is the number of populated entries.
	AllocatedVolumeExtents uint32

	// MaxExtentIdx is the highest populated index, or -1 if none are
	// populated. Monotone non-decreasing within one builder call.
	MaxExtentIdx int64

	// Extents holds one entry per volume-relative extent index.
	// Entries are only meaningful where the bitmap bit is set; populated
	// entries carry the full extent record with ExtentPos rewritten to
	// the device-slot index that holds the data.
	Extents []ondisk.ExtentRecord

	bitmap []uint32
}

func newExtentMap(totalVolumeExtents uint32) *ExtentMap {
	return &ExtentMap{
		TotalVolumeExtents: totalVolumeExtents,
		MaxExtentIdx:       -1,
		Extents:            make([]ondisk.ExtentRecord, totalVolumeExtents),
		bitmap:             make([]uint32, (totalVolumeExtents+bitsPerWord-1)/bitsPerWord),
	}
}

func (m *ExtentMap) bitSet(v uint32) bool {
	return m.bitmap[v/bitsPerWord]&(1<<(v%bitsPerWord)) != 0
}

func (m *ExtentMap) setBit(v uint32) { m.bitmap[v/bitsPerWord] |= 1 << (v % bitsPerWord) }

func (m *ExtentMap) clrBit(v uint32) { m.bitmap[v/bitsPerWord] &^= 1 << (v % bitsPerWord) }

func (m *ExtentMap) setEntry(v uint32, rec ondisk.ExtentRecord) {
	if !m.bitSet(v) {
		m.AllocatedVolumeExtents++
		m.setBit(v)
	}
	m.Extents[v] = rec
	if int64(v) > m.MaxExtentIdx {
		m.MaxExtentIdx = int64(v)
	}
}

func (m *ExtentMap) clearEntry(v uint32) {
	if m.bitSet(v) {
		m.AllocatedVolumeExtents--
		m.clrBit(v)
	}
	m.Extents[v] = ondisk.ExtentRecord{}
}

// Present reports whether volume-relative extent v currently has data.
func (m *ExtentMap) Present(v uint32) bool { return m.bitSet(v) }

// forEachPresent calls fn once per populated index, skipping whole
// 32-extent regions with a single word comparison when they are empty.
// fn may mutate m (e.g. clear or replace the visited entry); the bitmap
// word driving the current outer iteration is captured before fn runs so
// concurrent-within-this-call mutations of other words are safe.
func (m *ExtentMap) forEachPresent(fn func(v uint32) error) error {
	for w := range m.bitmap {
		word := m.bitmap[w]
		if word == 0 {
			continue
		}
		for word != 0 {
			b := bits.TrailingZeros32(word)
			word &^= 1 << uint(b)
			v := uint32(w)*bitsPerWord + uint32(b)
			if v >= m.TotalVolumeExtents {
				continue
			}
			if err := fn(v); err != nil {
				return err
			}
		}
	}
	return nil
}

// SnapshotMap streams through the device's extent-metadata table in
// bounded batches and returns the set of volume-relative extents that
// belong directly to snapshot sid (spec.md §4.4 snapshot_map).
func SnapshotMap(dev DeviceAccessor, volumeSize uint64, sid uint16) (*ExtentMap, error) {
	totalVolumeExtents := uint32(volumeSize / ondisk.ExtentSize)
	m := newExtentMap(totalVolumeExtents)
	if sid == ondisk.NoSnapshot {
		return m, nil
	}

	total := dev.TotalDeviceExtents()
	allocated := dev.AllocatedDeviceExtents()
	scanLimit := allocated
	if total < scanLimit {
		scanLimit = total
	}

	for start := uint32(0); start < scanLimit; start += ondisk.ExtentBatch {
		count := uint32(ondisk.ExtentBatch)
		if start+count > scanLimit {
			count = scanLimit - start
		}
		batch, err := dev.ReadExtentRecordsBatch(start, count)
		if err != nil {
			return nil, fmt.Errorf("snapshot map: %w", err)
		}
		for i, rec := range batch {
			if rec.SnapshotID != sid {
				continue
			}
			v := rec.ExtentPos // on-disk meaning: volume-relative index
			slot := start + uint32(i)
			entry := rec
			entry.ExtentPos = slot // in-memory meaning: device-slot index
			m.setEntry(v, entry)
		}
	}
	return m, nil
}

// VolumeMap flattens a volume's full snapshot lineage starting at sid:
// SnapshotMap(sid) is the base, and each ancestor in turn fills in any
// volume-relative extent not already present, so the nearest ancestor
// that owns an extent always wins (spec.md §4.4 volume_map).
func VolumeMap(dev DeviceAccessor, volumeSize uint64, sid uint16) (*ExtentMap, error) {
	m, err := SnapshotMap(dev, volumeSize, sid)
	if err != nil {
		return nil, err
	}

	parent, err := dev.ParentSnapshot(sid)
	if err != nil {
		return nil, fmt.Errorf("volume map: %w", err)
	}
	for parent != ondisk.NoSnapshot {
		anc, err := SnapshotMap(dev, volumeSize, parent)
		if err != nil {
			return nil, err
		}
		if err := anc.forEachPresent(func(v uint32) error {
			if !m.bitSet(v) {
				m.setEntry(v, anc.Extents[v])
			}
			return nil
		}); err != nil {
			return nil, err
		}
		parent, err = dev.ParentSnapshot(parent)
		if err != nil {
			return nil, fmt.Errorf("volume map: %w", err)
		}
	}
	return m, nil
}

// NewExtent allocates a fresh device slot for volume-relative extent v,
// tags it with sid, and persists the (empty-bitmap) extent record. Used
// when a write targets an extent that has never been materialized.
func (m *ExtentMap) NewExtent(dev DeviceAccessor, v uint32, sid uint16) error {
	slot, err := dev.AllocateDeviceSlot()
	if err != nil {
		return fmt.Errorf("new extent: %w", err)
	}
	rec := ondisk.ExtentRecord{SnapshotID: sid, ExtentPos: slot}
	if err := dev.WriteExtentRecord(slot, &rec, v); err != nil {
		return fmt.Errorf("new extent: %w", err)
	}
	m.setEntry(v, rec)
	return nil
}

// CopyExtent performs copy-on-write: it copies the data currently
// backing volume-relative extent v into a freshly allocated device
// slot, retags the record with sid, and persists it. Used when a write
// targets an extent owned by an ancestor snapshot.
func (m *ExtentMap) CopyExtent(dev DeviceAccessor, v uint32, sid uint16) error {
	old := m.Extents[v]
	newSlot, err := dev.AllocateDeviceSlot()
	if err != nil {
		return fmt.Errorf("copy extent: %w", err)
	}
	if err := dev.CopyExtentData(old.ExtentPos, newSlot); err != nil {
		return fmt.Errorf("copy extent: %w", err)
	}
	rec := old
	rec.SnapshotID = sid
	rec.ExtentPos = newSlot
	if err := dev.WriteExtentRecord(newSlot, &rec, v); err != nil {
		return fmt.Errorf("copy extent: %w", err)
	}
	m.Extents[v] = rec
	return nil
}

// CopyAllTo physically copies every populated extent in m to a fresh
// device slot tagged with newSid, updating m in place. Used by
// clone_snapshot to materialize an independent copy of a volume map.
func (m *ExtentMap) CopyAllTo(dev DeviceAccessor, newSid uint16) error {
	return m.forEachPresent(func(v uint32) error {
		return m.CopyExtent(dev, v, newSid)
	})
}

// MergeInto moves every extent present in m (the victim) and absent in
// dst (the child) into dst, retagging it with newSid and rewriting the
// on-disk record in place (same device slot, same bitmap, new owning
// snapshot id). Extents shadowed by dst are left for the caller to
// reclaim with ClearAll. Used by delete_snapshot.
func (m *ExtentMap) MergeInto(dst *ExtentMap, dev DeviceAccessor, newSid uint16) error {
	return m.forEachPresent(func(v uint32) error {
		if dst.bitSet(v) {
			return nil
		}
		rec := m.Extents[v]
		rec.SnapshotID = newSid
		if err := dev.WriteExtentRecord(rec.ExtentPos, &rec, v); err != nil {
			return fmt.Errorf("merge into: %w", err)
		}
		dst.setEntry(v, rec)
		m.clearEntry(v)
		return nil
	})
}

// ClearAll overwrites every populated entry's on-disk record with an
// all-zero record, logically freeing the device slot (the slot itself
// stays dark until a future vacuum; it is not compacted), and clears
// the in-memory entries. Used by delete_volume and by delete_snapshot's
// second pass over records that were shadowed during MergeInto.
func (m *ExtentMap) ClearAll(dev DeviceAccessor) error {
	return m.forEachPresent(func(v uint32) error {
		slot := m.Extents[v].ExtentPos
		zero := ondisk.ExtentRecord{}
		if err := dev.WriteExtentRecord(slot, &zero, 0); err != nil {
			return fmt.Errorf("clear all: %w", err)
		}
		m.clearEntry(v)
		return nil
	})
}

// Free drops volume-relative extent v from the map without touching the
// device (the caller has already persisted an updated/zeroed record).
// Used by unmap_block once a block bitmap becomes entirely empty.
func (m *ExtentMap) Free(v uint32) { m.clearEntry(v) }

// Set installs rec as the entry for volume-relative extent v without
// any device I/O; used by write_block/unmap_block after they persist a
// record themselves (a single 38-byte write that doesn't warrant a full
// bulk-operation helper).
func (m *ExtentMap) Set(v uint32, rec ondisk.ExtentRecord) { m.setEntry(v, rec) }
