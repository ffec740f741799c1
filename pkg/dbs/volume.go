package dbs

import (
	"fmt"

	"github.com/dbsstore/dbs/internal/dbserrors"
	"github.com/dbsstore/dbs/internal/devicectx"
	"github.com/dbsstore/dbs/internal/extentmap"
	"github.com/dbsstore/dbs/internal/ondisk"
)

// VolumeContext is an open handle onto one volume's flattened,
// lineage-wide extent map. It owns the underlying device context.
type VolumeContext struct {
	dc   *devicectx.DeviceContext
	slot int
	name string
	emap *extentmap.ExtentMap
}

// VolumeStat is the result of VolumeContext.Stat.
type VolumeStat struct {
	Size                   uint64
	TipSnapshotID          uint16
	TotalVolumeExtents     uint32
	AllocatedVolumeExtents uint32
}

// OpenVolume opens the device at path and materializes name's full
// lineage extent map.
func OpenVolume(path, name string) (*VolumeContext, error) {
	dc, err := devicectx.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open_volume: %w", err)
	}
	slot, ok := dc.FindVolume(name)
	if !ok {
		dc.Close()
		return nil, fmt.Errorf("open_volume %q: %w", name, dbserrors.ErrVolumeNotFound)
	}

	tip := dc.Volumes[slot].SnapshotID
	m, err := extentmap.VolumeMap(dc, dc.Volumes[slot].VolumeSize, tip)
	if err != nil {
		dc.Close()
		return nil, fmt.Errorf("open_volume: %w", err)
	}

	return &VolumeContext{dc: dc, slot: slot, name: name, emap: m}, nil
}

// CloseVolume closes the underlying device context.
func (vc *VolumeContext) CloseVolume() error {
	return dbserrors.Wrap("close_volume", vc.dc.Close())
}

// Stat reports the volume's logical size, tip, and extent population
// without a full device-wide Query scan.
func (vc *VolumeContext) Stat() VolumeStat {
	return VolumeStat{
		Size:                   vc.dc.Volumes[vc.slot].VolumeSize,
		TipSnapshotID:          vc.dc.Volumes[vc.slot].SnapshotID,
		TotalVolumeExtents:     vc.emap.TotalVolumeExtents,
		AllocatedVolumeExtents: vc.emap.AllocatedVolumeExtents,
	}
}

func splitBlockIndex(blockIndex uint64) (v uint32, b int) {
	return uint32(blockIndex >> ondisk.BlockBitsInExtent), int(blockIndex & ondisk.BlockMaskInExtent)
}

// ReadBlock reads one BLOCK_SIZE-sized block, zero-filling out when the
// block has never been written.
func (vc *VolumeContext) ReadBlock(blockIndex uint64, out []byte) error {
	v, b := splitBlockIndex(blockIndex)
	if v >= vc.emap.TotalVolumeExtents {
		return fmt.Errorf("read_block %d: %w", blockIndex, dbserrors.ErrOutOfRange)
	}
	if !vc.emap.Present(v) {
		zeroFill(out)
		return nil
	}
	e := vc.emap.Extents[v]
	if e.SnapshotID == ondisk.NoSnapshot || !e.BitSet(b) {
		zeroFill(out)
		return nil
	}
	return vc.dc.ReadExtentBlock(e.ExtentPos, b, out)
}

func zeroFill(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}

// WriteBlock writes one BLOCK_SIZE-sized block, performing copy-on-write
// against the tip snapshot when the target extent is unallocated or
// owned by an ancestor. When updateMetadata is false and COW would be
// required, it returns ErrMetadataNeedsUpdate without mutating anything
// so a caller holding only a shared lock can retry exclusively.
func (vc *VolumeContext) WriteBlock(blockIndex uint64, in []byte, updateMetadata bool) error {
	v, b := splitBlockIndex(blockIndex)
	if v >= vc.emap.TotalVolumeExtents {
		return fmt.Errorf("write_block %d: %w", blockIndex, dbserrors.ErrOutOfRange)
	}

	tip := vc.dc.Volumes[vc.slot].SnapshotID
	owned := vc.emap.Present(v)
	var owner uint16
	if owned {
		owner = vc.emap.Extents[v].SnapshotID
	}

	if !owned || owner != tip {
		if !updateMetadata {
			return dbserrors.ErrMetadataNeedsUpdate
		}
		var err error
		if !owned {
			err = vc.emap.NewExtent(vc.dc, v, tip)
		} else {
			err = vc.emap.CopyExtent(vc.dc, v, tip)
		}
		if err != nil {
			return fmt.Errorf("write_block: %w", err)
		}
		if err := vc.dc.WriteSuperblock(); err != nil {
			return fmt.Errorf("write_block: %w", err)
		}
	}

	e := vc.emap.Extents[v]
	if err := vc.dc.WriteExtentBlock(e.ExtentPos, b, in); err != nil {
		return fmt.Errorf("write_block: %w", err)
	}

	if !e.BitSet(b) {
		e.SetBit(b)
		vc.emap.Set(v, e)
		if err := vc.dc.WriteExtentRecord(e.ExtentPos, &e, v); err != nil {
			return fmt.Errorf("write_block: %w", err)
		}
	}
	return nil
}

// UnmapBlock clears a block's presence bit, idempotently succeeding on
// an already-unmapped or never-written block, and frees the owning
// extent entirely once its bitmap becomes empty.
func (vc *VolumeContext) UnmapBlock(blockIndex uint64) error {
	v, b := splitBlockIndex(blockIndex)
	if v >= vc.emap.TotalVolumeExtents {
		return fmt.Errorf("unmap_block %d: %w", blockIndex, dbserrors.ErrOutOfRange)
	}
	if !vc.emap.Present(v) {
		return nil
	}
	e := vc.emap.Extents[v]
	if e.SnapshotID == ondisk.NoSnapshot || !e.BitSet(b) {
		return nil
	}

	e.ClearBit(b)
	if e.BitmapEmpty() {
		e.SnapshotID = ondisk.NoSnapshot
		if err := vc.dc.WriteExtentRecord(e.ExtentPos, &e, v); err != nil {
			return fmt.Errorf("unmap_block: %w", err)
		}
		vc.emap.Free(v)
		return nil
	}
	vc.emap.Set(v, e)
	if err := vc.dc.WriteExtentRecord(e.ExtentPos, &e, v); err != nil {
		return fmt.Errorf("unmap_block: %w", err)
	}
	return nil
}

// ReadAt reads len(buf) bytes at byteOffset, performing partial reads on
// head/tail blocks.
func (vc *VolumeContext) ReadAt(buf []byte, byteOffset uint64) error {
	return vc.iterateBlocks(buf, byteOffset, func(blockIndex uint64, full []byte, lo, hi int, dst []byte) error {
		if err := vc.ReadBlock(blockIndex, full); err != nil {
			return err
		}
		copy(dst, full[lo:hi])
		return nil
	})
}

// WriteAt writes len(buf) bytes at byteOffset, read-modify-writing
// partial head/tail blocks.
func (vc *VolumeContext) WriteAt(buf []byte, byteOffset uint64, updateMetadata bool) error {
	return vc.iterateBlocks(buf, byteOffset, func(blockIndex uint64, full []byte, lo, hi int, src []byte) error {
		if lo != 0 || hi != ondisk.BlockSize {
			if err := vc.ReadBlock(blockIndex, full); err != nil {
				return err
			}
		}
		copy(full[lo:hi], src)
		return vc.WriteBlock(blockIndex, full, updateMetadata)
	})
}

// UnmapAt unmaps every block fully covered by [byteOffset, byteOffset+length).
// Partially covered head/tail blocks are left untouched, matching
// unmap_block's whole-block granularity.
func (vc *VolumeContext) UnmapAt(length int, byteOffset uint64) error {
	start := byteOffset
	end := byteOffset + uint64(length)
	firstFull := (start + ondisk.BlockSize - 1) / ondisk.BlockSize
	lastFull := end / ondisk.BlockSize
	for blk := firstFull; blk < lastFull; blk++ {
		if err := vc.UnmapBlock(blk); err != nil {
			return err
		}
	}
	return nil
}

// iterateBlocks walks buf in BLOCK_SIZE-sized spans, handing each span's
// owning block index and intra-block [lo,hi) byte range to fn.
func (vc *VolumeContext) iterateBlocks(buf []byte, byteOffset uint64, fn func(blockIndex uint64, full []byte, lo, hi int, span []byte) error) error {
	pos := 0
	offset := byteOffset
	scratch := make([]byte, ondisk.BlockSize)
	for pos < len(buf) {
		blockIndex := offset / ondisk.BlockSize
		lo := int(offset % ondisk.BlockSize)
		hi := ondisk.BlockSize
		if remaining := len(buf) - pos; lo+remaining < hi {
			hi = lo + remaining
		}
		if err := fn(blockIndex, scratch, lo, hi, buf[pos:pos+(hi-lo)]); err != nil {
			return err
		}
		pos += hi - lo
		offset += uint64(hi - lo)
	}
	return nil
}
