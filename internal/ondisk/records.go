package ondisk

// Superblock mirrors the fixed 24-byte header that lives at byte offset
// 0 of every backing object, zero-padded out to BlockSize. It is the
// single source of truth for how much of the device has been allocated
// and how large the device itself is.
type Superblock struct {
	// Magic must equal ondisk.Magic; anything else means the backing
	// object has never been through init_device.
	Magic [MagicSize]byte

	// Version is the on-disk format version this superblock was
	// written with.
	Version uint32

	// AllocatedDeviceExtents is the number of device-slot extents that
	// have ever been appended. New data extents are appended at this
	// index, which is then incremented. Monotone non-decreasing within
	// a process (spec.md §8 P7); only vacuum (unimplemented) can lower
	// it.
	AllocatedDeviceExtents uint32

	// DeviceSize is the total size, in bytes, of the backing object at
	// the time init_device ran.
	DeviceSize uint64
}

// VolumeRecord is one of the MaxVolumes fixed-size slots in the volume
// table.
type VolumeRecord struct {
	// SnapshotID is the current tip snapshot id for this volume. Zero
	// means the slot is free.
	SnapshotID uint16

	// VolumeSize is the logical size of the volume in bytes, always a
	// multiple of ExtentSize.
	VolumeSize uint64

	// VolumeName is the NUL-padded volume name; at most
	// MaxVolumeNameSize bytes are meaningful.
	VolumeName [VolumeNameFieldSize]byte
}

// InUse reports whether this volume slot holds a live volume.
func (v *VolumeRecord) InUse() bool { return v.SnapshotID != NoSnapshot }

// Name returns the volume name with trailing NUL padding stripped.
func (v *VolumeRecord) Name() string {
	n := 0
	for n < len(v.VolumeName) && v.VolumeName[n] != 0 {
		n++
	}
	return string(v.VolumeName[:n])
}

// SetName writes name into VolumeName, NUL-padding and truncating at
// MaxVolumeNameSize as spec.md §4.5 rename_volume requires.
func (v *VolumeRecord) SetName(name string) {
	var buf [VolumeNameFieldSize]byte
	b := []byte(name)
	if len(b) > MaxVolumeNameSize {
		b = b[:MaxVolumeNameSize]
	}
	copy(buf[:], b)
	v.VolumeName = buf
}

// SnapshotRecord is one of the MaxSnapshots fixed-size slots in the
// snapshot table.
type SnapshotRecord struct {
	// ParentSnapshotID is the parent in the chain; zero means this is a
	// root (the first snapshot of some volume's lineage, possibly
	// dangling if that volume was later deleted down to this point).
	ParentSnapshotID uint16

	// CreatedAt is the epoch-second creation time. Zero means the slot
	// is free.
	CreatedAt int64
}

// InUse reports whether this snapshot slot holds a live snapshot.
func (s *SnapshotRecord) InUse() bool { return s.CreatedAt != 0 }

// ExtentRecord is one device-slot's metadata: which snapshot owns it,
// which extent it backs, and which of its 256 blocks are present.
//
// ExtentPos is dual-purposed (spec.md §3, §9): on disk it holds the
// volume-relative extent index this slot backs; once loaded into an
// ExtentMap it is overwritten with the device-slot index where the data
// physically lives. Every codec helper that persists a record restores
// the on-disk (volume-relative) meaning before writing.
type ExtentRecord struct {
	// SnapshotID is the owning snapshot id. Zero means the device slot
	// is free.
	SnapshotID uint16

	// ExtentPos is on-disk the volume-relative extent index; in memory
	// (inside an ExtentMap) the device-slot index. See type doc.
	ExtentPos uint32

	// BlockBitmap has one bit per block in the extent; bit b set means
	// block b has been written and should be read from disk rather
	// than zero-filled.
	BlockBitmap [ExtentBitmapSize]byte
}

// InUse reports whether this extent-metadata slot backs a live extent.
func (e *ExtentRecord) InUse() bool { return e.SnapshotID != NoSnapshot }

// BitSet reports whether block b (0..BlocksPerExtent) is present.
func (e *ExtentRecord) BitSet(b int) bool {
	return e.BlockBitmap[b>>3]&(1<<uint(b&7)) != 0
}

// SetBit marks block b present.
func (e *ExtentRecord) SetBit(b int) {
	e.BlockBitmap[b>>3] |= 1 << uint(b&7)
}

// ClearBit marks block b absent.
func (e *ExtentRecord) ClearBit(b int) {
	e.BlockBitmap[b>>3] &^= 1 << uint(b&7)
}

// BitmapEmpty reports whether every bit in the bitmap is clear.
func (e *ExtentRecord) BitmapEmpty() bool {
	for _, b := range e.BlockBitmap {
		if b != 0 {
			return false
		}
	}
	return true
}
