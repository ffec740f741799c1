// Package ondisk defines the bit-exact on-disk layout of a DBS backing
// object: the superblock, the volume and snapshot tables, and the
// per-extent metadata records. Field names and doc-comment density
// follow the teacher's internal/types package (one comment per field,
// naming the purpose and lifecycle, not the encoding).
package ondisk

// MagicSize is the length in bytes of the superblock magic.
const MagicSize = 8

// Magic is the eight-byte value that must appear at the start of every
// initialized backing object.
var Magic = [MagicSize]byte{0x44, 0x42, 0x53, 0x40, 0x33, 0x39, 0x0D, 0x21}

// Version is the on-disk format version: 16-bit major | 8-bit minor |
// 8-bit patch, packed into a u32.
const Version uint32 = 0x00010000

// BlockSize is the logical block size, in bytes: the unit of user I/O
// and the physical alignment unit for the direct-I/O adapter.
const BlockSize = 4096

// ExtentSize is the unit of on-device allocation and copy-on-write, in
// bytes (1 MiB).
const ExtentSize = 1024 * 1024

// BlocksPerExtent is the number of logical blocks held by one extent.
const BlocksPerExtent = ExtentSize / BlockSize // 256

// BlockBitsInExtent is the number of bits needed to index a block
// within an extent (log2(BlocksPerExtent)).
const BlockBitsInExtent = 8

// BlockMaskInExtent masks the in-extent block offset out of a block
// index.
const BlockMaskInExtent = BlocksPerExtent - 1 // 0xFF

// ExtentBitmapSize is the size, in bytes, of one extent's block-presence
// bitmap: one bit per block in the extent.
const ExtentBitmapSize = BlocksPerExtent / 8 // 32

// MaxVolumes is the fixed size of the volume table.
const MaxVolumes = 256

// MaxSnapshots is the fixed size of the snapshot table.
const MaxSnapshots = 65535

// MaxVolumeNameSize is the maximum number of useful (non-NUL) bytes in a
// volume name.
const MaxVolumeNameSize = 255

// MinDeviceSize is the minimum backing-object size accepted by
// init_device.
const MinDeviceSize = 100 * 1024 * 1024

// SuperblockRecordSize is the number of meaningful bytes in the
// superblock record (magic + version + allocated_device_extents +
// device_size); the rest of the first block is zero padding.
const SuperblockRecordSize = MagicSize + 4 + 4 + 8 // 24

// VolumeNameFieldSize is the on-disk width of the volume_name field,
// NUL-padded.
const VolumeNameFieldSize = 256

// VolumeRecordSize is the exact on-disk size of one volume table entry:
// snapshot_id(2) + volume_size(8) + volume_name(256).
const VolumeRecordSize = 2 + 8 + VolumeNameFieldSize // 266

// SnapshotRecordSize is the exact on-disk size of one snapshot table
// entry: parent_snapshot_id(2) + created_at(8).
const SnapshotRecordSize = 2 + 8 // 10

// ExtentRecordSize is the exact on-disk size of one extent metadata
// record: snapshot_id(2) + extent_pos(4) + block_bitmap(32).
const ExtentRecordSize = 2 + 4 + ExtentBitmapSize // 38

// ExtentBatch bounds the number of extent-metadata records moved through
// memory in one streaming batch, so a multi-terabyte device's extent
// table is never loaded whole.
const ExtentBatch = 65536

// NoSnapshot is the sentinel snapshot id meaning "none": a free slot, a
// root snapshot's parent, or an unreferenced extent record.
const NoSnapshot uint16 = 0
