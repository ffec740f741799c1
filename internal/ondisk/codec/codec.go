// Package codec provides fixed little-endian serialization and
// deserialization for every on-disk record defined in package ondisk.
// Each encode/decode pair is a manual, field-by-field byte-offset
// routine in the same style as the teacher's
// container_superblock_reader.go (parseContainerSuperblock) and
// spacemanager.go (parseSpacemanPhys): no reflection, no generic binary
// struct decoder, because the on-disk layout's exactness is the thing
// under test.
package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/dbsstore/dbs/internal/dbserrors"
	"github.com/dbsstore/dbs/internal/ondisk"
)

var byteOrder = binary.LittleEndian

// EncodeSuperblock writes the 24 meaningful bytes of sb into a
// ondisk.BlockSize-sized, zero-padded block.
func EncodeSuperblock(sb *ondisk.Superblock) []byte {
	buf := make([]byte, ondisk.BlockSize)
	copy(buf[0:8], sb.Magic[:])
	byteOrder.PutUint32(buf[8:12], sb.Version)
	byteOrder.PutUint32(buf[12:16], sb.AllocatedDeviceExtents)
	byteOrder.PutUint64(buf[16:24], sb.DeviceSize)
	return buf
}

// DecodeSuperblock parses a superblock block, validating magic and
// version. Callers wanting to distinguish "never initialized" from
// "wrong version" check the returned error with errors.Is against
// dbserrors.ErrNotInitialized / dbserrors.ErrVersionMismatch.
func DecodeSuperblock(buf []byte) (*ondisk.Superblock, error) {
	if len(buf) < ondisk.SuperblockRecordSize {
		return nil, fmt.Errorf("decode superblock: %w", dbserrors.ErrNotInitialized)
	}
	sb := &ondisk.Superblock{}
	copy(sb.Magic[:], buf[0:8])
	if sb.Magic != ondisk.Magic {
		return nil, fmt.Errorf("decode superblock: %w", dbserrors.ErrNotInitialized)
	}
	sb.Version = byteOrder.Uint32(buf[8:12])
	if sb.Version != ondisk.Version {
		return nil, fmt.Errorf("decode superblock: on-disk version 0x%08X, want 0x%08X: %w",
			sb.Version, ondisk.Version, dbserrors.ErrVersionMismatch)
	}
	sb.AllocatedDeviceExtents = byteOrder.Uint32(buf[12:16])
	sb.DeviceSize = byteOrder.Uint64(buf[16:24])
	return sb, nil
}

// EncodeVolumeRecord writes v's VolumeRecordSize-byte on-disk form.
func EncodeVolumeRecord(v *ondisk.VolumeRecord) []byte {
	buf := make([]byte, ondisk.VolumeRecordSize)
	byteOrder.PutUint16(buf[0:2], v.SnapshotID)
	byteOrder.PutUint64(buf[2:10], v.VolumeSize)
	copy(buf[10:10+ondisk.VolumeNameFieldSize], v.VolumeName[:])
	return buf
}

// DecodeVolumeRecord parses one VolumeRecordSize-byte slice.
func DecodeVolumeRecord(buf []byte) (*ondisk.VolumeRecord, error) {
	if len(buf) < ondisk.VolumeRecordSize {
		return nil, fmt.Errorf("decode volume record: short buffer (%d bytes)", len(buf))
	}
	v := &ondisk.VolumeRecord{}
	v.SnapshotID = byteOrder.Uint16(buf[0:2])
	v.VolumeSize = byteOrder.Uint64(buf[2:10])
	copy(v.VolumeName[:], buf[10:10+ondisk.VolumeNameFieldSize])
	return v, nil
}

// EncodeSnapshotRecord writes s's SnapshotRecordSize-byte on-disk form.
func EncodeSnapshotRecord(s *ondisk.SnapshotRecord) []byte {
	buf := make([]byte, ondisk.SnapshotRecordSize)
	byteOrder.PutUint16(buf[0:2], s.ParentSnapshotID)
	byteOrder.PutUint64(buf[2:10], uint64(s.CreatedAt))
	return buf
}

// DecodeSnapshotRecord parses one SnapshotRecordSize-byte slice.
func DecodeSnapshotRecord(buf []byte) (*ondisk.SnapshotRecord, error) {
	if len(buf) < ondisk.SnapshotRecordSize {
		return nil, fmt.Errorf("decode snapshot record: short buffer (%d bytes)", len(buf))
	}
	s := &ondisk.SnapshotRecord{}
	s.ParentSnapshotID = byteOrder.Uint16(buf[0:2])
	s.CreatedAt = int64(byteOrder.Uint64(buf[2:10]))
	return s, nil
}

// EncodeExtentRecord writes e's ExtentRecordSize-byte on-disk form.
// volumeRelativeExtent is the value to persist into the on-disk
// ExtentPos field (see ondisk.ExtentRecord's dual-purpose doc comment);
// callers holding an in-memory (device-slot-indexed) record must pass
// the volume-relative index explicitly rather than e.ExtentPos.
func EncodeExtentRecord(e *ondisk.ExtentRecord, volumeRelativeExtent uint32) []byte {
	buf := make([]byte, ondisk.ExtentRecordSize)
	byteOrder.PutUint16(buf[0:2], e.SnapshotID)
	byteOrder.PutUint32(buf[2:6], volumeRelativeExtent)
	copy(buf[6:6+ondisk.ExtentBitmapSize], e.BlockBitmap[:])
	return buf
}

// DecodeExtentRecord parses one ExtentRecordSize-byte slice. The
// returned record's ExtentPos is the raw on-disk (volume-relative)
// value; ExtentMap builders overwrite it with the device-slot index
// once they know it.
func DecodeExtentRecord(buf []byte) (*ondisk.ExtentRecord, error) {
	if len(buf) < ondisk.ExtentRecordSize {
		return nil, fmt.Errorf("decode extent record: short buffer (%d bytes)", len(buf))
	}
	e := &ondisk.ExtentRecord{}
	e.SnapshotID = byteOrder.Uint16(buf[0:2])
	e.ExtentPos = byteOrder.Uint32(buf[2:6])
	copy(e.BlockBitmap[:], buf[6:6+ondisk.ExtentBitmapSize])
	return e, nil
}
