package codec

import "github.com/dbsstore/dbs/internal/ondisk"

// MetadataRegionSize is the byte size of the volume table followed by
// the snapshot table, before block-alignment padding (spec.md §3 layout
// item 2).
const MetadataRegionSize = ondisk.MaxVolumes*ondisk.VolumeRecordSize + ondisk.MaxSnapshots*ondisk.SnapshotRecordSize

// EncodeTables serializes the full volume and snapshot tables back to
// back, in slot order, with no padding between them (padding to a block
// boundary is the caller's concern, since it depends on where the
// region starts on disk).
func EncodeTables(volumes *[ondisk.MaxVolumes]ondisk.VolumeRecord, snapshots *[ondisk.MaxSnapshots]ondisk.SnapshotRecord) []byte {
	buf := make([]byte, MetadataRegionSize)
	off := 0
	for i := range volumes {
		copy(buf[off:off+ondisk.VolumeRecordSize], EncodeVolumeRecord(&volumes[i]))
		off += ondisk.VolumeRecordSize
	}
	for i := range snapshots {
		copy(buf[off:off+ondisk.SnapshotRecordSize], EncodeSnapshotRecord(&snapshots[i]))
		off += ondisk.SnapshotRecordSize
	}
	return buf
}

// DecodeTables parses a MetadataRegionSize-byte buffer into the volume
// and snapshot tables.
func DecodeTables(buf []byte) (volumes [ondisk.MaxVolumes]ondisk.VolumeRecord, snapshots [ondisk.MaxSnapshots]ondisk.SnapshotRecord, err error) {
	off := 0
	for i := 0; i < ondisk.MaxVolumes; i++ {
		v, derr := DecodeVolumeRecord(buf[off : off+ondisk.VolumeRecordSize])
		if derr != nil {
			return volumes, snapshots, derr
		}
		volumes[i] = *v
		off += ondisk.VolumeRecordSize
	}
	for i := 0; i < ondisk.MaxSnapshots; i++ {
		s, derr := DecodeSnapshotRecord(buf[off : off+ondisk.SnapshotRecordSize])
		if derr != nil {
			return volumes, snapshots, derr
		}
		snapshots[i] = *s
		off += ondisk.SnapshotRecordSize
	}
	return volumes, snapshots, nil
}

// VolumeSlotOffset returns the byte offset of volume slot i within the
// encoded metadata region. WriteMetadata always persists the whole
// region; this helper and SnapshotSlotOffset only expose the table
// layout math for code that addresses a single record.
func VolumeSlotOffset(i int) int { return i * ondisk.VolumeRecordSize }

// SnapshotSlotOffset returns the byte offset of snapshot slot i relative
// to the start of the snapshot table (i.e. after all volume records).
func SnapshotSlotOffset(i int) int {
	return ondisk.MaxVolumes*ondisk.VolumeRecordSize + i*ondisk.SnapshotRecordSize
}

// EncodeExtentBatch serializes a batch of extent records, with
// volumeRelativeExtents[i] giving the on-disk ExtentPos to write for
// records[i]. Batches are bounded by ondisk.ExtentBatch by the caller
// (internal/devicectx), mirroring the teacher's batched-array parsing
// loops (e.g. the NxFsOid array loop in parseContainerSuperblock)
// generalized to a caller-supplied batch size instead of a fixed array.
func EncodeExtentBatch(records []ondisk.ExtentRecord, volumeRelativeExtents []uint32) []byte {
	buf := make([]byte, len(records)*ondisk.ExtentRecordSize)
	off := 0
	for i := range records {
		copy(buf[off:off+ondisk.ExtentRecordSize], EncodeExtentRecord(&records[i], volumeRelativeExtents[i]))
		off += ondisk.ExtentRecordSize
	}
	return buf
}

// DecodeExtentBatch parses count consecutive extent records out of buf.
func DecodeExtentBatch(buf []byte, count int) ([]ondisk.ExtentRecord, error) {
	records := make([]ondisk.ExtentRecord, count)
	off := 0
	for i := 0; i < count; i++ {
		r, err := DecodeExtentRecord(buf[off : off+ondisk.ExtentRecordSize])
		if err != nil {
			return nil, err
		}
		records[i] = *r
		off += ondisk.ExtentRecordSize
	}
	return records, nil
}
