package codec

import (
	"testing"

	"github.com/dbsstore/dbs/internal/dbserrors"
	"github.com/dbsstore/dbs/internal/ondisk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeSuperblockRoundTrip(t *testing.T) {
	sb := &ondisk.Superblock{
		Magic:                  ondisk.Magic,
		Version:                ondisk.Version,
		AllocatedDeviceExtents: 42,
		DeviceSize:             200 * 1024 * 1024,
	}

	buf := EncodeSuperblock(sb)
	require.Len(t, buf, ondisk.BlockSize)

	got, err := DecodeSuperblock(buf)
	require.NoError(t, err)
	assert.Equal(t, sb.Magic, got.Magic)
	assert.Equal(t, sb.Version, got.Version)
	assert.Equal(t, sb.AllocatedDeviceExtents, got.AllocatedDeviceExtents)
	assert.Equal(t, sb.DeviceSize, got.DeviceSize)

	// Padding past the meaningful 24 bytes must be zero.
	for i := ondisk.SuperblockRecordSize; i < ondisk.BlockSize; i++ {
		if buf[i] != 0 {
			t.Fatalf("superblock padding byte %d not zero", i)
		}
	}
}

func TestDecodeSuperblockBadMagic(t *testing.T) {
	buf := make([]byte, ondisk.BlockSize)
	copy(buf, []byte{0, 1, 2, 3, 4, 5, 6, 7})
	_, err := DecodeSuperblock(buf)
	require.Error(t, err)
	assert.ErrorIs(t, err, dbserrors.ErrNotInitialized)
}

func TestDecodeSuperblockVersionMismatch(t *testing.T) {
	sb := &ondisk.Superblock{Magic: ondisk.Magic, Version: 0x00020000}
	buf := EncodeSuperblock(sb)
	_, err := DecodeSuperblock(buf)
	require.Error(t, err)
	assert.ErrorIs(t, err, dbserrors.ErrVersionMismatch)
}

func TestEncodeDecodeVolumeRecordRoundTrip(t *testing.T) {
	v := &ondisk.VolumeRecord{SnapshotID: 7, VolumeSize: 3 * ondisk.ExtentSize}
	v.SetName("vol1")

	buf := EncodeVolumeRecord(v)
	require.Len(t, buf, ondisk.VolumeRecordSize)

	got, err := DecodeVolumeRecord(buf)
	require.NoError(t, err)
	assert.Equal(t, v.SnapshotID, got.SnapshotID)
	assert.Equal(t, v.VolumeSize, got.VolumeSize)
	assert.Equal(t, "vol1", got.Name())
}

func TestSetNameTruncatesAtMax(t *testing.T) {
	long := make([]byte, 400)
	for i := range long {
		long[i] = 'a'
	}
	v := &ondisk.VolumeRecord{}
	v.SetName(string(long))
	assert.Len(t, v.Name(), ondisk.MaxVolumeNameSize)
}

func TestEncodeDecodeSnapshotRecordRoundTrip(t *testing.T) {
	s := &ondisk.SnapshotRecord{ParentSnapshotID: 3, CreatedAt: 1_700_000_000}
	buf := EncodeSnapshotRecord(s)
	require.Len(t, buf, ondisk.SnapshotRecordSize)

	got, err := DecodeSnapshotRecord(buf)
	require.NoError(t, err)
	assert.Equal(t, *s, *got)
}

func TestEncodeDecodeExtentRecordSwapsExtentPos(t *testing.T) {
	e := &ondisk.ExtentRecord{SnapshotID: 5}
	e.SetBit(0)
	e.SetBit(200)

	// On disk, ExtentPos holds the volume-relative index (17), not
	// whatever e.ExtentPos happens to hold in memory.
	buf := EncodeExtentRecord(e, 17)
	require.Len(t, buf, ondisk.ExtentRecordSize)

	got, err := DecodeExtentRecord(buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(17), got.ExtentPos)
	assert.True(t, got.BitSet(0))
	assert.True(t, got.BitSet(200))
	assert.False(t, got.BitSet(1))
}

func TestTablesRoundTrip(t *testing.T) {
	var volumes [ondisk.MaxVolumes]ondisk.VolumeRecord
	var snapshots [ondisk.MaxSnapshots]ondisk.SnapshotRecord

	volumes[0].SnapshotID = 1
	volumes[0].SetName("vol1")
	volumes[0].VolumeSize = ondisk.ExtentSize
	snapshots[0].CreatedAt = 123

	buf := EncodeTables(&volumes, &snapshots)
	require.Len(t, buf, MetadataRegionSize)

	gotVolumes, gotSnapshots, err := DecodeTables(buf)
	require.NoError(t, err)
	assert.Equal(t, "vol1", gotVolumes[0].Name())
	assert.EqualValues(t, 1, gotVolumes[0].SnapshotID)
	assert.EqualValues(t, 123, gotSnapshots[0].CreatedAt)
}

func TestExtentBatchRoundTrip(t *testing.T) {
	records := make([]ondisk.ExtentRecord, 3)
	rel := make([]uint32, 3)
	for i := range records {
		records[i].SnapshotID = uint16(i + 1)
		records[i].SetBit(i)
		rel[i] = uint32(i * 10)
	}

	buf := EncodeExtentBatch(records, rel)
	got, err := DecodeExtentBatch(buf, len(records))
	require.NoError(t, err)
	for i := range records {
		assert.Equal(t, records[i].SnapshotID, got[i].SnapshotID)
		assert.Equal(t, rel[i], got[i].ExtentPos)
		assert.True(t, got[i].BitSet(i))
	}
}
