package dbs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dbsstore/dbs/internal/dbserrors"
	"github.com/dbsstore/dbs/internal/ondisk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenarioDeviceSize = 100 * 1024 * 1024

func newDevice(t *testing.T, size int64) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "device.img")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(size))
	require.NoError(t, f.Close())
	require.NoError(t, InitDevice(path))
	return path
}

func pattern(b byte) []byte {
	buf := make([]byte, ondisk.BlockSize)
	for i := range buf {
		buf[i] = b
	}
	return buf
}

// Scenario 1: round-trip write/read/unmap.
func TestRoundTripWriteReadUnmap(t *testing.T) {
	path := newDevice(t, scenarioDeviceSize)
	require.NoError(t, CreateVolume(path, "vol1", 1<<30))

	vc, err := OpenVolume(path, "vol1")
	require.NoError(t, err)

	p := pattern(0xA5)
	require.NoError(t, vc.WriteBlock(0, p, true))

	out := make([]byte, ondisk.BlockSize)
	require.NoError(t, vc.ReadBlock(0, out))
	assert.Equal(t, p, out)

	require.NoError(t, vc.UnmapBlock(0))
	require.NoError(t, vc.ReadBlock(0, out))
	assert.Equal(t, make([]byte, ondisk.BlockSize), out)

	require.NoError(t, vc.CloseVolume())
}

// Scenario 2: snapshot isolation — a clone of the pre-snapshot state
// still reads the original data after the live volume is overwritten.
func TestSnapshotIsolationCloneReadsPreSnapshotData(t *testing.T) {
	path := newDevice(t, scenarioDeviceSize)
	require.NoError(t, CreateVolume(path, "vol1", 1<<30))

	vc, err := OpenVolume(path, "vol1")
	require.NoError(t, err)
	require.NoError(t, vc.WriteBlock(0, pattern(0xA5), true))
	initialSnapshotID := vc.Stat().TipSnapshotID
	require.NoError(t, vc.CloseVolume())

	require.NoError(t, CreateSnapshot(path, "vol1"))

	vc2, err := OpenVolume(path, "vol1")
	require.NoError(t, err)
	require.NoError(t, vc2.WriteBlock(0, pattern(0x5A), true))
	require.NoError(t, vc2.CloseVolume())

	require.NoError(t, CloneSnapshot(path, "clone_of_initial", initialSnapshotID))

	clone, err := OpenVolume(path, "clone_of_initial")
	require.NoError(t, err)
	out := make([]byte, ondisk.BlockSize)
	require.NoError(t, clone.ReadBlock(0, out))
	assert.Equal(t, pattern(0xA5), out)
	require.NoError(t, clone.CloseVolume())
}

// Scenario 3: deleting the middle snapshot of a three-generation chain
// merges data forward without disturbing the tip or a clone of the
// initial snapshot.
//
// Block 0 and block 100 fall in the same 1 MiB extent (BlocksPerExtent
// = 256), so the ordering below matters: block 0 is written against the
// volume's root snapshot, which is then frozen by the first
// create_snapshot and becomes the "initial" snapshot cloned at the end;
// block 100 is only written afterward, under the new tip, triggering
// copy-on-write against that frozen root.
func TestSnapshotMergePreservesVisibleData(t *testing.T) {
	path := newDevice(t, scenarioDeviceSize)
	require.NoError(t, CreateVolume(path, "vol1", 1<<30))

	vc, err := OpenVolume(path, "vol1")
	require.NoError(t, err)
	require.NoError(t, vc.WriteBlock(0, pattern(0x11), true))
	initialSID := vc.Stat().TipSnapshotID
	require.NoError(t, vc.CloseVolume())

	require.NoError(t, CreateSnapshot(path, "vol1"))
	vc2, err := OpenVolume(path, "vol1")
	require.NoError(t, err)
	middleSID := vc2.Stat().TipSnapshotID
	require.NoError(t, vc2.WriteBlock(100, pattern(0x33), true))
	require.NoError(t, vc2.CloseVolume())

	require.NoError(t, CreateSnapshot(path, "vol1"))

	require.NoError(t, DeleteSnapshot(path, middleSID))

	tip, err := OpenVolume(path, "vol1")
	require.NoError(t, err)
	out := make([]byte, ondisk.BlockSize)
	require.NoError(t, tip.ReadBlock(0, out))
	assert.Equal(t, pattern(0x11), out)
	require.NoError(t, tip.ReadBlock(100, out))
	assert.Equal(t, pattern(0x33), out)
	require.NoError(t, tip.CloseVolume())

	require.NoError(t, CloneSnapshot(path, "clone_of_initial", initialSID))
	clone, err := OpenVolume(path, "clone_of_initial")
	require.NoError(t, err)
	require.NoError(t, clone.ReadBlock(0, out))
	assert.Equal(t, pattern(0x11), out)
	require.NoError(t, clone.ReadBlock(100, out))
	assert.Equal(t, make([]byte, ondisk.BlockSize), out, "block 100 was never written under the initial snapshot")
	require.NoError(t, clone.CloseVolume())
}

// Scenario 4: sparse writes only materialize the written extents; the
// unwritten block right after each written index reads as zero.
func TestSparseWriteReadsPattern(t *testing.T) {
	path := newDevice(t, scenarioDeviceSize)
	require.NoError(t, CreateVolume(path, "sparse", 3<<30))

	vc, err := OpenVolume(path, "sparse")
	require.NoError(t, err)

	indices := []uint64{0, 3, 43, 53, 92, 100, 103, 992}
	p := pattern(0x7E)
	for _, idx := range indices {
		require.NoError(t, vc.WriteBlock(idx, p, true))
	}

	out := make([]byte, ondisk.BlockSize)
	for _, idx := range indices {
		require.NoError(t, vc.ReadBlock(idx, out))
		assert.Equal(t, p, out, "block %d", idx)
		require.NoError(t, vc.ReadBlock(idx+1, out))
		assert.Equal(t, make([]byte, ondisk.BlockSize), out, "block %d+1", idx)
	}
	require.NoError(t, vc.CloseVolume())
}

// Scenario 5: rename persists across a device close/reopen.
func TestRenamePersistsAcrossReopen(t *testing.T) {
	path := newDevice(t, scenarioDeviceSize)
	require.NoError(t, CreateVolume(path, "a", 1<<30))
	require.NoError(t, RenameVolume(path, "a", "b"))

	infos, err := GetVolumeInfo(path)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "b", infos[0].Name)
}

// Scenario 6: deleting a volume frees its slot for reuse, preserving
// slot order for the survivors.
func TestDeleteVolumeFreesSlotForReuse(t *testing.T) {
	path := newDevice(t, scenarioDeviceSize)
	require.NoError(t, CreateVolume(path, "vol1", 1<<30))
	require.NoError(t, CreateVolume(path, "vol2", 1<<30))
	require.NoError(t, CreateVolume(path, "vol3", 1<<30))

	require.NoError(t, DeleteVolume(path, "vol2"))
	require.NoError(t, CreateVolume(path, "vol2new", 1<<30))

	infos, err := GetVolumeInfo(path)
	require.NoError(t, err)
	names := make([]string, len(infos))
	for i, v := range infos {
		names[i] = v.Name
	}
	assert.Equal(t, []string{"vol1", "vol2new", "vol3"}, names)
}

func TestCreateVolume257thFailsOutOfVolumeSlots(t *testing.T) {
	path := newDevice(t, scenarioDeviceSize)
	for i := 0; i < ondisk.MaxVolumes; i++ {
		require.NoError(t, CreateVolume(path, nameFor(i), ondisk.ExtentSize))
	}
	err := CreateVolume(path, "one-too-many", ondisk.ExtentSize)
	assert.ErrorIs(t, err, dbserrors.ErrOutOfVolumeSlots)
}

func nameFor(i int) string {
	return "v" + string(rune('A'+i%26)) + string(rune('0'+i/26))
}

func TestWriteAtBlockOutOfRangeFails(t *testing.T) {
	path := newDevice(t, scenarioDeviceSize)
	require.NoError(t, CreateVolume(path, "vol1", ondisk.ExtentSize))

	vc, err := OpenVolume(path, "vol1")
	require.NoError(t, err)
	defer vc.CloseVolume()

	totalBlocks := uint64(vc.Stat().TotalVolumeExtents) * ondisk.BlocksPerExtent
	err = vc.WriteBlock(totalBlocks, pattern(1), true)
	assert.ErrorIs(t, err, dbserrors.ErrOutOfRange)
}

func TestCloneUnknownSnapshotFails(t *testing.T) {
	path := newDevice(t, scenarioDeviceSize)
	err := CloneSnapshot(path, "clone", 9999)
	assert.ErrorIs(t, err, dbserrors.ErrSnapshotNotFound)
}

func TestOpenUninitializedDeviceFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "raw.img")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(scenarioDeviceSize))
	require.NoError(t, f.Close())

	_, err = GetDeviceInfo(path)
	assert.ErrorIs(t, err, dbserrors.ErrNotInitialized)
}

func TestWriteBlockFastPathReturnsMetadataNeedsUpdate(t *testing.T) {
	path := newDevice(t, scenarioDeviceSize)
	require.NoError(t, CreateVolume(path, "vol1", 1<<30))

	vc, err := OpenVolume(path, "vol1")
	require.NoError(t, err)
	defer vc.CloseVolume()

	err = vc.WriteBlock(0, pattern(1), false)
	assert.ErrorIs(t, err, dbserrors.ErrMetadataNeedsUpdate)
}

func TestValidateIntegrityCleanDeviceHasNoViolations(t *testing.T) {
	path := newDevice(t, scenarioDeviceSize)
	require.NoError(t, CreateVolume(path, "vol1", 1<<30))
	require.NoError(t, CreateSnapshot(path, "vol1"))

	assert.NoError(t, ValidateIntegrity(path))
}

func TestVacuumDeviceNotImplemented(t *testing.T) {
	path := newDevice(t, scenarioDeviceSize)
	assert.ErrorIs(t, VacuumDevice(path), dbserrors.ErrNotImplemented)
}

func TestByteOffsetWrappersHandlePartialBlocks(t *testing.T) {
	path := newDevice(t, scenarioDeviceSize)
	require.NoError(t, CreateVolume(path, "vol1", 1<<30))

	vc, err := OpenVolume(path, "vol1")
	require.NoError(t, err)
	defer vc.CloseVolume()

	payload := make([]byte, 10)
	for i := range payload {
		payload[i] = byte(i + 1)
	}
	offset := uint64(ondisk.BlockSize) + 20
	require.NoError(t, vc.WriteAt(payload, offset, true))

	out := make([]byte, 10)
	require.NoError(t, vc.ReadAt(out, offset))
	assert.Equal(t, payload, out)

	require.NoError(t, vc.UnmapAt(ondisk.BlockSize, ondisk.BlockSize))
	zero := make([]byte, ondisk.BlockSize)
	full := make([]byte, ondisk.BlockSize)
	require.NoError(t, vc.ReadBlock(1, full))
	assert.Equal(t, zero, full)
}
