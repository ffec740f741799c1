package extentmap

import (
	"testing"

	"github.com/dbsstore/dbs/internal/ondisk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDevice is a minimal in-memory DeviceAccessor for exercising the
// extent map builders and bulk operations without a real backing file.
type fakeDevice struct {
	records   []ondisk.ExtentRecord // device-slot indexed
	data      [][]byte              // device-slot indexed, ExtentSize each
	allocated uint32
	parents   map[uint16]uint16
}

func newFakeDevice(totalSlots int) *fakeDevice {
	return &fakeDevice{
		records: make([]ondisk.ExtentRecord, totalSlots),
		data:    make([][]byte, totalSlots),
		parents: map[uint16]uint16{},
	}
}

func (d *fakeDevice) TotalDeviceExtents() uint32     { return uint32(len(d.records)) }
func (d *fakeDevice) AllocatedDeviceExtents() uint32 { return d.allocated }

func (d *fakeDevice) AllocateDeviceSlot() (uint32, error) {
	slot := d.allocated
	d.allocated++
	return slot, nil
}

func (d *fakeDevice) ReadExtentRecordsBatch(start, count uint32) ([]ondisk.ExtentRecord, error) {
	out := make([]ondisk.ExtentRecord, count)
	copy(out, d.records[start:start+count])
	return out, nil
}

func (d *fakeDevice) WriteExtentRecord(slot uint32, rec *ondisk.ExtentRecord, volumeRelative uint32) error {
	r := *rec
	r.ExtentPos = volumeRelative
	d.records[slot] = r
	return nil
}

func (d *fakeDevice) CopyExtentData(src, dst uint32) error {
	buf := make([]byte, ondisk.ExtentSize)
	copy(buf, d.data[src])
	d.data[dst] = buf
	return nil
}

func (d *fakeDevice) ParentSnapshot(sid uint16) (uint16, error) {
	return d.parents[sid], nil
}

func TestSnapshotMapFindsOwnedExtents(t *testing.T) {
	dev := newFakeDevice(4)
	dev.allocated = 4
	dev.records[0] = ondisk.ExtentRecord{SnapshotID: 1, ExtentPos: 0}
	dev.records[1] = ondisk.ExtentRecord{SnapshotID: 1, ExtentPos: 2}
	dev.records[2] = ondisk.ExtentRecord{SnapshotID: 2, ExtentPos: 1}

	m, err := SnapshotMap(dev, 3*ondisk.ExtentSize, 1)
	require.NoError(t, err)

	assert.True(t, m.Present(0))
	assert.True(t, m.Present(2))
	assert.False(t, m.Present(1))
	assert.EqualValues(t, 2, m.AllocatedVolumeExtents)
	assert.EqualValues(t, 2, m.MaxExtentIdx)
	assert.EqualValues(t, 0, m.Extents[0].ExtentPos) // device slot 0
	assert.EqualValues(t, 1, m.Extents[2].ExtentPos)  // device slot 1
}

func TestVolumeMapNearestAncestorWins(t *testing.T) {
	dev := newFakeDevice(4)
	dev.allocated = 3
	// Root snapshot 1 owns v=0 and v=1.
	dev.records[0] = ondisk.ExtentRecord{SnapshotID: 1, ExtentPos: 0}
	dev.records[1] = ondisk.ExtentRecord{SnapshotID: 1, ExtentPos: 1}
	// Snapshot 2 (child of 1) overwrites v=0.
	dev.records[2] = ondisk.ExtentRecord{SnapshotID: 2, ExtentPos: 0}
	dev.parents[2] = 1

	m, err := VolumeMap(dev, 2*ondisk.ExtentSize, 2)
	require.NoError(t, err)

	assert.True(t, m.Present(0))
	assert.True(t, m.Present(1))
	// v=0 must come from snapshot 2 (device slot 2), not the root.
	assert.EqualValues(t, 2, m.Extents[0].ExtentPos)
	assert.EqualValues(t, 2, m.Extents[0].SnapshotID)
	// v=1 falls through to the root ancestor.
	assert.EqualValues(t, 1, m.Extents[1].ExtentPos)
	assert.EqualValues(t, 1, m.Extents[1].SnapshotID)
}

func TestNewExtentAllocatesAndPersists(t *testing.T) {
	dev := newFakeDevice(4)
	m := newExtentMap(4)

	require.NoError(t, m.NewExtent(dev, 3, 5))

	assert.True(t, m.Present(3))
	assert.EqualValues(t, 0, m.Extents[3].ExtentPos)
	assert.EqualValues(t, 1, dev.AllocatedDeviceExtents())
	assert.EqualValues(t, 5, dev.records[0].SnapshotID)
	assert.EqualValues(t, 3, dev.records[0].ExtentPos) // on-disk: volume-relative
}

func TestCopyExtentAllocatesNewSlotAndCopiesData(t *testing.T) {
	dev := newFakeDevice(4)
	dev.allocated = 1
	dev.records[0] = ondisk.ExtentRecord{SnapshotID: 1, ExtentPos: 0}
	dev.data[0] = []byte{0xA5, 0xA5}

	m := newExtentMap(4)
	m.setEntry(0, ondisk.ExtentRecord{SnapshotID: 1, ExtentPos: 0})

	require.NoError(t, m.CopyExtent(dev, 0, 2))

	assert.EqualValues(t, 2, dev.AllocatedDeviceExtents())
	assert.EqualValues(t, 2, m.Extents[0].SnapshotID)
	assert.EqualValues(t, 1, m.Extents[0].ExtentPos) // new device slot
	assert.Equal(t, []byte{0xA5, 0xA5}, dev.data[1][:2])
}

func TestCopyAllToClonesEveryPopulatedExtent(t *testing.T) {
	dev := newFakeDevice(8)
	dev.allocated = 2
	dev.records[0] = ondisk.ExtentRecord{SnapshotID: 1, ExtentPos: 0}
	dev.records[1] = ondisk.ExtentRecord{SnapshotID: 1, ExtentPos: 5}
	dev.data[0] = []byte{1}
	dev.data[1] = []byte{2}

	m, err := SnapshotMap(dev, 8*ondisk.ExtentSize, 1)
	require.NoError(t, err)
	require.EqualValues(t, 2, m.AllocatedVolumeExtents)

	require.NoError(t, m.CopyAllTo(dev, 9))

	assert.EqualValues(t, 4, dev.AllocatedDeviceExtents())
	assert.True(t, m.Present(0))
	assert.True(t, m.Present(5))
	assert.EqualValues(t, 9, m.Extents[0].SnapshotID)
	assert.EqualValues(t, 9, m.Extents[5].SnapshotID)
}

func TestMergeIntoRespectsShadowingAndClearAllFreesRest(t *testing.T) {
	dev := newFakeDevice(8)
	dev.allocated = 3
	// Victim (snapshot 2) owns v=0 and v=1.
	dev.records[0] = ondisk.ExtentRecord{SnapshotID: 2, ExtentPos: 0}
	dev.records[1] = ondisk.ExtentRecord{SnapshotID: 2, ExtentPos: 1}
	// Child (snapshot 3) shadows v=0 only.
	dev.records[2] = ondisk.ExtentRecord{SnapshotID: 3, ExtentPos: 0}

	victim, err := SnapshotMap(dev, 8*ondisk.ExtentSize, 2)
	require.NoError(t, err)
	child, err := SnapshotMap(dev, 8*ondisk.ExtentSize, 3)
	require.NoError(t, err)

	require.NoError(t, victim.MergeInto(child, dev, 3))

	// v=1 moved into child, retagged.
	assert.True(t, child.Present(1))
	assert.EqualValues(t, 3, child.Extents[1].SnapshotID)
	assert.EqualValues(t, 3, dev.records[child.Extents[1].ExtentPos].SnapshotID)

	// v=0 was shadowed, so it stays in victim for ClearAll to reclaim.
	assert.True(t, victim.Present(0))
	assert.False(t, victim.Present(1))

	require.NoError(t, victim.ClearAll(dev))
	assert.False(t, victim.Present(0))
	assert.EqualValues(t, 0, dev.records[0].SnapshotID)
}

func TestFreeDropsEntryWithoutDeviceIO(t *testing.T) {
	m := newExtentMap(4)
	m.setEntry(1, ondisk.ExtentRecord{SnapshotID: 1, ExtentPos: 0})
	m.Free(1)
	assert.False(t, m.Present(1))
	assert.EqualValues(t, 0, m.AllocatedVolumeExtents)
}
