package devicectx

import (
	"github.com/dbsstore/dbs/internal/ondisk"
	"github.com/dbsstore/dbs/internal/ondisk/codec"
)

func ceilDiv(a, b int64) int64 { return (a + b - 1) / b }

// computeOffsets derives extentOffset, dataOffset, and
// totalDeviceExtents from a device size, following spec.md §3's layout
// formulas exactly:
//
//	extent_offset = (1 + ceil(sizeof(tables), BLOCK_SIZE)) * BLOCK_SIZE
//	data_offset   = ceil(extent_offset + total_device_extents*38, EXTENT_SIZE) * EXTENT_SIZE
//
// total_device_extents is the largest N for which the extent-metadata
// table plus the data area still fit in [extent_offset, device_size).
// Because data_offset's rounding depends on N, the maximal N is found
// by estimating from the unrounded budget and then nudging by at most a
// couple of extents in either direction.
func computeOffsets(deviceSize uint64) (extentOffset, dataOffset int64, totalDeviceExtents uint32) {
	extentOffset = (1 + ceilDiv(int64(codec.MetadataRegionSize), ondisk.BlockSize)) * ondisk.BlockSize

	fits := func(n int64) (int64, bool) {
		if n < 0 {
			return 0, false
		}
		do := ceilDiv(extentOffset+n*ondisk.ExtentRecordSize, ondisk.ExtentSize) * ondisk.ExtentSize
		return do, do+n*ondisk.ExtentSize <= int64(deviceSize)
	}

	remaining := int64(deviceSize) - extentOffset
	n := remaining / (ondisk.ExtentRecordSize + ondisk.ExtentSize)
	if n < 0 {
		n = 0
	}

	do, ok := fits(n)
	for !ok && n > 0 {
		n--
		do, ok = fits(n)
	}
	for {
		ndo, nok := fits(n + 1)
		if !nok {
			break
		}
		n++
		do = ndo
	}

	totalDeviceExtents = uint32(n)
	dataOffset = do
	return
}
