package ioadapter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dbsstore/dbs/internal/ondisk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTempBacking(t *testing.T, size int64) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "backing.img")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(size))
	require.NoError(t, f.Close())
	return path
}

func TestAlignedReadWriteRoundTrip(t *testing.T) {
	path := newTempBacking(t, 4*ondisk.BlockSize)
	a, err := Open(path)
	require.NoError(t, err)
	defer a.Close()

	pattern := make([]byte, ondisk.BlockSize)
	for i := range pattern {
		pattern[i] = 0xA5
	}
	require.NoError(t, a.WriteAt(pattern, ondisk.BlockSize))

	out := make([]byte, ondisk.BlockSize)
	require.NoError(t, a.ReadAt(out, ondisk.BlockSize))
	assert.Equal(t, pattern, out)
}

func TestUnalignedReadWriteGoesThroughBounceBuffer(t *testing.T) {
	path := newTempBacking(t, 4*ondisk.BlockSize)
	a, err := Open(path)
	require.NoError(t, err)
	defer a.Close()

	// First fill block 1 with a known byte so the read-modify-write can
	// be checked for leaving neighboring bytes untouched.
	block := make([]byte, ondisk.BlockSize)
	for i := range block {
		block[i] = 0xFF
	}
	require.NoError(t, a.WriteAt(block, ondisk.BlockSize))

	unaligned := []byte{1, 2, 3, 4}
	offset := int64(ondisk.BlockSize + 10)
	require.NoError(t, a.WriteAt(unaligned, offset))

	got := make([]byte, 4)
	require.NoError(t, a.ReadAt(got, offset))
	assert.Equal(t, unaligned, got)

	// Bytes immediately before/after the unaligned write must be
	// unchanged by the read-modify-write.
	before := make([]byte, 1)
	require.NoError(t, a.ReadAt(before, offset-1))
	assert.Equal(t, byte(0xFF), before[0])

	after := make([]byte, 1)
	require.NoError(t, a.ReadAt(after, offset+4))
	assert.Equal(t, byte(0xFF), after[0])
}

func TestSizeReportsBackingObjectLength(t *testing.T) {
	path := newTempBacking(t, 10*ondisk.BlockSize)
	a, err := Open(path)
	require.NoError(t, err)
	defer a.Close()

	sz, err := a.Size()
	require.NoError(t, err)
	assert.EqualValues(t, 10*ondisk.BlockSize, sz)
}

func TestOpenMissingFileFails(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "does-not-exist.img"))
	assert.Error(t, err)
}
