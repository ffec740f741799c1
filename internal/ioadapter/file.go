// Package ioadapter wraps a backing file with aligned positional
// read/write, the way the teacher's internal/device.DMGDevice wraps an
// *os.File behind ReadAt/Size, generalized from "APFS container inside a
// DMG at a byte offset" to "raw DBS pool spanning the whole backing
// object" and widened from read-only to read/write.
//
// ReadAt and WriteAt accept unaligned offsets and lengths (the device
// context's table reads/writes and 38-byte extent-record writes are
// unaligned); callers that already align to BlockSize pay no copy,
// everyone else is served through a bounce buffer sized to the aligned
// span that covers their request.
package ioadapter

import (
	"fmt"
	"os"

	"github.com/dbsstore/dbs/internal/dbserrors"
	"github.com/dbsstore/dbs/internal/ondisk"
)

// File is a BackingStore implementation over an *os.File.
type File struct {
	f *os.File
}

// Open opens path for reading and writing. The file must already exist;
// init_device is responsible for creating/sizing new backing objects
// before DBS ever calls Open on them (spec.md §4.5's "acquisition of the
// underlying file handle" is an external collaborator's job, but once a
// path is handed to init_device or open it must already exist).
func Open(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open backing object %q: %w", path, err)
	}
	return &File{f: f}, nil
}

// Size returns the current size of the backing object.
func (a *File) Size() (int64, error) {
	st, err := a.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat backing object: %w", err)
	}
	return st.Size(), nil
}

// ReadAt reads len(buf) bytes starting at offset. If offset or len(buf)
// is not a multiple of ondisk.BlockSize, the read is served through an
// aligned bounce buffer and copied down into buf.
func (a *File) ReadAt(buf []byte, offset int64) error {
	if aligned(offset, len(buf)) {
		if _, err := a.f.ReadAt(buf, offset); err != nil {
			return dbserrors.IO("ReadAt", offset, len(buf), false, err)
		}
		return nil
	}

	start, length := alignSpan(offset, len(buf))
	bounce := make([]byte, length)
	if _, err := a.f.ReadAt(bounce, start); err != nil {
		return dbserrors.IO("ReadAt", offset, len(buf), false, err)
	}
	copy(buf, bounce[offset-start:])
	return nil
}

// WriteAt writes buf starting at offset. Unaligned writes are served
// through a bounce buffer: the covering aligned span is first read back
// (read-modify-write), buf is copied into place, and the whole span is
// written.
func (a *File) WriteAt(buf []byte, offset int64) error {
	if aligned(offset, len(buf)) {
		if _, err := a.f.WriteAt(buf, offset); err != nil {
			return dbserrors.IO("WriteAt", offset, len(buf), true, err)
		}
		return nil
	}

	start, length := alignSpan(offset, len(buf))
	bounce := make([]byte, length)
	if _, err := a.f.ReadAt(bounce, start); err != nil {
		return dbserrors.IO("WriteAt", offset, len(buf), true, err)
	}
	copy(bounce[offset-start:], buf)
	if _, err := a.f.WriteAt(bounce, start); err != nil {
		return dbserrors.IO("WriteAt", offset, len(buf), true, err)
	}
	return nil
}

// Sync flushes buffered writes to the backing object.
func (a *File) Sync() error {
	if err := a.f.Sync(); err != nil {
		return fmt.Errorf("sync backing object: %w", err)
	}
	return nil
}

// Close syncs and releases the backing object.
func (a *File) Close() error {
	if err := a.Sync(); err != nil {
		return err
	}
	if err := a.f.Close(); err != nil {
		return fmt.Errorf("close backing object: %w", err)
	}
	return nil
}

func aligned(offset int64, length int) bool {
	return offset%ondisk.BlockSize == 0 && length%ondisk.BlockSize == 0
}

// alignSpan returns the smallest BlockSize-aligned [start, start+length)
// span that fully covers [offset, offset+length).
func alignSpan(offset int64, length int) (start int64, span int) {
	end := offset + int64(length)
	start = (offset / ondisk.BlockSize) * ondisk.BlockSize
	alignedEnd := ((end + ondisk.BlockSize - 1) / ondisk.BlockSize) * ondisk.BlockSize
	return start, int(alignedEnd - start)
}
