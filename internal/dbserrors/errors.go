// Package dbserrors defines the closed error-kind taxonomy that every
// management, block, and query operation in the device store reports
// through. Callers match kinds with errors.Is against the sentinel
// values below; operation context is attached with fmt.Errorf's %w, the
// same wrap-with-context idiom the teacher codebase uses throughout its
// parsers (see internal/parsers/container/container_superblock_reader.go
// in the reference tree this module was built from).
package dbserrors

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. See spec.md §7 for the authoritative list.
var (
	// ErrIO wraps any failure of the backing-object I/O.
	ErrIO = errors.New("dbs: i/o error")

	// ErrNotInitialized is returned when the backing object's magic does
	// not match, i.e. it has never been through init_device.
	ErrNotInitialized = errors.New("dbs: backing object not initialized")

	// ErrVersionMismatch is returned when the magic matches but the
	// on-disk version differs from the version this build understands.
	ErrVersionMismatch = errors.New("dbs: version mismatch")

	// ErrZeroSize is returned when the backing object reports zero bytes.
	ErrZeroSize = errors.New("dbs: backing object has zero size")

	// ErrTooSmall is returned when the backing object is below the
	// minimum device size floor.
	ErrTooSmall = errors.New("dbs: backing object smaller than minimum device size")

	// ErrVolumeNotFound is returned when a named volume lookup fails.
	ErrVolumeNotFound = errors.New("dbs: volume not found")

	// ErrSnapshotNotFound is returned when a snapshot id lookup fails.
	ErrSnapshotNotFound = errors.New("dbs: snapshot not found")

	// ErrVolumeExists is returned by create_volume on a name collision.
	ErrVolumeExists = errors.New("dbs: volume name already exists")

	// ErrOutOfVolumeSlots is returned when the volume table is full.
	ErrOutOfVolumeSlots = errors.New("dbs: no free volume slots")

	// ErrOutOfSnapshotSlots is returned when the snapshot table is full.
	ErrOutOfSnapshotSlots = errors.New("dbs: no free snapshot slots")

	// ErrNoSpace is returned when an operation would allocate more
	// device extents than total_device_extents.
	ErrNoSpace = errors.New("dbs: insufficient free device extents")

	// ErrOutOfRange is returned when a block index is past the volume's
	// logical size.
	ErrOutOfRange = errors.New("dbs: block index out of range")

	// ErrCannotDeleteCurrent is returned by delete_snapshot when the
	// target is a volume's current tip.
	ErrCannotDeleteCurrent = errors.New("dbs: cannot delete the current tip snapshot")

	// ErrCannotDeleteRoot is returned by delete_snapshot when the target
	// is a non-tip snapshot with no child to merge into (see spec.md §9
	// Open Question, resolved in SPEC_FULL.md §C.3).
	ErrCannotDeleteRoot = errors.New("dbs: cannot delete a snapshot with no child to merge into")

	// ErrMetadataNeedsUpdate is a retry hint, not a failure: write_block
	// was called with update_metadata=false but the target extent
	// requires allocation or copy-on-write.
	ErrMetadataNeedsUpdate = errors.New("dbs: metadata update required, retry with update_metadata=true")

	// ErrNotImplemented is returned by vacuum_device.
	ErrNotImplemented = errors.New("dbs: not implemented")
)

// IO wraps err as an I/O failure, recording the byte range and direction
// of the access that failed, and chains ErrIO so callers can match it
// with errors.Is regardless of the underlying os error.
func IO(op string, offset int64, length int, write bool, err error) error {
	dir := "read"
	if write {
		dir = "write"
	}
	return fmt.Errorf("%s: %s at offset %d length %d: %w: %w", op, dir, offset, length, ErrIO, err)
}

// Wrap attaches an operation name to a lookup/validation failure using
// the standard %w idiom, per spec.md §7's propagation policy.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}
