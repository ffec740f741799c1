// Package interfaces defines the seams between the DBS core layers, the
// way the teacher's internal/interfaces package defines the seam
// between its parsers and its block-device adapter. Trimmed to what
// the DBS domain actually needs: a backing object is a flat span of
// bytes addressed by aligned byte offset, not a device with vendor
// metadata, removable-media flags, or a block cache — none of which
// DBS's single backing-file-or-device model has a use for.
package interfaces

// BackingStore is the seam between the on-device codec / device context
// and whatever holds the real bytes (a regular file today; nothing rules
// out a raw block device opened the same way). All offsets and lengths
// are in bytes and must be multiples of the caller's alignment unit;
// internal/ioadapter is the concrete implementation and is the only
// place that relaxes that requirement, via a bounce buffer.
type BackingStore interface {
	// ReadAt reads len(buf) bytes starting at offset.
	ReadAt(buf []byte, offset int64) error

	// WriteAt writes buf starting at offset.
	WriteAt(buf []byte, offset int64) error

	// Size returns the current size of the backing object in bytes.
	Size() (int64, error)

	// Sync flushes any buffered writes to the backing object.
	Sync() error

	// Close flushes and releases the backing object.
	Close() error
}
