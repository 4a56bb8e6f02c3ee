// Package vmem wraps the operating system's virtual-memory primitives:
// reserving address space without backing storage, committing and
// decommitting page ranges, changing page protection, and moving a
// committed range to a new virtual address.
//
// A Region is a contiguous reservation. Nothing inside it is readable or
// writable until a sub-range is committed. Ranges passed to Commit,
// Decommit and Protect are rounded to page boundaries internally (offset
// down, length up), so callers may pass block-granular values there;
// Remap and Slice use their offsets and lengths as given.
package vmem

import (
	"errors"
	"unsafe"
)

var (
	// ErrUnsupported indicates the host platform lacks the required
	// virtual-memory primitives.
	ErrUnsupported = errors.New("vmem: platform not supported")

	// ErrRemapUnsupported indicates the host platform cannot move a
	// mapping to a new virtual address without unmapping the source.
	ErrRemapUnsupported = errors.New("vmem: remap not supported on this platform")

	// ErrOutOfRange indicates an offset/length pair outside the region.
	ErrOutOfRange = errors.New("vmem: range outside reservation")
)

// Region is a contiguous virtual-address reservation.
type Region struct {
	base uintptr
	size uint64
}

// Base returns the first address of the reservation.
func (r *Region) Base() uintptr { return r.base }

// Size returns the reservation size in bytes.
func (r *Region) Size() uint64 { return r.size }

// Slice returns a byte view of [off, off+n). The caller must ensure the
// range is committed before reading or writing through it.
func (r *Region) Slice(off, n uint64) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(r.base+uintptr(off))), n)
}

// checkRange validates that [off, off+n) lies inside the reservation.
func (r *Region) checkRange(off, n uint64) error {
	if off > r.size || n > r.size-off {
		return ErrOutOfRange
	}
	return nil
}

// pageSpan widens [off, off+n) to page granularity: the offset is rounded
// down and the end rounded up. Returns the new offset and length.
func pageSpan(off, n uint64) (uint64, uint64) {
	page := PageSize()
	start := off &^ (page - 1)
	end := (off + n + page - 1) &^ (page - 1)
	return start, end - start
}
