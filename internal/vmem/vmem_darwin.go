//go:build darwin

package vmem

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

var (
	pageOnce sync.Once
	pageSize uint64
)

// PageSize returns the system page size.
func PageSize() uint64 {
	pageOnce.Do(func() {
		pageSize = uint64(unix.Getpagesize())
	})
	return pageSize
}

// MemTotal returns the total physical memory of the machine in bytes.
func MemTotal() (uint64, error) {
	v, err := unix.SysctlUint64("hw.memsize")
	if err != nil {
		return 0, fmt.Errorf("vmem: sysctl hw.memsize: %w", err)
	}
	return v, nil
}

// RemapSupported reports whether Remap is available. Darwin has no mremap,
// so callers must fall back to copying.
func RemapSupported() bool { return false }

// Reserve maps size bytes of contiguous virtual address space with no
// access permissions. Darwin does not account anonymous PROT_NONE
// mappings against physical memory, so oversized reservations succeed.
func Reserve(size uint64) (*Region, error) {
	p, err := unix.MmapPtr(-1, 0, nil, uintptr(size),
		unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("vmem: reserve %d bytes: %w", size, err)
	}
	return &Region{base: uintptr(p), size: size}, nil
}

// Commit grants read/write access to the pages covering [off, off+n).
func (r *Region) Commit(off, n uint64) error {
	if err := r.checkRange(off, n); err != nil {
		return err
	}
	off, n = pageSpan(off, n)
	if err := unix.Mprotect(r.Slice(off, n), unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return fmt.Errorf("vmem: commit [%#x,+%#x): %w", off, n, err)
	}
	return nil
}

// Decommit releases the physical backing of the pages covering
// [off, off+n) and removes all access. MADV_FREE lets the kernel reclaim
// the pages lazily, so the old contents may still be there when the range
// is committed again before reclaim.
func (r *Region) Decommit(off, n uint64) error {
	if err := r.checkRange(off, n); err != nil {
		return err
	}
	off, n = pageSpan(off, n)
	if n == 0 {
		return nil
	}
	b := r.Slice(off, n)
	if err := unix.Madvise(b, unix.MADV_FREE); err != nil {
		return fmt.Errorf("vmem: decommit [%#x,+%#x): %w", off, n, err)
	}
	if err := unix.Mprotect(b, unix.PROT_NONE); err != nil {
		return fmt.Errorf("vmem: protect none [%#x,+%#x): %w", off, n, err)
	}
	return nil
}

// Protect sets the page protection of [off, off+n) to read/write or none.
func (r *Region) Protect(off, n uint64, writable bool) error {
	if err := r.checkRange(off, n); err != nil {
		return err
	}
	off, n = pageSpan(off, n)
	prot := unix.PROT_NONE
	if writable {
		prot = unix.PROT_READ | unix.PROT_WRITE
	}
	if err := unix.Mprotect(r.Slice(off, n), prot); err != nil {
		return fmt.Errorf("vmem: protect [%#x,+%#x): %w", off, n, err)
	}
	return nil
}

// Remap is unavailable on Darwin.
func (r *Region) Remap(srcOff, dstOff, n uint64) error {
	return ErrRemapUnsupported
}

// Release unmaps the whole reservation. The Region must not be used after.
func (r *Region) Release() error {
	if r.base == 0 {
		return nil
	}
	err := unix.MunmapPtr(unsafe.Pointer(r.base), uintptr(r.size))
	r.base = 0
	if err != nil {
		return fmt.Errorf("vmem: release: %w", err)
	}
	return nil
}
