//go:build linux

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
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, fmt.Errorf("vmem: sysinfo: %w", err)
	}
	return uint64(info.Totalram) * uint64(info.Unit), nil
}

// RemapSupported reports whether Remap is available. Linux has mremap.
func RemapSupported() bool { return true }

// Reserve maps size bytes of contiguous virtual address space with no
// access permissions and no backing storage. The kernel hands out the
// range without charging it against commit limits (MAP_NORESERVE), so
// reservations far larger than physical memory succeed.
func Reserve(size uint64) (*Region, error) {
	p, err := unix.MmapPtr(-1, 0, nil, uintptr(size),
		unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_NORESERVE)
	if err != nil {
		return nil, fmt.Errorf("vmem: reserve %d bytes: %w", size, err)
	}
	return &Region{base: uintptr(p), size: size}, nil
}

// Commit grants read/write access to the pages covering [off, off+n).
// First touch after Commit faults in zeroed anonymous pages. Committing
// an already-committed range is a no-op at the kernel level.
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
// [off, off+n) and removes all access. The virtual range stays reserved.
func (r *Region) Decommit(off, n uint64) error {
	if err := r.checkRange(off, n); err != nil {
		return err
	}
	off, n = pageSpan(off, n)
	if n == 0 {
		return nil
	}
	b := r.Slice(off, n)
	if err := unix.Madvise(b, unix.MADV_DONTNEED); err != nil {
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

// Remap moves the virtual-to-physical mapping of [srcOff, srcOff+n) so the
// same physical pages become visible at dstOff. The source range stays
// mapped (MREMAP_DONTUNMAP) as empty zero-fill pages, so its addresses
// remain legal targets for later commits.
func (r *Region) Remap(srcOff, dstOff, n uint64) error {
	if err := r.checkRange(srcOff, n); err != nil {
		return err
	}
	if err := r.checkRange(dstOff, n); err != nil {
		return err
	}
	src := unsafe.Pointer(r.base + uintptr(srcOff))
	dst := unsafe.Pointer(r.base + uintptr(dstOff))
	_, err := unix.MremapPtr(src, uintptr(n), dst, uintptr(n),
		unix.MREMAP_FIXED|unix.MREMAP_MAYMOVE|unix.MREMAP_DONTUNMAP)
	if err != nil {
		return fmt.Errorf("vmem: remap [%#x,+%#x)->%#x: %w", srcOff, n, dstOff, err)
	}
	return nil
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
