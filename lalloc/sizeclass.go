package lalloc

import "math/bits"

// ceilLog2 returns the smallest e with 2^e >= v. v must be >= 1.
func ceilLog2(v uint64) uint {
	return uint(bits.Len64(v - 1))
}

// layerForSize maps a request to its layer index and block size. Requests
// below the minimum class are served from the smallest layer, including
// zero-byte requests. The caller rejects sizes above the maximum class.
func (a *Allocator) layerForSize(size uint64) (int, uint64) {
	if size < a.cfg.MinBlockSize {
		size = a.cfg.MinBlockSize
	}
	e := ceilLog2(size)
	return int(e - a.cfg.minShift()), uint64(1) << e
}

// layerIndexOf recovers the size class of an address from the address
// alone: each layer occupies one span-sized slice of the reservation.
func (a *Allocator) layerIndexOf(p uintptr) int {
	return int(uint64(p-a.base) / a.cfg.LayerSpan())
}

// contains reports whether p lies inside the reservation.
func (a *Allocator) contains(p uintptr) bool {
	return p >= a.base && uint64(p-a.base) < a.cfg.ReserveSize()
}
