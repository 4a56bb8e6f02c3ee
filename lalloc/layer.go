package lalloc

// layer is the per-size-class state. All fields are guarded by the
// allocator's lock.
type layer struct {
	base      uintptr // first address of the layer's slice of the reservation
	blockSize uint64  // 2^(index + log2(MinBlockSize))
	capacity  uint64  // span / blockSize
	inUse     uint64  // live blocks
	bumpIndex uint64  // next never-handed-out block slot
	freeHead  uintptr // top of the free list (free block or packed node), 0 if empty
}

// getSpot obtains one block address from the layer: the most recently
// freed block if the free list has entries, the bump frontier otherwise.
// The block's backing pages are in an unknown state; the caller commits
// them. inUse counts live blocks, so both paths increment it.
func (a *Allocator) getSpot(l *layer) (uintptr, error) {
	if l.freeHead != 0 {
		spot := a.popFree(l)
		l.inUse++
		a.stats.ReusedBlocks++
		return spot, nil
	}
	if l.bumpIndex == l.capacity {
		return 0, ErrLayerFull
	}
	spot := l.base + uintptr(l.bumpIndex*l.blockSize)
	l.bumpIndex++
	l.inUse++
	a.stats.BumpedBlocks++
	return spot, nil
}

// commitBlock commits the pages covering [spot, spot+n) read/write.
// Classes below the page size share pages with neighboring blocks; the
// widening to page granularity happens inside vmem and is idempotent.
func (a *Allocator) commitBlock(spot uintptr, n uint64) error {
	return a.region.Commit(uint64(spot-a.base), n)
}
