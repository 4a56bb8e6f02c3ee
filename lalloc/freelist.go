package lalloc

import "unsafe"

// Free-list metadata lives inside the freed blocks themselves, so list
// manipulation is raw word access at fixed offsets.
//
// Unpacked encoding (block < page): word 0 of a free block holds the
// address of the block freed before it. The layer head is the most recent
// free. Sub-page blocks share pages with live neighbors, so nothing is
// decommitted.
//
// Packed encoding (block >= page): the head is a page-sized node living in
// the first page of one freed block. Word 0 links to the older node, word
// 1 holds the entry count k, words 2..2+k-1 hold freed-block addresses
// (most recent last). A node stores up to page/8 - 2 entries. Every freed
// block except the node page itself is fully decommitted, so free memory
// in packed classes has no physical footprint.

const wordSize = uint64(unsafe.Sizeof(uintptr(0)))

const (
	nodeSuccessor = 0 // word index of the older-node link
	nodeCount     = 1 // word index of the entry count
	nodeEntries   = 2 // word index of the first entry
)

func loadWord(addr uintptr, i uint64) uintptr {
	return *(*uintptr)(unsafe.Pointer(addr + uintptr(i*wordSize)))
}

func storeWord(addr uintptr, i uint64, v uintptr) {
	*(*uintptr)(unsafe.Pointer(addr + uintptr(i*wordSize))) = v
}

// maxNodeEntries returns the packed-node capacity: one page of words minus
// the successor link and the count.
func (a *Allocator) maxNodeEntries() uint64 {
	return a.pageSize/wordSize - nodeEntries
}

// pushFree inserts spot into the layer's free list. The caller guarantees
// spot's first page is committed read/write (it was live, or the realloc
// path recommitted it after vacating the mapping).
func (a *Allocator) pushFree(l *layer, spot uintptr) {
	if l.blockSize < a.pageSize {
		storeWord(spot, nodeSuccessor, l.freeHead)
		l.freeHead = spot
		return
	}

	promoted := false
	if l.freeHead == 0 || uint64(loadWord(l.freeHead, nodeCount)) == a.maxNodeEntries() {
		// Head is missing or full: spot's first page becomes the new node.
		storeWord(spot, nodeSuccessor, l.freeHead)
		storeWord(spot, nodeCount, 0)
		l.freeHead = spot
		promoted = true
		a.stats.NodesCreated++
	}

	k := uint64(loadWord(l.freeHead, nodeCount))
	storeWord(l.freeHead, nodeEntries+k, spot)
	storeWord(l.freeHead, nodeCount, uintptr(k+1))

	// Return spot's physical pages to the OS. The node page (spot's first
	// page when promoted) must stay committed for the node's lifetime.
	if promoted {
		if l.blockSize > a.pageSize {
			a.decommit(spot+uintptr(a.pageSize), l.blockSize-a.pageSize)
		}
	} else {
		a.decommit(spot, l.blockSize)
	}
}

// popFree removes and returns the most recently freed block. The caller
// commits its pages before handing it out.
func (a *Allocator) popFree(l *layer) uintptr {
	if l.blockSize < a.pageSize {
		spot := l.freeHead
		l.freeHead = loadWord(spot, nodeSuccessor)
		return spot
	}

	head := l.freeHead
	k := uint64(loadWord(head, nodeCount))
	spot := loadWord(head, nodeEntries+k-1)
	k--
	storeWord(head, nodeCount, uintptr(k))

	if k == 0 {
		// Node drained; the node's page itself goes back to the OS. The
		// last entry popped is the node's own block, so the address stays
		// reachable through the return value.
		l.freeHead = loadWord(head, nodeSuccessor)
		a.decommit(head, a.pageSize)
		a.stats.NodesReleased++
	}
	return spot
}

// decommit releases [p, p+n) back to the OS and revokes access.
// Failure here cannot corrupt allocator state (the pages simply stay
// resident), so it is recorded and dropped.
func (a *Allocator) decommit(p uintptr, n uint64) {
	if err := a.region.Decommit(uint64(p-a.base), n); err != nil {
		a.stats.DecommitErrors++
	}
}
