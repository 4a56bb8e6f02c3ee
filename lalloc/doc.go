// Package lalloc implements a layered dynamic memory allocator backed
// entirely by virtual-memory primitives instead of the Go heap.
//
// # Overview
//
// The allocator owns one giant contiguous virtual-address reservation
// (35 TiB by default) split into fixed layers, one per power-of-two size
// class. Layer i spans 1 TiB and holds blocks of exactly 2^(i+6) bytes,
// from 64 B up to 1 TiB. Because every layer occupies a known sub-range of
// the reservation, the size class of any pointer is recovered by integer
// division against the reservation base; no side tables exist.
//
// The design eliminates external fragmentation for blocks at or above the
// page size (blocks of one class never share pages with another class) and
// reallocates large blocks in O(1) by moving page-table entries instead of
// copying bytes.
//
// # Operations
//
// Three operations form the contract, mirroring malloc/realloc/free:
//
//	ref, buf, err := lalloc.Alloc(4096)
//	ref, buf, err = lalloc.Realloc(ref, 1<<20)
//	err = lalloc.Free(ref)
//
// Alloc rounds the request up to the next power of two (minimum 64 bytes)
// and hands out a block from the matching layer: the layer's LIFO free
// list if it has entries, the layer's bump frontier otherwise. The backing
// pages are committed read/write before the block is returned.
//
// Realloc obtains a destination block in the class of the new size and
// transfers the contents. Below an 8 MiB threshold the transfer is a byte
// copy; at or above it, the virtual-to-physical mapping of the old block
// is moved onto the destination address, which costs page-table writes
// rather than a pass over the data. Platforms without a move-mapping
// primitive (everything except Linux) always copy.
//
// Free pushes the block onto its layer's free list. For classes below the
// page size the list is a plain singly linked stack threaded through the
// first word of each free block. For page-sized and larger classes the
// list is packed: freed-block pointers are grouped into page-sized nodes
// living inside freed blocks themselves, and everything except the live
// node page is decommitted, so free memory in these classes holds no
// physical pages.
//
// # Failure modes
//
// All failures are inline and leave the allocator unchanged: reservation
// failure at first use, requests larger than the maximum block size
// (ErrTooLarge), and class exhaustion (ErrLayerFull). Freeing an address
// the allocator never produced is detected only when the address falls
// outside the reservation or is misaligned for its layer (ErrBadRef);
// double-free and use-after-free are undefined, as for any general-purpose
// allocator.
//
// # Thread safety
//
// A single test-and-set spin lock serializes every public operation.
// There are no per-thread caches; the total order of operations is the
// lock order. Recursive entry (allocating from a signal handler) is not
// supported.
//
// # Configuration
//
// The process-wide Default() allocator uses DefaultConfig (35 layers,
// 64 B minimum block, 8 MiB copy threshold). New creates an independent
// allocator with its own, possibly much smaller, reservation; tests use
// this to run full lifecycles in a few megabytes.
//
// # Related packages
//
//   - github.com/joshuapare/layerkit/internal/vmem: the OS virtual-memory boundary
//   - github.com/joshuapare/layerkit/lalloc/arena: fixed-size chunk arena on committed memory
package lalloc
