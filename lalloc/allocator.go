package lalloc

import (
	"fmt"
	"os"
	"unsafe"

	"github.com/joshuapare/layerkit/internal/vmem"
)

// Debug flag - set to true to enable verbose logging (compile-time toggle).
const debugAlloc = false

// Runtime flag for request logging - controlled by LAYERKIT_LOG_ALLOC env var.
var logAlloc = os.Getenv("LAYERKIT_LOG_ALLOC") != ""

// Ref is the address of a block inside the reservation. The zero Ref is
// the null pointer: Realloc treats it as a plain allocation and Free
// rejects it.
type Ref = uintptr

// Allocator is a layered allocator instance. The zero value is not usable;
// use New or the package-level Default.
//
// The reservation is created lazily inside the lock on the first
// operation, so constructing an Allocator costs nothing until it is used.
type Allocator struct {
	lk spinLock

	cfg         Config
	initialized bool
	closed      bool

	region   *vmem.Region
	base     uintptr
	pageSize uint64
	layers   []layer

	stats Stats
}

// New returns an allocator with the given geometry. The virtual
// reservation is deferred to the first operation.
func New(cfg Config) (*Allocator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Allocator{cfg: cfg}, nil
}

var defaultAllocator = &Allocator{cfg: DefaultConfig}

// Default returns the process-wide allocator (DefaultConfig geometry).
func Default() *Allocator { return defaultAllocator }

// Alloc allocates through the process-wide allocator.
func Alloc(size uint64) (Ref, []byte, error) { return defaultAllocator.Alloc(size) }

// Realloc reallocates through the process-wide allocator.
func Realloc(ref Ref, size uint64) (Ref, []byte, error) {
	return defaultAllocator.Realloc(ref, size)
}

// Free frees through the process-wide allocator.
func Free(ref Ref) error { return defaultAllocator.Free(ref) }

// ensureInit performs the one-time reservation and layer setup. Runs
// under the lock. On failure the allocator stays uninitialized and the
// next operation retries.
func (a *Allocator) ensureInit() error {
	if a.closed {
		return ErrClosed
	}
	if a.initialized {
		return nil
	}
	if err := a.cfg.Validate(); err != nil {
		return err
	}
	a.pageSize = vmem.PageSize()
	if vmem.RemapSupported() && a.cfg.MemcpyThreshold <= a.pageSize {
		return fmt.Errorf("%w: MemcpyThreshold %d must exceed the page size %d",
			ErrBadConfig, a.cfg.MemcpyThreshold, a.pageSize)
	}

	region, err := vmem.Reserve(a.cfg.ReserveSize())
	if err != nil {
		return err
	}
	a.region = region
	a.base = region.Base()

	span := a.cfg.LayerSpan()
	a.layers = make([]layer, a.cfg.LayerCount)
	for i := range a.layers {
		blockSize := a.cfg.MinBlockSize << uint(i)
		a.layers[i] = layer{
			base:      a.base + uintptr(uint64(i)*span),
			blockSize: blockSize,
			capacity:  span / blockSize,
		}
	}

	a.initialized = true
	return nil
}

// Alloc returns a block of at least size bytes: its address inside the
// reservation and a byte view of the full block. The block size is the
// request rounded up to the next power of two, at least MinBlockSize.
// Requests above MaxBlockSize fail with ErrTooLarge.
func (a *Allocator) Alloc(size uint64) (Ref, []byte, error) {
	a.lk.lock()
	defer a.lk.unlock()
	return a.alloc(size)
}

func (a *Allocator) alloc(size uint64) (Ref, []byte, error) {
	if err := a.ensureInit(); err != nil {
		return 0, nil, err
	}
	if size > a.cfg.MaxBlockSize() {
		return 0, nil, ErrTooLarge
	}
	a.stats.AllocCalls++

	li, blockSize := a.layerForSize(size)
	if logAlloc && size >= 1<<20 {
		fmt.Fprintf(os.Stderr, "[lalloc] alloc %d bytes -> layer %d (block %d)\n", size, li, blockSize)
	}

	l := &a.layers[li]
	spot, err := a.getSpot(l)
	if err != nil {
		return 0, nil, err
	}
	if err := a.commitBlock(spot, blockSize); err != nil {
		a.ungetSpot(l, spot)
		return 0, nil, err
	}
	return spot, blockBytes(spot, blockSize), nil
}

// ungetSpot rolls a freshly obtained block back after a commit failure,
// restoring the pre-call layer state.
func (a *Allocator) ungetSpot(l *layer, spot uintptr) {
	l.inUse--
	if l.bumpIndex > 0 && spot == l.base+uintptr((l.bumpIndex-1)*l.blockSize) {
		l.bumpIndex--
		a.stats.BumpedBlocks--
		return
	}
	a.pushFree(l, spot)
	a.stats.ReusedBlocks--
}

// Realloc moves the contents of ref into a block sized for the new
// request and frees ref. A zero ref behaves as Alloc. The transfer is a
// byte copy for destinations below MemcpyThreshold and a page-table
// remap otherwise; the remap moves the physical pages without touching
// their contents, so it costs the same for 8 MiB as for 1 TiB.
func (a *Allocator) Realloc(ref Ref, size uint64) (Ref, []byte, error) {
	a.lk.lock()
	defer a.lk.unlock()
	if ref == 0 {
		return a.alloc(size)
	}
	if err := a.ensureInit(); err != nil {
		return 0, nil, err
	}
	if size > a.cfg.MaxBlockSize() {
		return 0, nil, ErrTooLarge
	}
	if !a.contains(ref) {
		return 0, nil, ErrBadRef
	}
	a.stats.ReallocCalls++

	oldLayer := &a.layers[a.layerIndexOf(ref)]
	oldBlock := oldLayer.blockSize
	if uint64(ref-oldLayer.base)%oldBlock != 0 {
		return 0, nil, ErrBadRef
	}

	newLi, newBlock := a.layerForSize(size)
	newLayer := &a.layers[newLi]
	spot, err := a.getSpot(newLayer)
	if err != nil {
		return 0, nil, err
	}

	if newBlock < a.cfg.MemcpyThreshold || !vmem.RemapSupported() {
		// Copy strategy. The prefix that fits both blocks moves,
		// min(oldBlock, newBlock) bytes, so a shrink never writes into
		// the neighbouring blocks of the destination layer.
		if err := a.commitBlock(spot, newBlock); err != nil {
			a.ungetSpot(newLayer, spot)
			return 0, nil, err
		}
		n := oldBlock
		if n > newBlock {
			n = newBlock
		}
		copy(blockBytes(spot, n), blockBytes(ref, n))
		a.stats.CopyMoves++
	} else {
		// Remap strategy: move the old block's pages, up to the size of
		// the destination block, onto the destination address. The
		// source stays mapped (empty), so it remains a legal free-list
		// entry; its first page is recommitted because the free below
		// writes list metadata into it.
		n := oldBlock
		if n > newBlock {
			n = newBlock
		}
		if err := a.region.Remap(uint64(ref-a.base), uint64(spot-a.base), n); err != nil {
			a.ungetSpot(newLayer, spot)
			return 0, nil, err
		}
		if newBlock > oldBlock {
			if err := a.commitBlock(spot+uintptr(oldBlock), newBlock-oldBlock); err != nil {
				a.ungetSpot(newLayer, spot)
				return 0, nil, err
			}
		}
		if err := a.commitBlock(ref, a.pageSize); err != nil {
			a.ungetSpot(newLayer, spot)
			return 0, nil, err
		}
		if debugAlloc {
			fmt.Fprintf(os.Stderr, "[lalloc] remap %#x -> %#x (%d bytes)\n", ref, spot, n)
		}
		a.stats.RemapMoves++
	}

	a.pushFree(oldLayer, ref)
	oldLayer.inUse--
	return spot, blockBytes(spot, newBlock), nil
}

// Free returns ref's block to its layer's free list. The layer, and with
// it the block size, is recovered from the address alone.
func (a *Allocator) Free(ref Ref) error {
	a.lk.lock()
	defer a.lk.unlock()
	if err := a.ensureInit(); err != nil {
		return err
	}
	if ref == 0 || !a.contains(ref) {
		return ErrBadRef
	}
	l := &a.layers[a.layerIndexOf(ref)]
	if uint64(ref-l.base)%l.blockSize != 0 {
		return ErrBadRef
	}
	a.stats.FreeCalls++
	a.pushFree(l, ref)
	l.inUse--
	return nil
}

// Close releases the reservation. Intended for tests and tools that
// create short-lived allocators; the process-wide allocator lives until
// exit and never needs closing.
func (a *Allocator) Close() error {
	a.lk.lock()
	defer a.lk.unlock()
	a.closed = true
	if !a.initialized {
		return nil
	}
	a.initialized = false
	a.layers = nil
	return a.region.Release()
}

// blockBytes returns the byte view of a committed block.
func blockBytes(p uintptr, n uint64) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(p)), n)
}
