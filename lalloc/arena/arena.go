// Package arena provides a fixed-size chunk arena layered on memory
// owned by something else, typically a block handed out by lalloc or a
// reserved region committed on demand. The arena never releases chunks
// back to its backing memory; deleted chunks are kept on an intrusive
// list and revived for later Get calls, so it suits workloads with a
// stable working set rather than ones that balloon and shrink.
//
// Chunk metadata lives inside the deleted chunks themselves: the first
// word of a deleted chunk holds the 1-based index of the chunk deleted
// before it, with 0 terminating the list. An arena therefore needs no
// allocation of its own beyond the struct.
package arena

import (
	"errors"
	"math/bits"
	"unsafe"
)

// Errors returned by the arena.
var (
	ErrFull      = errors.New("arena: no chunks left")
	ErrBadConfig = errors.New("arena: invalid geometry")
	ErrBadChunk  = errors.New("arena: pointer outside the arena")
)

// CommitFunc commits [p, p+n) read/write before the arena touches it.
// Arenas over already-writable memory pass nil.
type CommitFunc func(p uintptr, n uint64) error

// Arena carves chunks of a fixed power-of-two size out of one
// contiguous range. Not safe for concurrent use; callers that share an
// arena between goroutines guard it themselves.
type Arena struct {
	memory      uintptr
	chunkSize   uint64
	maxChunks   uint64
	chunkShift  uint
	inUse       uint64
	nextFresh   uint64 // 1-based index of the next never-committed chunk
	lastDeleted uint64 // 1-based index of the most recently deleted chunk, 0 if none
	commit      CommitFunc
}

// New returns an arena over [memory, memory+memorySize). memory must be
// aligned to chunkSize, chunkSize must be a power of two of at least one
// word, and memorySize must be a multiple of chunkSize. commit may be
// nil when the range is already committed.
func New(memory uintptr, memorySize, chunkSize uint64, commit CommitFunc) (*Arena, error) {
	if chunkSize < uint64(unsafe.Sizeof(uintptr(0))) || chunkSize&(chunkSize-1) != 0 {
		return nil, ErrBadConfig
	}
	if uint64(memory)%chunkSize != 0 || memorySize%chunkSize != 0 || memorySize == 0 {
		return nil, ErrBadConfig
	}
	return &Arena{
		memory:     memory,
		chunkSize:  chunkSize,
		maxChunks:  memorySize / chunkSize,
		chunkShift: uint(bits.TrailingZeros64(chunkSize)),
		nextFresh:  1,
		commit:     commit,
	}, nil
}

// ChunkSize returns the fixed chunk size.
func (a *Arena) ChunkSize() uint64 { return a.chunkSize }

// Len returns the number of chunks currently handed out.
func (a *Arena) Len() uint64 { return a.inUse }

// Cap returns the total number of chunks the arena can hold.
func (a *Arena) Cap() uint64 { return a.maxChunks }

func (a *Arena) chunkAt(index uint64) uintptr {
	return a.memory + uintptr(index<<a.chunkShift)
}

// Get hands out one chunk: the most recently deleted one if any exist,
// otherwise the next fresh chunk, committed through the CommitFunc on
// its way out. Returns ErrFull when every chunk is live.
func (a *Arena) Get() (uintptr, error) {
	if a.inUse == a.maxChunks {
		return 0, ErrFull
	}
	a.inUse++

	if a.lastDeleted == 0 {
		p := a.chunkAt(a.nextFresh - 1)
		if a.commit != nil {
			if err := a.commit(p, a.chunkSize); err != nil {
				a.inUse--
				return 0, err
			}
		}
		a.nextFresh++
		return p, nil
	}

	p := a.chunkAt(a.lastDeleted - 1)
	a.lastDeleted = uint64(*(*uintptr)(unsafe.Pointer(p)))
	return p, nil
}

// Put returns a chunk to the arena. Any pointer into the chunk is
// accepted; it is rounded down to the chunk boundary. The chunk's first
// word is overwritten with list metadata.
func (a *Arena) Put(p uintptr) error {
	p -= uintptr(uint64(p) % a.chunkSize)
	if p < a.memory || uint64(p-a.memory)>>a.chunkShift >= a.maxChunks {
		return ErrBadChunk
	}
	index := uint64(p-a.memory) >> a.chunkShift
	*(*uintptr)(unsafe.Pointer(p)) = uintptr(a.lastDeleted)
	a.lastDeleted = index + 1
	a.inUse--
	return nil
}
