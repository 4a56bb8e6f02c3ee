package lalloc

import (
	"io"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Stats holds operation counters for instrumentation and testing.
type Stats struct {
	AllocCalls   int64 // Alloc calls that reached a layer
	ReallocCalls int64 // Realloc calls with a non-zero source
	FreeCalls    int64 // successful Free calls

	BumpedBlocks int64 // blocks handed out from a bump frontier
	ReusedBlocks int64 // blocks handed out from a free list

	CopyMoves  int64 // reallocations transferred by byte copy
	RemapMoves int64 // reallocations transferred by page remap

	NodesCreated  int64 // packed free-list nodes installed
	NodesReleased int64 // packed free-list node pages decommitted

	DecommitErrors int64 // decommit syscalls that failed (pages stayed resident)
}

// LayerInfo is a point-in-time snapshot of one size class.
type LayerInfo struct {
	Index     int
	BlockSize uint64
	Capacity  uint64
	InUse     uint64
	BumpIndex uint64
	FreeList  bool // whether the free list is non-empty
}

// Stats returns a copy of the counters.
func (a *Allocator) Stats() Stats {
	a.lk.lock()
	defer a.lk.unlock()
	return a.stats
}

// LiveBlocks returns the number of currently live blocks across layers.
func (a *Allocator) LiveBlocks() uint64 {
	a.lk.lock()
	defer a.lk.unlock()
	var n uint64
	for i := range a.layers {
		n += a.layers[i].inUse
	}
	return n
}

// Layers returns a snapshot of every layer that has been touched (bump
// frontier advanced or free list populated). Untouched layers are
// skipped; the default geometry has 35 of them and most workloads use a
// handful.
func (a *Allocator) Layers() []LayerInfo {
	a.lk.lock()
	defer a.lk.unlock()
	out := make([]LayerInfo, 0, len(a.layers))
	for i := range a.layers {
		l := &a.layers[i]
		if l.bumpIndex == 0 && l.freeHead == 0 {
			continue
		}
		out = append(out, LayerInfo{
			Index:     i,
			BlockSize: l.blockSize,
			Capacity:  l.capacity,
			InUse:     l.inUse,
			BumpIndex: l.bumpIndex,
			FreeList:  l.freeHead != 0,
		})
	}
	return out
}

// WriteStats prints the counters in a fixed human-readable layout with
// grouped digits.
func (s Stats) WriteStats(w io.Writer) {
	p := message.NewPrinter(language.English)
	p.Fprintf(w, "alloc calls:      %d\n", s.AllocCalls)
	p.Fprintf(w, "realloc calls:    %d\n", s.ReallocCalls)
	p.Fprintf(w, "free calls:       %d\n", s.FreeCalls)
	p.Fprintf(w, "bumped blocks:    %d\n", s.BumpedBlocks)
	p.Fprintf(w, "reused blocks:    %d\n", s.ReusedBlocks)
	p.Fprintf(w, "copy moves:       %d\n", s.CopyMoves)
	p.Fprintf(w, "remap moves:      %d\n", s.RemapMoves)
	p.Fprintf(w, "nodes created:    %d\n", s.NodesCreated)
	p.Fprintf(w, "nodes released:   %d\n", s.NodesReleased)
	if s.DecommitErrors > 0 {
		p.Fprintf(w, "decommit errors:  %d\n", s.DecommitErrors)
	}
}
