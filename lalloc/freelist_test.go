//go:build linux || darwin

package lalloc

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/layerkit/internal/vmem"
)

// Test_UnpackedFreeList verifies sub-page classes thread the list
// through the freed blocks and never decommit.
func Test_UnpackedFreeList(t *testing.T) {
	a := newTestAllocator(t)
	require.Less(t, uint64(64), vmem.PageSize())

	refs := make([]Ref, 8)
	for i := range refs {
		ref, _, err := a.Alloc(64)
		require.NoError(t, err)
		refs[i] = ref
	}
	for _, ref := range refs {
		require.NoError(t, a.Free(ref))
	}

	// Pops come back newest-first.
	for i := len(refs) - 1; i >= 0; i-- {
		ref, _, err := a.Alloc(64)
		require.NoError(t, err)
		require.Equal(t, refs[i], ref)
	}

	s := a.Stats()
	require.Zero(t, s.NodesCreated, "sub-page classes must not build packed nodes")
	require.Zero(t, s.NodesReleased)
}

// Test_PackedNodePromotion verifies the first free in a page-or-larger
// class turns the freed block into the node that records it.
func Test_PackedNodePromotion(t *testing.T) {
	a := newTestAllocator(t)
	page := vmem.PageSize()

	ref, _, err := a.Alloc(page)
	require.NoError(t, err)
	require.NoError(t, a.Free(ref))

	s := a.Stats()
	require.Equal(t, int64(1), s.NodesCreated)
	require.Zero(t, s.NodesReleased)

	// Popping the node's own block drains and releases the node.
	again, _, err := a.Alloc(page)
	require.NoError(t, err)
	require.Equal(t, ref, again)
	s = a.Stats()
	require.Equal(t, int64(1), s.NodesReleased)
	require.NoError(t, a.Free(again))
}

// Test_PackedNodeOverflow verifies a full node chains to a fresh one and
// both drain in stack order.
func Test_PackedNodeOverflow(t *testing.T) {
	a := newTestAllocator(t)
	page := vmem.PageSize()

	// One more free than a single node can hold. The first free promotes
	// a node that records itself, so a node covers maxNodeEntries frees.
	n := int(a.maxNodeEntriesForTest()) + 1
	refs := make([]Ref, n)
	for i := range refs {
		ref, _, err := a.Alloc(page)
		require.NoError(t, err)
		refs[i] = ref
	}
	for _, ref := range refs {
		require.NoError(t, a.Free(ref))
	}

	s := a.Stats()
	require.Equal(t, int64(2), s.NodesCreated, "overflow should chain a second node")
	require.Zero(t, s.NodesReleased)

	// Drain everything. Newest-first order holds across the node seam.
	for i := n - 1; i >= 0; i-- {
		ref, _, err := a.Alloc(page)
		require.NoError(t, err)
		require.Equal(t, refs[i], ref, "pop %d out of order", n-1-i)
	}

	s = a.Stats()
	require.Equal(t, int64(2), s.NodesReleased, "both nodes should drain")
	require.Equal(t, int64(n), int64(s.ReusedBlocks))

	for _, ref := range refs {
		require.NoError(t, a.Free(ref))
	}
}

// Test_PackedFreeZeroFill verifies a block that went through a packed
// free comes back zeroed: its pages were decommitted while on the list.
func Test_PackedFreeZeroFill(t *testing.T) {
	if runtime.GOOS != "linux" {
		// MADV_FREE keeps page contents until the kernel reclaims them.
		t.Skip("decommit does not guarantee zero-fill here")
	}
	a := newTestAllocator(t)
	page := vmem.PageSize()

	// Two blocks so the second free lands as a plain entry and is fully
	// decommitted (the first becomes the node and keeps its first page).
	ref1, _, err := a.Alloc(2 * page)
	require.NoError(t, err)
	ref2, buf2, err := a.Alloc(2 * page)
	require.NoError(t, err)
	for i := range buf2 {
		buf2[i] = 0xEE
	}

	require.NoError(t, a.Free(ref1))
	require.NoError(t, a.Free(ref2))

	got, gotBuf, err := a.Alloc(2 * page)
	require.NoError(t, err)
	require.Equal(t, ref2, got)
	for i := range gotBuf {
		require.Equal(t, byte(0), gotBuf[i], "stale byte at %d after decommit", i)
	}
	require.NoError(t, a.Free(got))
}

func (a *Allocator) maxNodeEntriesForTest() uint64 {
	a.lk.lock()
	defer a.lk.unlock()
	if err := a.ensureInit(); err != nil {
		panic(err)
	}
	return a.maxNodeEntries()
}
