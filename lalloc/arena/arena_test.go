//go:build linux || darwin

package arena

import (
	"runtime"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/layerkit/internal/vmem"
)

func testRegion(t *testing.T, pages uint64) *vmem.Region {
	t.Helper()
	r, err := vmem.Reserve(pages * vmem.PageSize())
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Release() })
	return r
}

func Test_NewValidation(t *testing.T) {
	r := testRegion(t, 8)
	page := vmem.PageSize()

	_, err := New(r.Base(), 8*page, 0, nil)
	require.ErrorIs(t, err, ErrBadConfig)

	_, err = New(r.Base(), 8*page, 3*page, nil)
	require.ErrorIs(t, err, ErrBadConfig, "chunk size must be a power of two")

	_, err = New(r.Base(), 8*page, 4, nil)
	require.ErrorIs(t, err, ErrBadConfig, "chunk size below one word")

	_, err = New(r.Base()+1, 8*page, page, nil)
	require.ErrorIs(t, err, ErrBadConfig, "memory must be chunk-aligned")

	_, err = New(r.Base(), 8*page+1, page, nil)
	require.ErrorIs(t, err, ErrBadConfig, "size must be a chunk multiple")

	a, err := New(r.Base(), 8*page, page, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(8), a.Cap())
	require.Equal(t, page, a.ChunkSize())
	require.Zero(t, a.Len())
}

func Test_GetCommitsOnFirstUse(t *testing.T) {
	r := testRegion(t, 8)
	page := vmem.PageSize()

	var commits []uintptr
	a, err := New(r.Base(), 8*page, page, func(p uintptr, n uint64) error {
		commits = append(commits, p)
		return r.Commit(uint64(p-r.Base()), n)
	})
	require.NoError(t, err)

	c1, err := a.Get()
	require.NoError(t, err)
	require.Equal(t, r.Base(), c1)

	c2, err := a.Get()
	require.NoError(t, err)
	require.Equal(t, r.Base()+uintptr(page), c2)
	require.Equal(t, []uintptr{c1, c2}, commits)

	// Committed chunks are writable end to end.
	b := r.Slice(0, 2*page)
	b[0] = 1
	b[len(b)-1] = 2

	// A revived chunk skips the commit callback.
	require.NoError(t, a.Put(c2))
	c3, err := a.Get()
	require.NoError(t, err)
	require.Equal(t, c2, c3)
	require.Len(t, commits, 2)
}

func Test_PutReviveLIFO(t *testing.T) {
	r := testRegion(t, 8)
	page := vmem.PageSize()

	a, err := New(r.Base(), 8*page, page, func(p uintptr, n uint64) error {
		return r.Commit(uint64(p-r.Base()), n)
	})
	require.NoError(t, err)

	chunks := make([]uintptr, 4)
	for i := range chunks {
		chunks[i], err = a.Get()
		require.NoError(t, err)
	}
	require.Equal(t, uint64(4), a.Len())

	require.NoError(t, a.Put(chunks[1]))
	require.NoError(t, a.Put(chunks[3]))

	got, err := a.Get()
	require.NoError(t, err)
	require.Equal(t, chunks[3], got, "most recently deleted chunk revives first")

	got, err = a.Get()
	require.NoError(t, err)
	require.Equal(t, chunks[1], got)

	// List drained; the next chunk is a fresh one.
	got, err = a.Get()
	require.NoError(t, err)
	require.Equal(t, chunks[3]+uintptr(page), got)
}

func Test_PutRoundsInteriorPointer(t *testing.T) {
	r := testRegion(t, 4)
	page := vmem.PageSize()

	a, err := New(r.Base(), 4*page, page, func(p uintptr, n uint64) error {
		return r.Commit(uint64(p-r.Base()), n)
	})
	require.NoError(t, err)

	c, err := a.Get()
	require.NoError(t, err)

	require.NoError(t, a.Put(c+uintptr(page/2)))
	got, err := a.Get()
	require.NoError(t, err)
	require.Equal(t, c, got)

	require.ErrorIs(t, a.Put(c+uintptr(4*page)), ErrBadChunk)
}

func Test_Full(t *testing.T) {
	r := testRegion(t, 2)
	page := vmem.PageSize()

	a, err := New(r.Base(), 2*page, page, func(p uintptr, n uint64) error {
		return r.Commit(uint64(p-r.Base()), n)
	})
	require.NoError(t, err)

	c1, err := a.Get()
	require.NoError(t, err)
	_, err = a.Get()
	require.NoError(t, err)

	_, err = a.Get()
	require.ErrorIs(t, err, ErrFull)

	require.NoError(t, a.Put(c1))
	c3, err := a.Get()
	require.NoError(t, err)
	require.Equal(t, c1, c3)
}

// Test_OverCommittedMemory verifies an arena over plain writable memory
// works with a nil commit function.
func Test_OverCommittedMemory(t *testing.T) {
	const chunk = 64
	backing := make([]byte, 16*chunk+chunk)
	base := uintptr(unsafe.Pointer(&backing[0]))
	aligned := (base + chunk - 1) &^ (chunk - 1)

	a, err := New(aligned, 16*chunk, chunk, nil)
	require.NoError(t, err)

	c1, err := a.Get()
	require.NoError(t, err)
	c2, err := a.Get()
	require.NoError(t, err)
	require.Equal(t, uintptr(chunk), c2-c1)

	require.NoError(t, a.Put(c1))
	got, err := a.Get()
	require.NoError(t, err)
	require.Equal(t, c1, got)
	runtime.KeepAlive(backing)
}
