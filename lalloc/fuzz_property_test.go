//go:build linux || darwin

package lalloc

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// liveBlock is the model's view of one outstanding allocation.
type liveBlock struct {
	ref     Ref
	payload []byte // expected content of the requested prefix
}

// Test_Fuzz_RandomOps_ContentSurvives drives random alloc/realloc/free
// against a model and checks every live block still holds the bytes
// written into it, after every step.
func Test_Fuzz_RandomOps_ContentSurvives(t *testing.T) {
	a := newTestAllocator(t)

	rng := rand.New(rand.NewSource(42)) // fixed seed for reproducibility
	var live []liveBlock

	randSize := func() uint64 {
		// Bias toward small blocks, with occasional multi-page ones.
		switch rng.Intn(10) {
		case 0:
			return uint64(1 + rng.Intn(128*1024))
		default:
			return uint64(1 + rng.Intn(2048))
		}
	}

	fill := func(buf []byte, n int) []byte {
		payload := make([]byte, n)
		rng.Read(payload)
		copy(buf, payload)
		return payload
	}

	for step := 0; step < 600; step++ {
		switch op := rng.Intn(3); {
		case op == 0 || len(live) == 0:
			size := randSize()
			ref, buf, err := a.Alloc(size)
			require.NoError(t, err, "step %d: alloc %d", step, size)
			require.GreaterOrEqual(t, uint64(len(buf)), size)
			live = append(live, liveBlock{ref: ref, payload: fill(buf, int(size))})

		case op == 1:
			i := rng.Intn(len(live))
			size := randSize()
			old := live[i]
			ref, buf, err := a.Realloc(old.ref, size)
			require.NoError(t, err, "step %d: realloc to %d", step, size)

			// The surviving prefix is bounded by the old payload and the
			// new block.
			keep := len(old.payload)
			if keep > len(buf) {
				keep = len(buf)
			}
			require.Equal(t, old.payload[:keep], buf[:keep], "step %d: payload lost in realloc", step)
			live[i] = liveBlock{ref: ref, payload: fill(buf, int(size))}

		default:
			i := rng.Intn(len(live))
			require.NoError(t, a.Free(live[i].ref), "step %d: free", step)
			live[i] = live[len(live)-1]
			live = live[:len(live)-1]
		}

		// Every live block still reads back what was written.
		for _, b := range live {
			buf := blockBytes(b.ref, uint64(len(b.payload)))
			require.Equal(t, b.payload, buf, "step %d: block %#x corrupted", step, b.ref)
		}
		require.Equal(t, uint64(len(live)), a.LiveBlocks(), "step %d: live-count drift", step)
	}

	for _, b := range live {
		require.NoError(t, a.Free(b.ref))
	}
	require.Zero(t, a.LiveBlocks())

	s := a.Stats()
	require.Equal(t, s.AllocCalls+s.ReallocCalls, s.BumpedBlocks+s.ReusedBlocks)
	t.Logf("final stats: %+v", s)
}
