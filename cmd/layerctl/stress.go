package main

import (
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/joshuapare/layerkit/lalloc"
)

var stressFlags struct {
	ops        int
	goroutines int
	maxSize    uint64
	seed       int64
	reallocPct int
}

func init() {
	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Run a synthetic alloc/realloc/free workload and report counters",
		Long: `The stress command drives random allocations against a fresh
allocator with the default geometry and prints the operation counters
and per-layer occupancy when the workload finishes.

Example:
  layerctl stress --ops 1000000 --goroutines 8
  layerctl stress --max-size 67108864 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStress()
		},
	}
	cmd.Flags().IntVar(&stressFlags.ops, "ops", 100000, "Operations per goroutine")
	cmd.Flags().IntVar(&stressFlags.goroutines, "goroutines", 4, "Concurrent workers")
	cmd.Flags().Uint64Var(&stressFlags.maxSize, "max-size", 1<<20, "Largest request size in bytes")
	cmd.Flags().Int64Var(&stressFlags.seed, "seed", 42, "Workload seed")
	cmd.Flags().IntVar(&stressFlags.reallocPct, "realloc-pct", 20, "Share of non-allocating operations that reallocate instead of freeing (0-100)")
	rootCmd.AddCommand(cmd)
}

type stressReport struct {
	Ops        int                `json:"ops"`
	Goroutines int                `json:"goroutines"`
	Elapsed    string             `json:"elapsed"`
	OpsPerSec  float64            `json:"ops_per_sec"`
	Stats      lalloc.Stats       `json:"stats"`
	Layers     []lalloc.LayerInfo `json:"layers"`
}

func runStress() error {
	a, err := lalloc.New(lalloc.DefaultConfig)
	if err != nil {
		return fmt.Errorf("failed to create allocator: %w", err)
	}
	defer a.Close()

	printVerbose("Running %d ops on %d goroutines, max request %s, seed %d\n",
		stressFlags.ops, stressFlags.goroutines, humanSize(stressFlags.maxSize), stressFlags.seed)

	start := time.Now()
	var wg sync.WaitGroup
	for g := 0; g < stressFlags.goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			stressWorker(a, rand.New(rand.NewSource(stressFlags.seed+int64(g))))
		}(g)
	}
	wg.Wait()
	elapsed := time.Since(start)

	totalOps := stressFlags.ops * stressFlags.goroutines
	report := stressReport{
		Ops:        totalOps,
		Goroutines: stressFlags.goroutines,
		Elapsed:    elapsed.String(),
		OpsPerSec:  float64(totalOps) / elapsed.Seconds(),
		Stats:      a.Stats(),
		Layers:     a.Layers(),
	}

	if jsonOut {
		return printJSON(report)
	}

	printInfo("%d ops in %s (%.0f ops/s)\n\n", report.Ops, report.Elapsed, report.OpsPerSec)
	report.Stats.WriteStats(os.Stdout)
	printInfo("\nLayers touched:\n")
	for _, l := range report.Layers {
		printInfo("  layer %2d  block %9s  in use %6d  frontier %6d\n",
			l.Index, humanSize(l.BlockSize), l.InUse, l.BumpIndex)
	}
	return nil
}

// stressWorker keeps a small working set live and churns it with random
// allocations, reallocations and frees.
func stressWorker(a *lalloc.Allocator, rng *rand.Rand) {
	type block struct {
		ref  lalloc.Ref
		size uint64
	}
	live := make([]block, 0, 64)
	defer func() {
		for _, b := range live {
			_ = a.Free(b.ref)
		}
	}()

	randSize := func() uint64 {
		// Log-uniform so every class gets traffic.
		maxBits := 1
		for uint64(1)<<maxBits < stressFlags.maxSize {
			maxBits++
		}
		return 1 + rng.Uint64()%(uint64(1)<<(1+rng.Intn(maxBits)))
	}

	for i := 0; i < stressFlags.ops; i++ {
		switch {
		case len(live) == 0 || (len(live) < cap(live) && rng.Intn(2) == 0):
			ref, buf, err := a.Alloc(randSize())
			if err != nil {
				continue
			}
			buf[0] = byte(i)
			live = append(live, block{ref: ref, size: uint64(len(buf))})

		case rng.Intn(100) < stressFlags.reallocPct:
			j := rng.Intn(len(live))
			ref, buf, err := a.Realloc(live[j].ref, randSize())
			if err != nil {
				continue
			}
			live[j] = block{ref: ref, size: uint64(len(buf))}

		default:
			j := rng.Intn(len(live))
			_ = a.Free(live[j].ref)
			live[j] = live[len(live)-1]
			live = live[:len(live)-1]
		}
	}
}
