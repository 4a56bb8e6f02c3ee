package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joshuapare/layerkit/internal/vmem"
	"github.com/joshuapare/layerkit/lalloc"
)

func init() {
	rootCmd.AddCommand(newInfoCmd())
}

func newInfoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Report host virtual-memory capabilities and the default geometry",
		Long: `The info command reports the host's page size, physical memory and
remap capability, together with the allocator's default geometry.

Example:
  layerctl info
  layerctl info --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfo()
		},
	}
	return cmd
}

type hostInfo struct {
	PageSize        uint64 `json:"page_size"`
	PhysicalMemory  uint64 `json:"physical_memory"`
	RemapSupported  bool   `json:"remap_supported"`
	MinBlockSize    uint64 `json:"min_block_size"`
	MaxBlockSize    uint64 `json:"max_block_size"`
	LayerCount      int    `json:"layer_count"`
	LayerSpan       uint64 `json:"layer_span"`
	ReserveSize     uint64 `json:"reserve_size"`
	MemcpyThreshold uint64 `json:"memcpy_threshold"`
}

func runInfo() error {
	total, err := vmem.MemTotal()
	if err != nil {
		return fmt.Errorf("failed to read physical memory: %w", err)
	}

	cfg := lalloc.DefaultConfig
	info := hostInfo{
		PageSize:        vmem.PageSize(),
		PhysicalMemory:  total,
		RemapSupported:  vmem.RemapSupported(),
		MinBlockSize:    cfg.MinBlockSize,
		MaxBlockSize:    cfg.MaxBlockSize(),
		LayerCount:      cfg.LayerCount,
		LayerSpan:       cfg.LayerSpan(),
		ReserveSize:     cfg.ReserveSize(),
		MemcpyThreshold: cfg.MemcpyThreshold,
	}

	if jsonOut {
		return printJSON(info)
	}

	printInfo("Host:\n")
	printInfo("  Page size: %d bytes\n", info.PageSize)
	printInfo("  Physical memory: %s\n", humanSize(info.PhysicalMemory))
	printInfo("  Remap supported: %t\n", info.RemapSupported)
	printInfo("\nDefault geometry:\n")
	printInfo("  Classes: %s .. %s across %d layers\n",
		humanSize(info.MinBlockSize), humanSize(info.MaxBlockSize), info.LayerCount)
	printInfo("  Layer span: %s\n", humanSize(info.LayerSpan))
	printInfo("  Reservation: %s of virtual address space\n", humanSize(info.ReserveSize))
	printInfo("  Copy/remap threshold: %s\n", humanSize(info.MemcpyThreshold))

	printVerbose("\nLayers:\n")
	block := cfg.MinBlockSize
	for i := 0; i < cfg.LayerCount; i++ {
		printVerbose("  layer %2d  block %9s  capacity %d\n",
			i, humanSize(block), cfg.LayerSpan()/block)
		block *= 2
	}
	return nil
}

func humanSize(n uint64) string {
	switch {
	case n >= 1<<40:
		return fmt.Sprintf("%.1f TiB", float64(n)/(1<<40))
	case n >= 1<<30:
		return fmt.Sprintf("%.1f GiB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
