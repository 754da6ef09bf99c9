package pipeline

import (
	"context"
	"runtime"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

// HostStats is the host capacity used to size the frame exchange.
type HostStats struct {
	CPUCores             int     `json:"cpu_cores"`
	MemoryTotalBytes     uint64  `json:"memory_total_bytes"`
	MemoryAvailableBytes uint64  `json:"memory_available_bytes"`
	LoadAvg1M            float64 `json:"load_avg_1m"`
}

// CollectHostStats reads the host statistics. Fields that cannot be read
// are left zero, except CPUCores which falls back to the Go runtime count.
func CollectHostStats(ctx context.Context) HostStats {
	stats := HostStats{CPUCores: runtime.NumCPU()}

	if cores, err := cpu.CountsWithContext(ctx, true); err == nil && cores > 0 {
		stats.CPUCores = cores
	}

	if memInfo, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		stats.MemoryTotalBytes = memInfo.Total
		stats.MemoryAvailableBytes = memInfo.Available
	}

	if loadAvg, err := load.AvgWithContext(ctx); err == nil {
		stats.LoadAvg1M = loadAvg.Load1
	}

	return stats
}

// FrameWorkers resolves the configured worker count for one media kind.
// -1 gives each kind half of the logical cores, at least one.
func (h HostStats) FrameWorkers(configured int) int {
	if configured >= 0 {
		return configured
	}
	return max(1, h.CPUCores/2)
}

// Slots caps the requested slot count so the slot buffers of both kinds fit
// within maxMemory and a quarter of the available host memory. At least
// one slot is always kept.
func (h HostStats) Slots(requested, bytesPerSlot int, maxMemory int64) int {
	if bytesPerSlot <= 0 || requested <= 1 {
		return max(requested, 1)
	}
	budget := maxMemory
	if avail := int64(h.MemoryAvailableBytes / 4); avail > 0 && (budget <= 0 || avail < budget) {
		budget = avail
	}
	if budget <= 0 {
		return requested
	}
	fit := int(budget / int64(bytesPerSlot))
	return max(1, min(requested, fit))
}
