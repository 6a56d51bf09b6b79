package pools

import (
	"runtime"
	"runtime/debug"
	"time"
)

// GCConfig holds GC tuning parameters
type GCConfig struct {
	// GOGC sets the garbage collection target percentage; 0 leaves it alone.
	GOGC int

	// MemoryLimit sets a soft memory limit in bytes; 0 = no limit
	MemoryLimit int64
}

// ApplyGCConfig applies cfg and returns the previous GC percentage
func ApplyGCConfig(cfg GCConfig) int {
	prev := debug.SetGCPercent(-1)
	debug.SetGCPercent(prev)

	if cfg.GOGC > 0 {
		prev = debug.SetGCPercent(cfg.GOGC)
	}
	if cfg.MemoryLimit > 0 {
		debug.SetMemoryLimit(cfg.MemoryLimit)
	}
	return prev
}

// GCStats holds garbage collection statistics
type GCStats struct {
	NumGC        uint32        `json:"num_gc"`
	PauseTotal   time.Duration `json:"pause_total"`
	LastPause    time.Duration `json:"last_pause"`
	AvgPause     time.Duration `json:"avg_pause"`
	AllocBytes   uint64        `json:"alloc_bytes"`
	TotalAlloc   uint64        `json:"total_alloc"`
	Sys          uint64        `json:"sys"`
	NumGoroutine int           `json:"num_goroutine"`
}

// GetGCStats returns current GC statistics
func GetGCStats() GCStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	stats := GCStats{
		NumGC:        ms.NumGC,
		AllocBytes:   ms.Alloc,
		TotalAlloc:   ms.TotalAlloc,
		Sys:          ms.Sys,
		NumGoroutine: runtime.NumGoroutine(),
	}

	if ms.NumGC > 0 {
		stats.LastPause = time.Duration(ms.PauseNs[(ms.NumGC+255)%256])

		numPauses := min(ms.NumGC, 256)
		var totalPause uint64
		for i := uint32(0); i < numPauses; i++ {
			totalPause += ms.PauseNs[i]
		}

		stats.PauseTotal = time.Duration(totalPause)
		stats.AvgPause = time.Duration(totalPause / uint64(numPauses))
	}

	return stats
}
