package outbox

import (
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/crewline/crewline/errors"
)

// SystemMetrics tracks resource usage for delivery pool monitoring
type SystemMetrics struct {
	WorkersActive int     `json:"workers_active"`  // Workers currently delivering
	WorkersTotal  int     `json:"workers_total"`   // Total configured workers
	MemoryUsedGB  float64 `json:"memory_used_gb"`  // Current memory usage in GB
	MemoryTotalGB float64 `json:"memory_total_gb"` // Total system memory in GB
	MemoryPercent float64 `json:"memory_percent"`  // Memory utilization percentage
	Queued        int     `json:"queued"`          // Notifications waiting for delivery
	Delivering    int     `json:"delivering"`      // Notifications mid delivery
}

// getMemoryStats returns total and available memory in bytes
func getMemoryStats() (total uint64, available uint64, err error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to get memory stats")
	}
	return v.Total, v.Available, nil
}

// GetSystemMetrics returns current system resource usage
func (wp *WorkerPool) GetSystemMetrics() SystemMetrics {
	total, available, err := getMemoryStats()

	var memUsedGB, memTotalGB, memPercent float64
	if err == nil && total > 0 {
		memTotalGB = float64(total) / 1024 / 1024 / 1024
		memUsedGB = float64(total-available) / 1024 / 1024 / 1024
		memPercent = (memUsedGB / memTotalGB) * 100
	}

	counts, err := wp.queue.Counts()
	if err != nil {
		counts = map[string]int{}
	}

	wp.mu.Lock()
	active := wp.activeWorkers
	wp.mu.Unlock()

	return SystemMetrics{
		WorkersActive: active,
		WorkersTotal:  wp.workers,
		MemoryUsedGB:  memUsedGB,
		MemoryTotalGB: memTotalGB,
		MemoryPercent: memPercent,
		Queued:        counts[string(StatusQueued)],
		Delivering:    counts[string(StatusDelivering)],
	}
}
