package sysinfo

import (
	"bufio"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
)

const gb = 1024 * 1024 * 1024

// Metrics describes the host as reported by the health endpoint
type Metrics struct {
	CPUCount        int     `json:"cpu_count"`
	MemoryTotalGB   float64 `json:"memory_total_gb,omitempty"`
	MemoryUsedGB    float64 `json:"memory_used_gb,omitempty"`
	MemoryFreeGB    float64 `json:"memory_free_gb,omitempty"`
	DiskTotalGB     float64 `json:"disk_total_gb"`
	DiskUsedGB      float64 `json:"disk_used_gb"`
	DiskAvailableGB float64 `json:"disk_available_gb"`
	DiskUsedPercent float64 `json:"disk_used_percent"`
}

// GetMetrics returns CPU and memory figures for the host and disk figures
// for the filesystem holding dir. Missing /proc/meminfo leaves memory at zero.
func GetMetrics(dir string) (Metrics, error) {
	metrics := Metrics{
		CPUCount: runtime.NumCPU(),
	}

	if err := getMemoryInfo("/proc/meminfo", &metrics); err != nil && !os.IsNotExist(err) {
		return metrics, fmt.Errorf("failed to get memory info: %w", err)
	}

	if err := getDiskInfo(dir, &metrics); err != nil {
		return metrics, fmt.Errorf("failed to get disk info: %w", err)
	}

	return metrics, nil
}

// getMemoryInfo reads memory information from a meminfo file
func getMemoryInfo(path string, metrics *Metrics) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	var memTotal, memAvailable float64
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}

		value, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			continue
		}

		switch {
		case strings.HasPrefix(line, "MemTotal:"):
			memTotal = value / (1024 * 1024) // KB to GB
		case strings.HasPrefix(line, "MemAvailable:"):
			memAvailable = value / (1024 * 1024) // KB to GB
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading %s: %w", path, err)
	}

	metrics.MemoryTotalGB = memTotal
	metrics.MemoryFreeGB = memAvailable
	metrics.MemoryUsedGB = memTotal - memAvailable

	return nil
}

func setDisk(metrics *Metrics, total, available uint64) {
	metrics.DiskTotalGB = float64(total) / gb
	metrics.DiskAvailableGB = float64(available) / gb
	metrics.DiskUsedGB = metrics.DiskTotalGB - metrics.DiskAvailableGB
	if metrics.DiskTotalGB > 0 {
		metrics.DiskUsedPercent = (metrics.DiskUsedGB / metrics.DiskTotalGB) * 100
	}
}
