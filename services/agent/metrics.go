package agent

import (
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// Metrics is one heartbeat's worth of resource gauges. Peek values are the
// high-water marks since the agent started.
type Metrics struct {
	CPUPercent     float64 `json:"cpuPercent"`
	CPUPercentPeek float64 `json:"cpuPercentPeek"`
	RAMMbUsed      uint64  `json:"ramMbUsed"`
	RAMMbTotal     uint64  `json:"ramMbTotal"`
	RAMMbPeek      uint64  `json:"ramMbPeek"`
	StorageMbUsed  uint64  `json:"storageMbUsed"`
	StorageMbTotal uint64  `json:"storageMbTotal"`
}

// collector samples host gauges and tracks high-water marks across samples.
type collector struct {
	mountpoint string
	cpuPeek    float64
	ramPeek    uint64
	samplers   samplers
}

type samplers struct {
	cpuPercent    func() ([]float64, error)
	virtualMemory func() (*mem.VirtualMemoryStat, error)
	diskUsage     func(path string) (*disk.UsageStat, error)
}

func newCollector(mountpoint string) *collector {
	if mountpoint == "" {
		mountpoint = "/"
	}
	return &collector{
		mountpoint: mountpoint,
		samplers: samplers{
			cpuPercent:    func() ([]float64, error) { return cpu.Percent(0, false) },
			virtualMemory: mem.VirtualMemory,
			diskUsage:     disk.Usage,
		},
	}
}

const mb = 1024 * 1024

// sample reads the current gauges. A failed subsystem zeroes its fields
// rather than failing the whole heartbeat.
func (c *collector) sample() Metrics {
	var m Metrics

	if percents, err := c.samplers.cpuPercent(); err == nil && len(percents) > 0 {
		m.CPUPercent = percents[0]
	}
	if m.CPUPercent > c.cpuPeek {
		c.cpuPeek = m.CPUPercent
	}
	m.CPUPercentPeek = c.cpuPeek

	if vm, err := c.samplers.virtualMemory(); err == nil {
		m.RAMMbUsed = vm.Used / mb
		m.RAMMbTotal = vm.Total / mb
	}
	if m.RAMMbUsed > c.ramPeek {
		c.ramPeek = m.RAMMbUsed
	}
	m.RAMMbPeek = c.ramPeek

	if du, err := c.samplers.diskUsage(c.mountpoint); err == nil {
		m.StorageMbUsed = du.Used / mb
		m.StorageMbTotal = du.Total / mb
	}

	return m
}
