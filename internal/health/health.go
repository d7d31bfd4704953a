// Package health samples the daemon's own resource usage for the
// status surfaces.
package health

import (
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Snapshot is the process health block embedded in status.json and the
// status command output.
type Snapshot struct {
	PID            int       `json:"pid"`
	CPUPercent     float64   `json:"cpu_percent"`
	RSSMB          uint64    `json:"rss_mb"`
	HostMemUsedPct float64   `json:"host_mem_used_pct"`
	Goroutines     int       `json:"goroutines"`
	UptimeSec      int64     `json:"uptime_sec"`
	CollectedAt    time.Time `json:"collected_at"`
}

// Collector samples the running process. Collection is best effort:
// metrics the platform refuses to report stay zero.
type Collector struct {
	proc      *process.Process
	startedAt time.Time
}

// NewCollector builds a collector bound to the current process.
func NewCollector() *Collector {
	p, _ := process.NewProcess(int32(os.Getpid()))
	return &Collector{proc: p, startedAt: time.Now()}
}

// Collect returns a fresh snapshot.
func (c *Collector) Collect() Snapshot {
	snap := Snapshot{
		PID:         os.Getpid(),
		Goroutines:  runtime.NumGoroutine(),
		UptimeSec:   int64(time.Since(c.startedAt).Seconds()),
		CollectedAt: time.Now(),
	}
	if c.proc != nil {
		if pct, err := c.proc.CPUPercent(); err == nil {
			snap.CPUPercent = pct
		}
		if mi, err := c.proc.MemoryInfo(); err == nil && mi != nil {
			snap.RSSMB = mi.RSS / 1024 / 1024
		}
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		snap.HostMemUsedPct = vm.UsedPercent
	}
	return snap
}
