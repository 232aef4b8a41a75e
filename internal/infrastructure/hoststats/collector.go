package hoststats

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

const DefaultCacheTTL = 5 * time.Second

type Stats struct {
	CPUUsage    float64   `json:"cpuUsage"`
	RAMUsage    float64   `json:"ramUsage"`
	RAMTotal    uint64    `json:"ramTotal"`
	RAMUsed     uint64    `json:"ramUsed"`
	Uptime      uint64    `json:"uptime"`
	Hostname    string    `json:"hostname"`
	Platform    string    `json:"platform"`
	Goroutines  int       `json:"goroutines"`
	CollectedAt time.Time `json:"collectedAt"`
}

// Collector samples host metrics. Samples are cached for ttl so frequent
// status polling does not hammer the host.
type Collector struct {
	ttl  time.Duration
	now  func() time.Time
	mu   sync.Mutex
	last *Stats
}

func NewCollector(ttl time.Duration) *Collector {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Collector{ttl: ttl, now: time.Now}
}

// Collect returns the cached sample if it is fresh, otherwise takes a new
// one. Individual probes that fail leave their fields zero.
func (c *Collector) Collect(ctx context.Context) (*Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.last != nil && c.now().Sub(c.last.CollectedAt) < c.ttl {
		cached := *c.last
		return &cached, nil
	}

	stats := &Stats{
		CollectedAt: c.now(),
		Goroutines:  runtime.NumGoroutine(),
	}

	// interval 0 compares against the previous call instead of sleeping
	if cpuPercent, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(cpuPercent) > 0 {
		stats.CPUUsage = cpuPercent[0]
	}

	if memInfo, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		stats.RAMUsage = memInfo.UsedPercent
		stats.RAMTotal = memInfo.Total
		stats.RAMUsed = memInfo.Used
	}

	if hostInfo, err := host.InfoWithContext(ctx); err == nil {
		stats.Uptime = hostInfo.Uptime
		stats.Hostname = hostInfo.Hostname
		stats.Platform = hostInfo.Platform
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.last = stats
	cached := *stats
	return &cached, nil
}
