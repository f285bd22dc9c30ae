package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/obsidianstack/alertd/pkg/types"
)

// HostCollector records this machine's CPU_USAGE and MEMORY_USAGE (both in
// percent) into a Buffer.
type HostCollector struct {
	name     string
	interval time.Duration
	buf      *Buffer
	now      func() time.Time

	cpuTimes func(ctx context.Context) ([]cpu.TimesStat, error)
	memory   func(ctx context.Context) (*mem.VirtualMemoryStat, error)

	prev *cpu.TimesStat
}

// NewHostCollector creates a collector recording samples named name.
func NewHostCollector(name string, interval time.Duration, buf *Buffer) *HostCollector {
	return &HostCollector{
		name:     name,
		interval: interval,
		buf:      buf,
		now:      time.Now,
		cpuTimes: func(ctx context.Context) ([]cpu.TimesStat, error) { return cpu.TimesWithContext(ctx, false) },
		memory:   mem.VirtualMemoryWithContext,
	}
}

// Run collects immediately and then every interval until ctx is cancelled.
func (h *HostCollector) Run(ctx context.Context) {
	h.collectAndLog(ctx)

	t := time.NewTicker(h.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			h.collectAndLog(ctx)
		}
	}
}

func (h *HostCollector) collectAndLog(ctx context.Context) {
	n, err := h.Collect(ctx)
	if err != nil {
		slog.Warn("metrics: host collect failed", "err", err)
	}
	slog.Debug("metrics: host collected", "samples", n)
}

// Collect takes one reading. CPU usage is a delta against the previous
// reading, so the first call records memory only.
func (h *HostCollector) Collect(ctx context.Context) (int, error) {
	now := h.now()
	var samples []types.Sample
	var firstErr error

	times, err := h.cpuTimes(ctx)
	switch {
	case err != nil:
		firstErr = fmt.Errorf("cpu times: %w", err)
	case len(times) > 0:
		cur := times[0]
		if h.prev != nil {
			if pct, ok := busyPercent(*h.prev, cur); ok {
				samples = append(samples, h.sample(types.MetricCPUUsage, pct, now))
			}
		}
		h.prev = &cur
	}

	vm, err := h.memory(ctx)
	if err != nil {
		if firstErr == nil {
			firstErr = fmt.Errorf("virtual memory: %w", err)
		}
	} else {
		samples = append(samples, h.sample(types.MetricMemoryUsage, vm.UsedPercent, now))
	}

	h.buf.Add(samples...)
	return len(samples), firstErr
}

func (h *HostCollector) sample(m types.Metric, v float64, at time.Time) types.Sample {
	return types.Sample{Metric: m, Name: h.name, Value: v, Unit: "%", Timestamp: at}
}

// busyPercent is the non-idle share of CPU time between two readings.
func busyPercent(prev, cur cpu.TimesStat) (float64, bool) {
	idle := (cur.Idle - prev.Idle) + (cur.Iowait - prev.Iowait)
	busy := (cur.User - prev.User) + (cur.System - prev.System) +
		(cur.Nice - prev.Nice) + (cur.Irq - prev.Irq) +
		(cur.Softirq - prev.Softirq) + (cur.Steal - prev.Steal)
	total := idle + busy
	if total <= 0 {
		return 0, false
	}
	return busy / total * 100, true
}
