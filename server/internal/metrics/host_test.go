package metrics

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/obsidianstack/alertd/pkg/types"
)

func fakeHost(buf *Buffer, readings [][]cpu.TimesStat, used float64) *HostCollector {
	h := NewHostCollector("web-1", time.Second, buf)
	h.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	i := 0
	h.cpuTimes = func(context.Context) ([]cpu.TimesStat, error) {
		r := readings[i]
		if i < len(readings)-1 {
			i++
		}
		return r, nil
	}
	h.memory = func(context.Context) (*mem.VirtualMemoryStat, error) {
		return &mem.VirtualMemoryStat{UsedPercent: used}, nil
	}
	return h
}

func TestHostCollector_CPUDelta(t *testing.T) {
	buf := NewBuffer(time.Hour)
	buf.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	h := fakeHost(buf, [][]cpu.TimesStat{
		{{User: 100, System: 50, Idle: 850}},
		{{User: 160, System: 70, Idle: 870}},
	}, 63.5)
	ctx := context.Background()

	n, err := h.Collect(ctx)
	if err != nil {
		t.Fatalf("first Collect: %v", err)
	}
	if n != 1 {
		t.Errorf("first Collect: got %d samples, want 1 (memory only)", n)
	}

	if _, err := h.Collect(ctx); err != nil {
		t.Fatalf("second Collect: %v", err)
	}
	got, _ := buf.Samples(ctx, types.MetricCPUUsage, "web-1", time.Time{})
	if len(got) != 1 {
		t.Fatalf("cpu samples: got %d, want 1", len(got))
	}
	// busy delta 80 of total 100
	if math.Abs(got[0].Value-80) > 1e-9 {
		t.Errorf("cpu usage: got %v, want 80", got[0].Value)
	}
	memSamples, _ := buf.Samples(ctx, types.MetricMemoryUsage, "web-1", time.Time{})
	if len(memSamples) != 2 || memSamples[0].Value != 63.5 || memSamples[0].Unit != "%" {
		t.Errorf("memory samples: got %+v", memSamples)
	}
}

func TestHostCollector_CPUError(t *testing.T) {
	buf := NewBuffer(time.Hour)
	h := fakeHost(buf, nil, 10)
	h.cpuTimes = func(context.Context) ([]cpu.TimesStat, error) { return nil, errors.New("no /proc") }

	n, err := h.Collect(context.Background())
	if err == nil {
		t.Error("expected error from cpu reader")
	}
	if n != 1 {
		t.Errorf("samples: got %d, want 1 (memory still recorded)", n)
	}
}

func TestBusyPercent_NoElapsedTime(t *testing.T) {
	s := cpu.TimesStat{User: 1, Idle: 1}
	if _, ok := busyPercent(s, s); ok {
		t.Error("identical readings should not produce a value")
	}
}
