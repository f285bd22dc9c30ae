package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/obsidianstack/alertd/pkg/types"
)

// fixedClock returns a func() time.Time that always returns t.
func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sample(name string, v float64, at time.Time) types.Sample {
	return types.Sample{Metric: types.MetricResponseTime, Name: name, Value: v, Timestamp: at}
}

func TestBuffer_SamplesOrderedAndFiltered(t *testing.T) {
	b := NewBuffer(time.Hour)
	b.Add(
		sample("/users", 3, base.Add(3*time.Second)),
		sample("/users", 1, base.Add(1*time.Second)), // out of order
		sample("/orders", 2, base.Add(2*time.Second)),
		types.Sample{Metric: types.MetricQPS, Name: "/users", Value: 99, Timestamp: base},
	)

	got, err := b.Samples(context.Background(), types.MetricResponseTime, "/users", base)
	if err != nil {
		t.Fatalf("Samples: %v", err)
	}
	if len(got) != 2 || got[0].Value != 1 || got[1].Value != 3 {
		t.Fatalf("named series: got %+v, want values 1 then 3", got)
	}

	all, _ := b.Samples(context.Background(), types.MetricResponseTime, "", base)
	if len(all) != 3 {
		t.Fatalf("merged series: got %d samples, want 3", len(all))
	}
	// /users=1; /users=1,/orders=2; /users=3,/orders=2
	for i, want := range []float64{1, 1.5, 2.5} {
		if all[i].Value != want {
			t.Errorf("merged[%d]: got %v, want %v", i, all[i].Value, want)
		}
	}

	recent, _ := b.Samples(context.Background(), types.MetricResponseTime, "/users", base.Add(2*time.Second))
	if len(recent) != 1 || recent[0].Value != 3 {
		t.Errorf("since filter: got %+v", recent)
	}
}

func TestBuffer_EmptyNameAveragesInterleavedSeries(t *testing.T) {
	b := NewBuffer(time.Hour)
	b.Add(
		sample("/slow", 5000, base.Add(-2*time.Second)),
		sample("/fast", 10, base.Add(-1*time.Second)),
		sample("/slow", 4000, base),
	)

	got, err := b.Samples(context.Background(), types.MetricResponseTime, "", base.Add(-time.Minute))
	if err != nil {
		t.Fatalf("Samples: %v", err)
	}
	want := []float64{5000, 2505, 2005}
	if len(got) != len(want) {
		t.Fatalf("got %d samples, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i].Value != want[i] {
			t.Errorf("aggregated[%d]: got %v, want %v", i, got[i].Value, want[i])
		}
	}
	if !got[2].Timestamp.Equal(base) {
		t.Errorf("last timestamp: got %v, want %v", got[2].Timestamp, base)
	}
}

func TestBuffer_SameTimestampCollapses(t *testing.T) {
	b := NewBuffer(time.Hour)
	b.Add(sample("/a", 10, base), sample("/b", 30, base))

	got, _ := b.Samples(context.Background(), types.MetricResponseTime, "", base)
	if len(got) != 1 || got[0].Value != 20 {
		t.Fatalf("got %+v, want one sample valued 20", got)
	}
}

func TestBuffer_ZeroTimestampUsesClock(t *testing.T) {
	b := NewBuffer(time.Hour)
	b.now = fixedClock(base)
	b.Add(types.Sample{Metric: types.MetricQPS, Value: 5})

	got, _ := b.Samples(context.Background(), types.MetricQPS, "", base)
	if len(got) != 1 || !got[0].Timestamp.Equal(base) {
		t.Fatalf("got %+v, want one sample stamped %v", got, base)
	}
}

func TestBuffer_MaxPerSeries(t *testing.T) {
	b := NewBuffer(time.Hour)
	b.maxLen = 3
	for i := 0; i < 5; i++ {
		b.Add(sample("x", float64(i), base.Add(time.Duration(i)*time.Second)))
	}
	got, _ := b.Samples(context.Background(), types.MetricResponseTime, "x", time.Time{})
	if len(got) != 3 || got[0].Value != 2 {
		t.Errorf("capped series: got %+v, want last three", got)
	}
}

func TestBuffer_Evict(t *testing.T) {
	b := NewBuffer(5 * time.Minute)
	b.Add(
		sample("a", 1, base.Add(-10*time.Minute)),
		sample("a", 2, base.Add(-1*time.Minute)),
		sample("b", 3, base.Add(-6*time.Minute)),
	)

	if n := b.Evict(base); n != 2 {
		t.Errorf("Evict: removed %d, want 2", n)
	}
	if c := b.Count(); c != 1 {
		t.Errorf("Count after evict: got %d, want 1", c)
	}
	if got, _ := b.Samples(context.Background(), types.MetricResponseTime, "b", time.Time{}); len(got) != 0 {
		t.Errorf("series b should be gone, got %+v", got)
	}
}

func TestBuffer_RunStopsOnCancel(t *testing.T) {
	b := NewBuffer(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
