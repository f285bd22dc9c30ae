package metrics

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/obsidianstack/alertd/pkg/types"
)

// DefaultMaxPerSeries caps how many samples one series keeps.
const DefaultMaxPerSeries = 4096

type seriesKey struct {
	metric types.Metric
	name   string
}

// Buffer is a thread-safe in-memory sample store with retention-based
// eviction. It implements alerts.Source.
type Buffer struct {
	mu        sync.RWMutex
	series    map[seriesKey][]types.Sample
	retention time.Duration
	maxLen    int
	now       func() time.Time // injectable for deterministic tests
}

// NewBuffer creates a Buffer that keeps samples for retention.
func NewBuffer(retention time.Duration) *Buffer {
	return &Buffer{
		series:    make(map[seriesKey][]types.Sample),
		retention: retention,
		maxLen:    DefaultMaxPerSeries,
		now:       time.Now,
	}
}

// Add records samples. A zero Timestamp is set to the current time.
// Out-of-order samples are inserted in timestamp order.
func (b *Buffer) Add(samples ...types.Sample) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range samples {
		if s.Timestamp.IsZero() {
			s.Timestamp = b.now()
		}
		k := seriesKey{metric: s.Metric, name: s.Name}
		cur := b.series[k]

		i := sort.Search(len(cur), func(i int) bool { return cur[i].Timestamp.After(s.Timestamp) })
		cur = append(cur, types.Sample{})
		copy(cur[i+1:], cur[i:])
		cur[i] = s

		if len(cur) > b.maxLen {
			cur = cur[len(cur)-b.maxLen:]
		}
		b.series[k] = cur
	}
}

// Samples returns samples of metric at or after since, oldest first.
//
// An empty name aggregates every series of metric: one sample is emitted
// per distinct timestamp, valued at the mean of each series' latest sample
// at or before that instant.
func (b *Buffer) Samples(_ context.Context, metric types.Metric, name string, since time.Time) ([]types.Sample, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var matched [][]types.Sample
	for k, series := range b.series {
		if k.metric != metric || (name != "" && k.name != name) {
			continue
		}
		i := sort.Search(len(series), func(i int) bool { return !series[i].Timestamp.Before(since) })
		if i < len(series) {
			matched = append(matched, series[i:])
		}
	}
	if name != "" {
		if len(matched) == 0 {
			return nil, nil
		}
		return append([]types.Sample(nil), matched[0]...), nil
	}
	return aggregateSeries(metric, matched), nil
}

// aggregateSeries merges time-ordered series into one mean series.
func aggregateSeries(metric types.Metric, series [][]types.Sample) []types.Sample {
	var stamps []time.Time
	for _, s := range series {
		for _, smp := range s {
			stamps = append(stamps, smp.Timestamp)
		}
	}
	sort.Slice(stamps, func(i, j int) bool { return stamps[i].Before(stamps[j]) })

	next := make([]int, len(series))
	var out []types.Sample
	for i, at := range stamps {
		if i > 0 && at.Equal(stamps[i-1]) {
			continue
		}
		var sum float64
		var n int
		unit := ""
		for j, s := range series {
			for next[j] < len(s) && !s[next[j]].Timestamp.After(at) {
				next[j]++
			}
			if next[j] == 0 {
				continue
			}
			latest := s[next[j]-1]
			sum += latest.Value
			unit = latest.Unit
			n++
		}
		out = append(out, types.Sample{Metric: metric, Value: sum / float64(n), Unit: unit, Timestamp: at})
	}
	return out
}

// Count returns the number of samples held across all series.
func (b *Buffer) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, s := range b.series {
		n += len(s)
	}
	return n
}

// Evict removes samples older than now minus retention and drops empty
// series. It returns the number of samples removed.
func (b *Buffer) Evict(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	cutoff := now.Add(-b.retention)
	removed := 0
	for k, series := range b.series {
		i := sort.Search(len(series), func(i int) bool { return series[i].Timestamp.After(cutoff) })
		removed += i
		if i == len(series) {
			delete(b.series, k)
			continue
		}
		b.series[k] = series[i:]
	}
	return removed
}

// Run starts the eviction loop, ticking at a tenth of the retention
// (minimum 1 second). It blocks until ctx is cancelled.
func (b *Buffer) Run(ctx context.Context) {
	interval := b.retention / 10
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := b.Evict(now); n > 0 {
				slog.Debug("metrics: evicted old samples", "count", n)
			}
		}
	}
}
