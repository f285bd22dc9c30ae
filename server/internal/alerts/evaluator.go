package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/obsidianstack/alertd/pkg/types"
)

// DefaultLookback bounds how old a sample may be and still count as the
// rule's current value.
const DefaultLookback = 5 * time.Minute

// Source supplies recent metric samples, oldest first. An empty name
// yields one aggregated series over every name of metric.
type Source interface {
	Samples(ctx context.Context, metric types.Metric, name string, since time.Time) ([]types.Sample, error)
}

// Evaluator drives the engine on a fixed interval.
type Evaluator struct {
	engine   *Engine
	source   Source
	interval time.Duration
	lookback time.Duration
	now      func() time.Time
}

// NewEvaluator creates an Evaluator that ticks every interval.
func NewEvaluator(engine *Engine, source Source, interval time.Duration) *Evaluator {
	return &Evaluator{
		engine:   engine,
		source:   source,
		interval: interval,
		lookback: DefaultLookback,
		now:      time.Now,
	}
}

// Run evaluates all rules every interval until ctx is cancelled. Tick
// failures are logged; the next tick retries.
func (ev *Evaluator) Run(ctx context.Context) {
	t := time.NewTicker(ev.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := ev.Tick(ctx); err != nil {
				slog.Error("alerts: evaluation tick failed", "err", err)
			}
		}
	}
}

// Tick evaluates every enabled rule once. Failing to load rules fails the
// whole tick; a failure on one rule is reported but does not stop the
// others.
func (ev *Evaluator) Tick(ctx context.Context) error {
	rules, err := ev.engine.LoadRules(ctx)
	if err != nil {
		return fmt.Errorf("alerts: load rules: %w", err)
	}

	now := ev.now()
	var errs []error
	for _, rule := range rules {
		if err := ev.evaluate(ctx, rule, now); err != nil {
			errs = append(errs, fmt.Errorf("rule %q: %w", rule.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (ev *Evaluator) evaluate(ctx context.Context, rule types.AlertRule, now time.Time) error {
	since := now.Add(-ev.lookback - rule.Duration)
	samples, err := ev.source.Samples(ctx, rule.Metric, rule.MetricName, since)
	if err != nil {
		return fmt.Errorf("read samples: %w", err)
	}

	st, value := assess(rule, samples, now)
	switch st {
	case stateFiring:
		_, err = ev.engine.TriggerAlert(ctx, rule, value)
	case stateNormal:
		_, err = ev.engine.ResolveAlert(ctx, rule, value)
	default:
		slog.Debug("alerts: rule not decided", "rule", rule.ID, "state", st)
	}
	return err
}
