package alerts

import (
	"time"

	"github.com/obsidianstack/alertd/pkg/types"
)

// EvaluateRule reports whether value violates rule. Comparison is exact;
// there is no tolerance for EQUAL_TO.
func EvaluateRule(rule types.AlertRule, value float64) bool {
	switch rule.Condition {
	case types.GreaterThan:
		return value > rule.Threshold
	case types.LessThan:
		return value < rule.Threshold
	case types.EqualTo:
		return value == rule.Threshold
	default:
		return false
	}
}

// state is the outcome of assessing a rule against a sample series.
type state int

const (
	stateNoData state = iota
	stateNormal
	statePending
	stateFiring
)

func (s state) String() string {
	switch s {
	case stateNormal:
		return "normal"
	case statePending:
		return "pending"
	case stateFiring:
		return "firing"
	default:
		return "no_data"
	}
}

// assess decides the rule state from samples ordered oldest first.
//
// The latest sample decides normal vs violated. A violated rule with a zero
// Duration fires immediately. Otherwise it fires only when the series
// reaches back to now-Duration and every sample inside that window violates
// the condition; until then it is pending.
func assess(rule types.AlertRule, samples []types.Sample, now time.Time) (state, float64) {
	if len(samples) == 0 {
		return stateNoData, 0
	}
	latest := samples[len(samples)-1].Value
	if !EvaluateRule(rule, latest) {
		return stateNormal, latest
	}
	if rule.Duration <= 0 {
		return stateFiring, latest
	}

	windowStart := now.Add(-rule.Duration)
	if samples[0].Timestamp.After(windowStart) {
		return statePending, latest
	}
	for _, s := range samples {
		if s.Timestamp.Before(windowStart) {
			continue
		}
		if !EvaluateRule(rule, s.Value) {
			return statePending, latest
		}
	}
	return stateFiring, latest
}
