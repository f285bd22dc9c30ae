package types

import "time"

// Metric identifies the kind of measurement a rule watches. The named
// constants cover the built-in instrumentation; any other string is a
// custom metric.
type Metric string

const (
	MetricResponseTime   Metric = "RESPONSE_TIME"
	MetricQPS            Metric = "QPS"
	MetricCPUUsage       Metric = "CPU_USAGE"
	MetricMemoryUsage    Metric = "MEMORY_USAGE"
	MetricDatabaseQuery  Metric = "DATABASE_QUERY"
	MetricAPISuccessRate Metric = "API_SUCCESS_RATE"
)

// Condition is the comparison applied between a metric value and a rule's
// threshold.
type Condition string

const (
	GreaterThan Condition = "GREATER_THAN"
	LessThan    Condition = "LESS_THAN"
	EqualTo     Condition = "EQUAL_TO"
)

// Valid reports whether c is one of the known conditions.
func (c Condition) Valid() bool {
	switch c {
	case GreaterThan, LessThan, EqualTo:
		return true
	}
	return false
}

// Symbol returns the operator used when rendering alert messages.
func (c Condition) Symbol() string {
	switch c {
	case GreaterThan:
		return ">"
	case LessThan:
		return "<"
	case EqualTo:
		return "=="
	}
	return "?"
}

type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	}
	return false
}

// AlertRule is a standing threshold definition over a metric.
type AlertRule struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	Metric Metric `json:"metric"`
	// MetricName selects one named series of Metric (for example a route
	// for RESPONSE_TIME). Empty matches every series of that metric.
	MetricName string `json:"metricName,omitempty"`

	Condition Condition `json:"condition"`
	Threshold float64   `json:"threshold"`

	// Duration is how long the condition must hold before the rule fires.
	// Zero fires on the first violating sample.
	Duration time.Duration `json:"duration"`

	Severity Severity  `json:"severity"`
	Enabled  bool      `json:"enabled"`
	Channels []Channel `json:"channels"`
}

type AlertStatus string

const (
	AlertFiring   AlertStatus = "FIRING"
	AlertResolved AlertStatus = "RESOLVED"
	AlertSilenced AlertStatus = "SILENCED"
)

// Open reports whether an alert in status s still counts as the rule's
// active occurrence. Only one open record may exist per rule.
func (s AlertStatus) Open() bool {
	return s == AlertFiring || s == AlertSilenced
}

// AlertRecord is one occurrence of a rule's condition being violated.
type AlertRecord struct {
	ID          string      `json:"id"`
	RuleID      string      `json:"ruleId"`
	Status      AlertStatus `json:"status"`
	Message     string      `json:"message"`
	Value       float64     `json:"value"`
	TriggeredAt time.Time   `json:"triggeredAt"`
	ResolvedAt  *time.Time  `json:"resolvedAt,omitempty"`
}

// Sample is one metric observation emitted by the application's
// instrumentation or scraped from a Prometheus endpoint.
type Sample struct {
	Metric    Metric            `json:"type"`
	Name      string            `json:"name"`
	Value     float64           `json:"value"`
	Unit      string            `json:"unit,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}
