package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all spawnguard metric instruments.
type Metrics struct {
	ChecksTotal      metric.Int64Counter
	Denials          metric.Int64Counter
	Warnings         metric.Int64Counter
	Anomalies        metric.Int64Counter
	Suggestions      metric.Int64Counter
	LockTimeouts     metric.Int64Counter
	CheckDuration    metric.Float64Histogram
	LockWaitDuration metric.Float64Histogram
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.ChecksTotal, err = meter.Int64Counter("spawnguard.checks",
		metric.WithDescription("Check invocations by engine"),
	)
	if err != nil {
		return nil, err
	}

	m.Denials, err = meter.Int64Counter("spawnguard.guard.denials",
		metric.WithDescription("Guard deny decisions"),
	)
	if err != nil {
		return nil, err
	}

	m.Warnings, err = meter.Int64Counter("spawnguard.guard.warnings",
		metric.WithDescription("Guard warn decisions"),
	)
	if err != nil {
		return nil, err
	}

	m.Anomalies, err = meter.Int64Counter("spawnguard.anomalies",
		metric.WithDescription("Detected anomalies by type"),
	)
	if err != nil {
		return nil, err
	}

	m.Suggestions, err = meter.Int64Counter("spawnguard.reroute.suggestions",
		metric.WithDescription("Rerouter suggestions by kind"),
	)
	if err != nil {
		return nil, err
	}

	m.LockTimeouts, err = meter.Int64Counter("spawnguard.lock.timeouts",
		metric.WithDescription("State lock acquisitions that exceeded the wait budget"),
	)
	if err != nil {
		return nil, err
	}

	m.CheckDuration, err = meter.Float64Histogram("spawnguard.check.duration",
		metric.WithDescription("Check duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.LockWaitDuration, err = meter.Float64Histogram("spawnguard.lock.wait",
		metric.WithDescription("State lock wait in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
