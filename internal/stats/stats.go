// Package stats wraps github.com/Dieterbe/go-metrics the way the teacher
// repo's internal stats package is used from aggregator/aggregator.go
// (stats.Counter("unit=Metric.direction=in.aggregator=" + a.Key)):
// dot-separated "tag=value" metric names registered against one shared
// metrics.Registry.
package stats

import (
	metrics "github.com/Dieterbe/go-metrics"
)

var registry = metrics.NewRegistry()

// Registry exposes the shared registry, e.g. for an /metrics reporter.
func Registry() metrics.Registry {
	return registry
}

// Counter returns (creating if needed) a named counter.
func Counter(name string) metrics.Counter {
	return metrics.GetOrRegisterCounter(name, registry)
}

// Gauge returns (creating if needed) a named gauge.
func Gauge(name string) metrics.Gauge {
	return metrics.GetOrRegisterGauge(name, registry)
}

// Timer returns (creating if needed) a named timer.
func Timer(name string) metrics.Timer {
	return metrics.GetOrRegisterTimer(name, registry)
}
