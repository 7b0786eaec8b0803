package stats

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCounterIsSharedAcrossCallsWithSameName(t *testing.T) {
	name := "unit=Test.direction=in.stats=counterSharing"
	Counter(name).Inc(1)
	Counter(name).Inc(2)
	require.EqualValues(t, 3, Counter(name).Count())
}

func TestGaugeIsSharedAcrossCallsWithSameName(t *testing.T) {
	name := "unit=Test.direction=in.stats=gaugeSharing"
	Gauge(name).Update(42)
	require.EqualValues(t, 42, Gauge(name).Value())
}

func TestRegistryContainsRegisteredMetrics(t *testing.T) {
	name := "unit=Test.direction=in.stats=registryVisibility"
	Counter(name).Inc(1)

	found := false
	Registry().Each(func(n string, _ interface{}) {
		if n == name {
			found = true
		}
	})
	require.True(t, found)
}
