package rollup

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fixedClock returns a manually-advanceable clock.Source.
type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fixedClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func TestOfferRejectsNonMatchingKey(t *testing.T) {
	clk := &fixedClock{t: time.Unix(1000, 0)}
	tick := make(chan time.Time)
	r, err := NewMocked("test", "avg", `^hosts\.`, "", 60, 10, false, func(string, int64, string) {}, clk.now, tick)
	require.NoError(t, err)
	defer r.Shutdown()

	require.False(t, r.Offer("other.key", 1000000, "1"))
	require.True(t, r.Offer("hosts.web1.load", 1000000, "1"))
}

func TestFlushEmitsAveragedWindow(t *testing.T) {
	clk := &fixedClock{t: time.Unix(10000, 0)}
	tick := make(chan time.Time)

	var mu sync.Mutex
	var got []string
	out := func(key string, tsMillis int64, value string) {
		mu.Lock()
		got = append(got, key+"="+value)
		mu.Unlock()
	}

	r, err := NewMocked("test", "avg", `^hosts\.(\w+)\.load$`, "${1}.avg", 60, 10, false, out, clk.now, tick)
	require.NoError(t, err)
	defer r.Shutdown()

	// Window 10020 (quantized from interval=60) is still open relative
	// to now=10000/wait=10, so both samples land in the same window.
	require.True(t, r.Offer("hosts.web1.load", 10025000, "10"))
	require.True(t, r.Offer("hosts.web1.load", 10030000, "20"))

	require.Eventually(t, func() bool {
		snap := r.Snapshot()
		return len(snap) == 1
	}, time.Second, 10*time.Millisecond)

	clk.set(time.Unix(10035, 0))
	tick <- time.Unix(10035, 0)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "web1.avg=15", got[0])
}

func TestPreMatchRejectsWithoutRunningRegex(t *testing.T) {
	clk := &fixedClock{t: time.Unix(1000, 0)}
	tick := make(chan time.Time)
	r, err := NewMocked("test", "sum", `^hosts\.cpu\.`, "", 60, 10, true, func(string, int64, string) {}, clk.now, tick)
	require.NoError(t, err)
	defer r.Shutdown()

	require.False(t, r.PreMatch("other.cpu.load"))
	require.True(t, r.PreMatch("hosts.cpu.load"))
}
