package client

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPushRejectsSpaceInKey(t *testing.T) {
	u := New()
	err := u.Push("bad key", 1, true)
	require.Error(t, err)
}

func TestPushTSAggregatesUntilThreshold(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	lines := make(chan string, AggregateThreshold+2)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if line != "" {
				lines <- line
			}
			if err != nil {
				return
			}
		}
	}()

	u := New(ln.Addr().String())
	for i := 0; i < AggregateThreshold; i++ {
		require.NoError(t, u.PushTS(int64(i), "host.cpu", i, true))
	}
	// The last of these pushes reaches the threshold and flushes the
	// batch; one more push starts a new buffer.
	require.NoError(t, u.PushTS(int64(AggregateThreshold), "host.cpu", AggregateThreshold, true))

	select {
	case <-lines:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a flush after crossing AggregateThreshold")
	}
}

func TestFlushWithEmptyBufferIsNoop(t *testing.T) {
	u := New()
	require.NoError(t, u.Flush())
}

func TestCounterAddAccumulatesAcrossPushes(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	lines := make(chan string, 8)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if line != "" {
				lines <- line
			}
			if err != nil {
				return
			}
		}
	}()

	u := New(ln.Addr().String())
	c := NewCounter("hosts.web1.requests", u)

	require.NoError(t, c.Inc(false))
	select {
	case line := <-lines:
		require.Regexp(t, `^hosts\.web1\.requests \d+ 1\n$`, line)
	case <-time.After(2 * time.Second):
		t.Fatal("expected Inc to flush immediately when aggregate=false")
	}

	require.NoError(t, c.Add(4, false))
	select {
	case line := <-lines:
		require.Regexp(t, `^hosts\.web1\.requests \d+ 5\n$`, line)
	case <-time.After(2 * time.Second):
		t.Fatal("expected Add to flush immediately when aggregate=false")
	}
}
