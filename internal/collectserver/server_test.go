package collectserver

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/skvoz/skvoz-go/internal/collectqueue"
	"github.com/skvoz/skvoz-go/internal/sink"
	"github.com/skvoz/skvoz-go/internal/tsfile"
)

func TestServerIngestsLineProtocol(t *testing.T) {
	dir := t.TempDir()
	store := tsfile.NewStore(dir)
	queue := collectqueue.New(store, sink.NewRegistry(""))
	go queue.Run()
	defer queue.Stop()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	srv := New("tcp", addr, queue)
	go srv.ListenAndServe()
	defer srv.Stop()

	var conn net.Conn
	require.Eventually(t, func() bool {
		conn, err = net.Dial("tcp", addr)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	defer conn.Close()

	_, err = conn.Write([]byte("hosts.web1.load 1000 0.5\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(filepath.Join(store.KeyDir("hosts.web1.load"), tsfile.LatestName))
		return err == nil && len(data) > 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandleRequestRejectsMalformedLineWithoutPanic(t *testing.T) {
	dir := t.TempDir()
	store := tsfile.NewStore(dir)
	queue := collectqueue.New(store, sink.NewRegistry(""))
	go queue.Run()
	defer queue.Stop()

	srv := New("tcp", "", queue)
	srv.handleRequest("not a valid line")
	srv.handleRequest("hosts.ok 1000 1")

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(filepath.Join(store.KeyDir("hosts.ok"), tsfile.LatestName))
		return err == nil && len(data) > 0
	}, 2*time.Second, 10*time.Millisecond)
}
