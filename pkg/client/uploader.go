// Package client is a small library for processes that want to push
// samples into a Collector without going through the line protocol by
// hand. It batches pushes and flushes them over a TCP or Unix socket.
//
// Grounded on skvoz/collection/client/uploader.py's StatsUploader /
// StatEvent / StatCounter, reworked onto net.Dial and a sync.Mutex in
// place of the Python class's unsynchronized instance attributes.
package client

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// AggregateThreshold is how many buffered lines trigger an automatic
	// flush from Push/PushTS when aggregate is true.
	AggregateThreshold = 10
	// AggregateMax is the hard cap on buffered lines; past this the
	// oldest buffered line is dropped to bound memory, matching the
	// uploader's own "sorry I've to throw away something" behavior.
	AggregateMax = 100
	// DialTimeout bounds how long Flush waits to (re)connect.
	DialTimeout = 5 * time.Second
)

// Uploader batches "key timestamp value" lines and flushes them to the
// first address in Addresses that accepts a connection, reconnecting
// lazily on the next Flush after any write failure.
type Uploader struct {
	Addresses []string // "host:port" or a unix socket path, tried in order

	mu   sync.Mutex
	conn net.Conn
	data []string
}

// New builds an Uploader that flushes to the first reachable of addrs.
func New(addrs ...string) *Uploader {
	return &Uploader{Addresses: addrs}
}

// Push buffers key=value at the current time, flushing immediately
// when aggregate is false or the buffer has reached AggregateThreshold.
func (u *Uploader) Push(key string, value interface{}, aggregate bool) error {
	return u.PushTS(time.Now().UnixMilli(), key, value, aggregate)
}

// PushTS is Push with an explicit millisecond timestamp.
func (u *Uploader) PushTS(tsMillis int64, key string, value interface{}, aggregate bool) error {
	if strings.Contains(key, " ") {
		return fmt.Errorf("client: key %q cannot contain spaces", key)
	}

	u.mu.Lock()
	u.data = append(u.data, fmt.Sprintf("%s %d %v\n", key, tsMillis, value))
	if len(u.data) > AggregateMax {
		u.data = u.data[1:]
	}
	flush := !aggregate || len(u.data) >= AggregateThreshold
	u.mu.Unlock()

	if flush {
		return u.Flush()
	}
	return nil
}

// Flush sends everything buffered so far over the current connection,
// dialing one if none is open, and clears the buffer on success. A
// write failure drops the connection so the next Flush redials.
func (u *Uploader) Flush() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if len(u.data) == 0 {
		return nil
	}
	if u.conn == nil {
		conn, err := u.dial()
		if err != nil {
			return err
		}
		u.conn = conn
	}

	payload := strings.Join(u.data, "")
	if _, err := u.conn.Write([]byte(payload)); err != nil {
		u.conn.Close()
		u.conn = nil
		return fmt.Errorf("client: flush failed: %w", err)
	}
	u.data = nil
	return nil
}

// Close releases any open connection without flushing.
func (u *Uploader) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn == nil {
		return nil
	}
	err := u.conn.Close()
	u.conn = nil
	return err
}

func (u *Uploader) dial() (net.Conn, error) {
	var lastErr error
	for _, addr := range u.Addresses {
		network, address := sockAddressType(addr)
		conn, err := net.DialTimeout(network, address, DialTimeout)
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no addresses configured")
	}
	return nil, fmt.Errorf("client: could not connect to any of %v: %w", u.Addresses, lastErr)
}

// sockAddressType mirrors sock_address_type: a "host:port" string
// dials TCP, anything else (a bare path) dials a unix socket.
func sockAddressType(address string) (network, addr string) {
	if host, port, ok := strings.Cut(address, ":"); ok {
		if _, err := strconv.Atoi(port); err == nil {
			return "tcp", host + ":" + port
		}
	}
	return "unix", address
}

// Event binds a fixed key to an Uploader, the way StatEvent lets
// callers push values without repeating the key every time.
type Event struct {
	Key      string
	Uploader *Uploader
}

// NewEvent binds key to u.
func NewEvent(key string, u *Uploader) *Event { return &Event{Key: key, Uploader: u} }

// Push pushes value under e's key.
func (e *Event) Push(value interface{}, aggregate bool) error {
	return e.Uploader.Push(e.Key, value, aggregate)
}

// PushTS pushes value under e's key at an explicit timestamp.
func (e *Event) PushTS(tsMillis int64, value interface{}, aggregate bool) error {
	return e.Uploader.PushTS(tsMillis, e.Key, value, aggregate)
}

// Flush flushes e's uploader.
func (e *Event) Flush() error { return e.Uploader.Flush() }

// Counter is a running total pushed as a running series, the Go
// equivalent of StatCounter.
type Counter struct {
	*Event
	mu    sync.Mutex
	value float64
}

// NewCounter binds key to u, starting at zero.
func NewCounter(key string, u *Uploader) *Counter {
	return &Counter{Event: NewEvent(key, u)}
}

// Set overwrites the counter's value and pushes it.
func (c *Counter) Set(value float64, aggregate bool) error {
	c.mu.Lock()
	c.value = value
	c.mu.Unlock()
	return c.Push(value, aggregate)
}

// Inc adds 1 and pushes the new value.
func (c *Counter) Inc(aggregate bool) error { return c.Add(1, aggregate) }

// Dec subtracts 1 and pushes the new value.
func (c *Counter) Dec(aggregate bool) error { return c.Add(-1, aggregate) }

// Add adds delta and pushes the new value.
func (c *Counter) Add(delta float64, aggregate bool) error {
	c.mu.Lock()
	c.value += delta
	v := c.value
	c.mu.Unlock()
	return c.Push(v, aggregate)
}

// Sub subtracts delta and pushes the new value.
func (c *Counter) Sub(delta float64, aggregate bool) error { return c.Add(-delta, aggregate) }
