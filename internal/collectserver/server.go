// Package collectserver implements component C5: the concurrent
// line-protocol listener that accepts collector connections over TCP
// or a Unix domain socket, one goroutine per connection, and forwards
// parsed samples into a collectqueue.Queue.
//
// Grounded on skvoz/collection/server/service.py's CollectRequestHandler
// and CollectorUnixServer/CollectorTcpServer, reworked from Python's
// ThreadingTCPServer/ThreadingUnixStreamServer onto net.Listener plus
// one goroutine per net.Conn, the teacher's own connection-handling
// idiom (see carbon-relay-ng's listener goroutines).
package collectserver

import (
	"bufio"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/skvoz/skvoz-go/internal/collectqueue"
	"github.com/skvoz/skvoz-go/internal/stats"
)

var (
	logger          = log.WithField("component", "collectserver")
	metricAccepted  = stats.Counter("unit=Conn.direction=in.collectserver=accepted")
	metricRequests  = stats.Counter("unit=Sample.direction=in.collectserver=parsed")
	metricBadLines  = stats.Counter("unit=Sample.direction=in.collectserver=malformed")
)

// Server listens on one network address and feeds parsed samples to a
// collectqueue.Queue. Network is "tcp" or "unix", matching the two
// server classes the teacher's service.py exposes.
type Server struct {
	Network string
	Address string
	Queue   *collectqueue.Queue

	listener net.Listener
	wg       sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// New builds a Server. Call ListenAndServe to start accepting.
func New(network, address string, queue *collectqueue.Queue) *Server {
	return &Server{Network: network, Address: address, Queue: queue}
}

// ListenAndServe opens the listener and blocks, accepting connections
// until Stop is called. Each accepted connection is handled in its own
// goroutine, the Go analogue of the teacher's ThreadingTCPServer.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen(s.Network, s.Address)
	if err != nil {
		return err
	}
	s.listener = ln

	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	logger.WithFields(log.Fields{"network": s.Network, "address": s.Address}).Info("collect server listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			stopped := !s.running
			s.mu.Unlock()
			if stopped {
				s.wg.Wait()
				return nil
			}
			logger.WithError(err).Warn("accept failure")
			continue
		}
		metricAccepted.Inc(1)
		s.wg.Add(1)
		go s.handle(conn)
	}
}

// Stop closes the listener so Accept unblocks with an error. It does
// not wait itself: ListenAndServe waits for in-flight connections to
// drain to EOF before it returns.
func (s *Server) Stop() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	if s.listener != nil {
		s.listener.Close()
	}
}

// isRunning reports whether the server is still accepting -- a
// connection handler checks this each line the way the teacher's
// handle() loop checks `cq.running`.
func (s *Server) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Server) handle(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	r := bufio.NewReader(conn)
	for s.isRunning() {
		line, err := r.ReadString('\n')
		if line == "" && err != nil {
			return
		}
		s.handleRequest(strings.TrimRight(line, "\r\n"))
		if err != nil {
			return
		}
	}
}

// handleRequest parses one "<key> <ts> <value>" line per spec.md
// §4.1's wire format and enqueues it. A malformed line is logged and
// dropped rather than closing the connection, matching the teacher's
// handle_request try/except.
func (s *Server) handleRequest(request string) {
	if request == "" {
		return
	}
	parts := strings.SplitN(request, " ", 3)
	if len(parts) != 3 {
		metricBadLines.Inc(1)
		logger.WithField("request", request).Warn("malformed request")
		return
	}
	key, tsField, value := parts[0], parts[1], parts[2]

	var tsMillis int64
	if tsField == "-" {
		tsMillis = time.Now().UnixMilli()
	} else {
		ts, err := strconv.ParseInt(tsField, 10, 64)
		if err != nil {
			metricBadLines.Inc(1)
			logger.WithField("request", request).Warn("malformed timestamp")
			return
		}
		tsMillis = ts
	}

	metricRequests.Inc(1)
	s.Queue.Put(collectqueue.Sample{Key: key, TSMillis: tsMillis, Value: value})
}
