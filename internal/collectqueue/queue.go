// Package collectqueue implements component C4: the single-consumer
// MPSC queue that owns the TimedFdCache, the per-key append writers,
// and the sink fan-out -- the only task allowed to mutate any of them,
// per spec.md §5.
//
// Grounded on skvoz/collection/server/queue.py's CollectQueue.
package collectqueue

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/jpillora/backoff"
	log "github.com/sirupsen/logrus"

	"github.com/skvoz/skvoz-go/internal/broker"
	"github.com/skvoz/skvoz-go/internal/fdcache"
	"github.com/skvoz/skvoz-go/internal/rollup"
	"github.com/skvoz/skvoz-go/internal/sink"
	"github.com/skvoz/skvoz-go/internal/stats"
	"github.com/skvoz/skvoz-go/internal/tsfile"
)

// WaitTimeout bounds both the queue's blocking dequeue and, per
// spec.md §5, the fd-cache idle horizon.
const WaitTimeout = time.Second

var (
	metricEnqueued = stats.Counter("unit=Sample.direction=in.collectqueue=enqueued")
	metricWALFail  = stats.Counter("unit=Sample.direction=in.collectqueue=walFailures")
	metricSinkFail = stats.Counter("unit=Sample.direction=out.collectqueue=sinkFailures")
)

// Sample is one (key, ts-millis, value) triple pulled off the wire.
type Sample struct {
	Key      string
	TSMillis int64
	Value    string
}

// Queue is the CollectQueue: producers (one per accepted connection)
// call Put; a single consumer goroutine run by Run owns everything
// downstream of the channel.
type Queue struct {
	store   *tsfile.Store
	sinks   *sink.Registry
	rollups []*rollup.Rollup

	items   chan Sample
	stop    chan struct{}
	stopped chan struct{}

	fdcache  *fdcache.Cache
	backoffs map[string]*sinkBackoff
}

// sinkBackoff tracks one socket sink's reconnect schedule: after a
// failure, deliveries to that sink are skipped until Until, with each
// consecutive failure doubling the wait (capped) via the embedded
// jpillora/backoff.Backoff.
type sinkBackoff struct {
	b     backoff.Backoff
	until time.Time
}

// New builds a Queue writing into store and fanning out through the
// sinks the given registry currently lists.
func New(store *tsfile.Store, sinks *sink.Registry) *Queue {
	return &Queue{
		store:    store,
		sinks:    sinks,
		items:    make(chan Sample, 4096),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
		fdcache:  fdcache.New(WaitTimeout),
		backoffs: make(map[string]*sinkBackoff),
	}
}

// sinkBackoffFor returns (creating if needed) sk's reconnect schedule,
// so a socket sink that just failed isn't redialed on every subsequent
// sample -- it waits out an exponential schedule instead.
func (q *Queue) sinkBackoffFor(name string) *sinkBackoff {
	sb, ok := q.backoffs[name]
	if !ok {
		sb = &sinkBackoff{b: backoff.Backoff{Min: 100 * time.Millisecond, Max: 30 * time.Second, Factor: 2}}
		q.backoffs[name] = sb
	}
	return sb
}

// AddRollup attaches a live pre-aggregation stage; every sample the
// queue stores is also offered to each rollup before being written.
func (q *Queue) AddRollup(r *rollup.Rollup) {
	q.rollups = append(q.rollups, r)
}

// Put enqueues a sample. While the 4096-slot buffer is full it blocks,
// with no timeout, until the consumer frees a slot: callers (one
// goroutine per accepted connection) see a full queue as backpressure,
// same as the teacher's threading.Queue.put.
func (q *Queue) Put(s Sample) {
	q.items <- s
	metricEnqueued.Inc(1)
}

// Run is the queue's single consumer loop. It returns once Stop has
// been called and the queue has drained, per spec.md §5's cooperative
// shutdown: accept loop stops, connections drain to EOF, the consumer
// drains remaining items with a bound, then the cache closes.
func (q *Queue) Run() {
	defer close(q.stopped)
	for {
		select {
		case s := <-q.items:
			q.process(s)
		case <-q.stop:
			q.drain()
			q.fdcache.Close()
			return
		case <-time.After(WaitTimeout):
			q.fdcache.Flush()
		}
	}
}

// drain flushes any samples still queued at shutdown, bounded to
// roughly one second per spec.md §5.
func (q *Queue) drain() {
	deadline := time.After(time.Second)
	for {
		select {
		case s := <-q.items:
			q.process(s)
		case <-deadline:
			return
		default:
			if len(q.items) == 0 {
				return
			}
		}
	}
}

// Stop requests the consumer loop to drain and exit. It returns once
// shutdown has completed.
func (q *Queue) Stop() {
	close(q.stop)
	<-q.stopped
}

func (q *Queue) process(s Sample) {
	for _, r := range q.rollups {
		r.Offer(s.Key, s.TSMillis, s.Value)
	}
	q.storeSample(s)
	q.sinkSample(s)
}

func (q *Queue) storeSample(s Sample) {
	h, err := q.fdcache.Open("wal:"+s.Key, func(string) (fdcache.Handle, error) {
		return tsfile.OpenWriter(q.store, s.Key)
	})
	if err != nil {
		metricWALFail.Inc(1)
		log.WithError(err).WithField("key", s.Key).Warn("WAL open failure")
		return
	}
	w := h.(*tsfile.Writer)
	if err := w.Write(s.TSMillis, s.Value); err != nil {
		metricWALFail.Inc(1)
		log.WithError(err).WithField("key", s.Key).Warn("WAL write failure")
		q.fdcache.Invalidate("wal:" + s.Key)
	}
}

func (q *Queue) sinkSample(s Sample) {
	line := fmt.Sprintf("%d %s %s\n", s.TSMillis, s.Key, s.Value)
	for _, sk := range q.sinks.Sinks() {
		if !sk.Matches(s.Key) {
			continue
		}
		var sb *sinkBackoff
		if sk.Channel.IsSocket() {
			sb = q.sinkBackoffFor(sk.Name)
			if time.Now().Before(sb.until) {
				continue
			}
		}
		if err := q.deliver(sk, line); err != nil {
			metricSinkFail.Inc(1)
			log.WithError(err).WithField("sink", sk.Name).Warn("sink delivery failure")
			if sb != nil {
				q.fdcache.Invalidate("sink:" + sk.Name)
				sb.until = time.Now().Add(sb.b.Duration())
			}
			continue
		}
		if sb != nil {
			sb.b.Reset()
			sb.until = time.Time{}
		}
	}
}

func (q *Queue) deliver(sk *sink.Sink, line string) error {
	cacheKey := "sink:" + sk.Name
	h, err := q.fdcache.Open(cacheKey, func(string) (fdcache.Handle, error) {
		return openSinkHandle(sk)
	})
	if err != nil {
		return err
	}

	payload := []byte(line)
	if sk.Compress == "snappy" {
		payload = broker.FrameSnappy(payload)
	}

	w, ok := h.(io.Writer)
	if !ok {
		return fmt.Errorf("sink %q: unsupported handle type %T", sk.Name, h)
	}
	_, err = w.Write(payload)
	return err
}

// openSinkHandle opens the underlying transport for a sink. tcp/unix
// dial a connection, file appends, and the additive kafka/amqp/pubsub
// channels SPEC_FULL.md's domain stack wires dial their own persistent
// producer handle, all satisfying io.Writer+Close (fdcache.Handle) so
// deliver can treat them uniformly.
func openSinkHandle(sk *sink.Sink) (fdcache.Handle, error) {
	switch sk.Channel {
	case "tcp":
		return net.DialTimeout("tcp", sk.Address, 5*time.Second)
	case "unix":
		return net.DialTimeout("unix", sk.Address, 5*time.Second)
	case "file":
		return os.OpenFile(sk.Address, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	case "kafka":
		return broker.DialKafka(sk.Brokers, sk.Topic)
	case "amqp":
		return broker.DialAMQP(sk.Address, sk.Exchange, sk.RoutingKey)
	case "pubsub":
		return broker.DialPubsub(context.Background(), sk.Project, sk.Topic)
	default:
		return nil, fmt.Errorf("sink channel %q is not recognized", sk.Channel)
	}
}
