// Package rollup implements an optional, additive live pre-aggregation
// stage for the Collect queue (SPEC_FULL.md §2b): a quantized-window,
// regex-routed aggregator that mirrors the teacher's real-time
// Aggregator almost line for line, retargeted from carbon's
// `(buf [][]byte, val float64, ts uint32)` wire tuples onto this
// module's `(key string, tsMillis int64, value string)` samples, and
// from carbon's sum/avg/etc Processor set onto the TDQL aggregate
// functions of internal/tdql, so there is exactly one implementation
// of "average a stream of numbers" in this repository, not two.
//
// Grounded on aggregator/aggregator.go (the teacher's one real source
// file).
package rollup

import (
	"bytes"
	"crypto/md5"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/skvoz/skvoz-go/internal/clock"
	"github.com/skvoz/skvoz-go/internal/stats"
	"github.com/skvoz/skvoz-go/internal/tdql"

	log "github.com/sirupsen/logrus"
)

// Sink is how a Rollup emits its flushed results; the Collect queue
// wires this to the same WAL-write path raw samples take.
type Sink func(key string, tsMillis int64, value string)

// Rollup continuously reduces matching samples into one value per
// quantized window per output key, and flushes windows once they are
// older than Wait seconds.
type Rollup struct {
	Name     string `json:"name"`
	Function string `json:"function"` // a internal/tdql.FunctionNames key: min/max/avg/sum/sub/count
	Regex    string `json:"regex"`
	OutFmt   string `json:"outFmt,omitempty"` // regexp.Expand template; defaults to "$0"
	Interval uint   `json:"intervalSeconds"`
	Wait     uint   `json:"waitSeconds"`
	Cache    bool   `json:"cache"`

	ctor      func() tdql.AggregateFunc
	regex     *regexp.Regexp
	prefix    []byte
	outFmt    []byte
	in        chan sample
	out       Sink
	tsList    []uint
	windows   map[uint]map[string]tdql.AggregateFunc
	reCache   map[string]cacheEntry
	cacheMu   sync.Mutex
	snapReq   chan bool
	snapResp  chan map[uint]map[string]bool
	shutdown  chan struct{}
	wg        sync.WaitGroup
	now       clock.Source
	tick      <-chan time.Time
	numIn     interface{ Inc(int64) }
	numFlush  interface{ Inc(int64) }
	numTooOld interface{ Inc(int64) }
}

type sample struct {
	key      string
	tsMillis int64
	value    string
}

type cacheEntry struct {
	match bool
	key   string
	seen  int64
}

// New builds and starts a Rollup's consumer goroutine, ticking on a
// clock.AlignedTick(interval, wait) schedule.
func New(name, function, regex, outFmt string, interval, wait uint, cache bool, out Sink) (*Rollup, error) {
	tick := clock.AlignedTick(time.Duration(interval)*time.Second, time.Duration(wait)*time.Second)
	return newRollup(name, function, regex, outFmt, interval, wait, cache, out, clock.Real, tick)
}

// NewMocked builds a Rollup with an injected clock and tick channel,
// for deterministic tests.
func NewMocked(name, function, regex, outFmt string, interval, wait uint, cache bool, out Sink, now clock.Source, tick <-chan time.Time) (*Rollup, error) {
	return newRollup(name, function, regex, outFmt, interval, wait, cache, out, now, tick)
}

func newRollup(name, function, regex, outFmt string, interval, wait uint, cache bool, out Sink, now clock.Source, tick <-chan time.Time) (*Rollup, error) {
	re, err := regexp.Compile(regex)
	if err != nil {
		return nil, fmt.Errorf("rollup %q: %w", name, err)
	}
	ctor, ok := tdql.FunctionNames[function]
	if !ok {
		return nil, fmt.Errorf("rollup %q: unknown aggregate function %q", name, function)
	}
	if outFmt == "" {
		outFmt = "$0"
	}

	r := &Rollup{
		Name:     name,
		Function: function,
		Regex:    regex,
		OutFmt:   outFmt,
		Interval: interval,
		Wait:     wait,
		Cache:    cache,
		ctor:     ctor,
		regex:    re,
		prefix:   regexToPrefix(regex),
		outFmt:   []byte(outFmt),
		in:       make(chan sample, 2000),
		out:      out,
		windows:  make(map[uint]map[string]tdql.AggregateFunc),
		snapReq:  make(chan bool),
		snapResp: make(chan map[uint]map[string]bool),
		shutdown: make(chan struct{}),
		now:      now,
		tick:     tick,
	}
	if cache {
		r.reCache = make(map[string]cacheEntry)
	}
	r.numIn = stats.Counter("unit=Sample.direction=in.rollup=" + name)
	r.numFlush = stats.Counter("unit=Sample.direction=out.rollup=" + name)
	r.numTooOld = stats.Counter("unit=Sample.direction=in.rollup=" + name + ".dropped=tooOld")

	r.wg.Add(1)
	go r.run()
	return r, nil
}

// regexToPrefix returns the longest static literal prefix a regex
// requires, for a cheap reject-before-match fast path.
func regexToPrefix(regex string) []byte {
	var buf bytes.Buffer
	for i := 0; i < len(regex); i++ {
		ch := regex[i]
		if i == 0 {
			if ch == '^' {
				continue
			}
			break
		}
		switch {
		case (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') || ch == '_' || ch == '-':
			buf.WriteByte(ch)
		case ch == '\\' && i+1 < len(regex) && regex[i+1] == '.':
			buf.WriteByte('.')
			i++
		default:
			return buf.Bytes()
		}
	}
	return buf.Bytes()
}

// PreMatch rejects keys that cannot possibly match Regex without
// running the regex engine.
func (r *Rollup) PreMatch(key string) bool {
	return len(r.prefix) == 0 || bytes.HasPrefix([]byte(key), r.prefix)
}

func (r *Rollup) match(key string) (string, bool) {
	loc := r.regex.FindStringSubmatchIndex(key)
	if loc == nil {
		return "", false
	}
	return string(r.regex.ExpandString(nil, r.OutFmt, key, loc)), true
}

func (r *Rollup) matchWithCache(key string) (string, bool) {
	if r.reCache == nil {
		return r.match(key)
	}
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	if e, ok := r.reCache[key]; ok {
		e.seen = r.now().Unix()
		r.reCache[key] = e
		return e.key, e.match
	}
	outKey, ok := r.match(key)
	r.reCache[key] = cacheEntry{match: ok, key: outKey, seen: r.now().Unix()}
	return outKey, ok
}

// Offer enqueues a sample for rollup if its key matches. It never
// blocks the caller on a match failure; callers still write the raw
// sample to the WAL regardless of this return value -- rollup is an
// additive consumer, not a replacement for durable storage.
func (r *Rollup) Offer(key string, tsMillis int64, value string) bool {
	if !r.PreMatch(key) {
		return false
	}
	if _, ok := r.matchWithCache(key); !ok {
		return false
	}
	select {
	case r.in <- sample{key: key, tsMillis: tsMillis, value: value}:
		return true
	default:
		return false
	}
}

func (r *Rollup) addOrCreate(outKey string, tsSec int64, quantized uint, value float64) bool {
	byKey, ok := r.windows[quantized]
	var proc tdql.AggregateFunc
	if ok {
		proc, ok = byKey[outKey]
		if ok {
			proc.Apply(tdql.Coerce(strconv.FormatFloat(value, 'f', -1, 64)))
		}
	} else {
		r.tsList = append(r.tsList, quantized)
		if len(r.tsList) > 1 && r.tsList[len(r.tsList)-2] > quantized {
			sort.Slice(r.tsList, func(i, j int) bool { return r.tsList[i] < r.tsList[j] })
		}
		r.windows[quantized] = make(map[string]tdql.AggregateFunc)
	}
	if !ok {
		if int64(quantized) > r.now().Unix()-int64(r.Wait) {
			proc = r.ctor()
			proc.Reset()
			proc.Apply(tdql.Coerce(strconv.FormatFloat(value, 'f', -1, 64)))
			r.windows[quantized][outKey] = proc
			return true
		}
		r.numTooOld.Inc(1)
		return false
	}
	return true
}

// Flush finalizes and removes every window whose quantized timestamp
// is at or before cutoff, emitting one result sample per output key.
func (r *Rollup) Flush(cutoffSec int64) {
	pos := -1
	for i, ts := range r.tsList {
		if int64(ts) > cutoffSec {
			break
		}
		for key, proc := range r.windows[ts] {
			result := proc.Result()
			r.out(key, int64(ts)*1000, result.String())
			r.numFlush.Inc(1)
		}
		delete(r.windows, ts)
		pos = i
	}
	if pos == -1 {
		return
	}
	if pos == len(r.tsList)-1 {
		r.tsList = r.tsList[:0]
		return
	}
	copy(r.tsList[0:], r.tsList[pos+1:])
	r.tsList = r.tsList[:len(r.tsList)-pos-1]
}

func (r *Rollup) run() {
	for {
		select {
		case msg := <-r.in:
			outKey, ok := r.matchWithCache(msg.key)
			if !ok {
				continue
			}
			r.numIn.Inc(1)
			tsSec := msg.tsMillis / 1000
			quantized := uint(tsSec) - uint(tsSec)%r.Interval
			value, err := strconv.ParseFloat(msg.value, 64)
			if err != nil {
				continue
			}
			if !r.addOrCreate(outKey, tsSec, quantized, value) {
				log.WithFields(log.Fields{
					"rollup": r.Name, "key": msg.key, "ts": msg.tsMillis,
				}).Warn("rollup received sample older than its flush window")
			}
		case now := <-r.tick:
			r.Flush(now.Add(-time.Duration(r.Wait) * time.Second).Unix())
			if r.reCache != nil {
				cutoff := now.Add(-100 * time.Duration(r.Wait) * time.Second).Unix()
				r.cacheMu.Lock()
				for k, v := range r.reCache {
					if v.seen < cutoff {
						delete(r.reCache, k)
					}
				}
				r.cacheMu.Unlock()
			}
		case <-r.snapReq:
			snap := make(map[uint]map[string]bool, len(r.windows))
			for ts, byKey := range r.windows {
				snap[ts] = make(map[string]bool, len(byKey))
				for key := range byKey {
					snap[ts][key] = true
				}
			}
			r.snapResp <- snap
		case <-r.shutdown:
			r.Flush(r.now().Add(-time.Duration(r.Wait) * time.Second).Unix())
			r.wg.Done()
			return
		}
	}
}

// Snapshot returns the set of (window, outputKey) pairs currently
// pending flush, for introspection and tests.
func (r *Rollup) Snapshot() map[uint]map[string]bool {
	r.snapReq <- true
	return <-r.snapResp
}

// Key is a stable identifier for this rollup's configuration, used as
// its metrics/registry key the way the teacher's Aggregator.setKey
// derives one from its fields.
func (r *Rollup) Key() string {
	h := md5.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s", r.Function, r.Regex, r.OutFmt, r.Name)
	return fmt.Sprintf("%x", h.Sum(nil))[:7]
}

// Shutdown flushes remaining windows and stops the consumer goroutine.
func (r *Rollup) Shutdown() {
	close(r.shutdown)
	r.wg.Wait()
}
