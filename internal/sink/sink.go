// Package sink implements component C3: the hot-reloadable fan-out sink
// registry. Grounded on skvoz/collection/server/sink.py (CollectSink,
// CollectSinks): a JSON array of {name, key, channel, address}, reloaded
// at most every 30s and only when the file's checksum actually changes.
//
// Extends spec.md's tcp/unix/file channel set with kafka/amqp/pubsub,
// the destinations the teacher repo's own go.mod (Shopify/sarama,
// streadway/amqp, cloud.google.com/go) is built to reach -- additive
// only, the original three channels keep their exact spec.md semantics.
package sink

import (
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"time"

	log "github.com/sirupsen/logrus"
)

var logger = log.WithField("component", "sink")

// Channel names a fan-out destination type.
type Channel string

const (
	ChannelTCP    Channel = "tcp"
	ChannelUnix   Channel = "unix"
	ChannelFile   Channel = "file"
	ChannelKafka  Channel = "kafka"
	ChannelAMQP   Channel = "amqp"
	ChannelPubsub Channel = "pubsub"
)

// IsSocket reports whether the channel is delivered over a persistent
// connection handle (as opposed to a plain file append).
func (c Channel) IsSocket() bool {
	switch c {
	case ChannelTCP, ChannelUnix, ChannelKafka, ChannelAMQP, ChannelPubsub:
		return true
	default:
		return false
	}
}

// Sink describes one fan-out destination and how to route to it.
type Sink struct {
	Name     string
	Key      string
	Channel  Channel
	Address  string
	Compress string // "", or "snappy" to frame-compress the wire format

	// Broker-channel-specific fields, only meaningful for their own
	// Channel value; see openSinkHandle in internal/collectqueue.
	Topic      string   // kafka
	Brokers    []string // kafka
	Exchange   string   // amqp
	RoutingKey string   // amqp
	Project    string   // pubsub

	regex *regexp.Regexp
}

type sinkJSON struct {
	Name       string   `json:"name"`
	Key        string   `json:"key"`
	Channel    string   `json:"channel"`
	Address    string   `json:"address"`
	Compress   string   `json:"compress,omitempty"`
	Topic      string   `json:"topic,omitempty"`
	Brokers    []string `json:"brokers,omitempty"`
	Exchange   string   `json:"exchange,omitempty"`
	RoutingKey string   `json:"routingKey,omitempty"`
	Project    string   `json:"project,omitempty"`
}

func load(data sinkJSON) (*Sink, error) {
	ch := Channel(data.Channel)
	switch ch {
	case ChannelTCP, ChannelUnix, ChannelFile, ChannelKafka, ChannelAMQP, ChannelPubsub:
	default:
		return nil, fmt.Errorf("sink %q has invalid channel %q", data.Name, data.Channel)
	}

	s := &Sink{
		Name:       data.Name,
		Key:        data.Key,
		Channel:    ch,
		Address:    data.Address,
		Compress:   data.Compress,
		Topic:      data.Topic,
		Brokers:    data.Brokers,
		Exchange:   data.Exchange,
		RoutingKey: data.RoutingKey,
		Project:    data.Project,
	}
	if data.Key != "" {
		rx, err := regexp.Compile(data.Key)
		if err != nil {
			return nil, fmt.Errorf("sink %q has invalid key regex: %w", data.Name, err)
		}
		s.regex = rx
	}
	return s, nil
}

// Matches reports whether key routes to this sink. An empty Key
// matches nothing -- a sink with no filter is inert rather than a
// silent firehose; see DESIGN.md for the alternative spec.md allows.
func (s *Sink) Matches(key string) bool {
	if s.regex == nil {
		return false
	}
	return s.regex.MatchString(key)
}

// Registry is CollectSinks: it reparses its JSON config file at most
// once every ReloadInterval, and only when the file's content actually
// changed, swapping the whole sink list atomically on success.
type Registry struct {
	Path           string
	ReloadInterval time.Duration
	Now            func() time.Time

	checksum  string
	sinks     []*Sink
	lastCheck time.Time
}

// NewRegistry builds a registry over a JSON config file. An empty path
// means "no sinks, ever" -- the Collector can run with fan-out disabled.
func NewRegistry(path string) *Registry {
	return &Registry{
		Path:           path,
		ReloadInterval: 30 * time.Second,
		Now:            time.Now,
	}
}

// Reload forces the next Sinks call to recheck the config file's
// checksum regardless of ReloadInterval, for a SIGHUP-triggered reload.
func (r *Registry) Reload() {
	r.lastCheck = time.Time{}
}

// Sinks returns the current sink list, reloading from disk if due.
func (r *Registry) Sinks() []*Sink {
	if r.Path == "" {
		return nil
	}

	now := r.Now()
	if now.Sub(r.lastCheck) <= r.ReloadInterval {
		return r.sinks
	}

	sum, err := fileChecksum(r.Path)
	if err != nil {
		logger.WithError(err).Warn("failed to checksum sink config, keeping previous list")
		r.lastCheck = now
		return r.sinks
	}
	if sum == r.checksum {
		r.lastCheck = now
		return r.sinks
	}

	sinks, err := parseFile(r.Path)
	if err != nil {
		logger.WithError(err).Warn("failed to reload sink config, keeping previous list")
		r.lastCheck = now
		return r.sinks
	}

	r.sinks = sinks
	r.checksum = sum
	r.lastCheck = now
	return r.sinks
}

func parseFile(path string) ([]*Sink, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []sinkJSON
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, err
	}
	sinks := make([]*Sink, 0, len(entries))
	for _, e := range entries {
		s, err := load(e)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}

func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
