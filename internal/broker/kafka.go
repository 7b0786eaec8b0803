// Package broker holds the persistent producer handles the Collect
// queue's fd cache opens for the `kafka`, `amqp`, and `pubsub` sink
// channels SPEC_FULL.md's domain stack adds alongside spec.md's
// tcp/unix/file set. Each producer satisfies fdcache.Handle (Close)
// and is reached through q.fdcache.Open the same way a tcp/unix
// net.Conn is, so the Collect queue's delivery path stays uniform.
//
// Grounded on the teacher's go.mod pulling in github.com/Shopify/sarama,
// github.com/streadway/amqp, and cloud.google.com/go/pubsub for relaying
// to those destinations; there is no surviving teacher source for any
// of the three, so the producer setup follows each library's own
// documented synchronous-producer pattern.
package broker

import (
	"fmt"

	"github.com/Shopify/sarama"
	"github.com/golang/snappy"
)

// KafkaProducer is a sink's kafka handle: one topic, one synchronous
// producer, snappy-compressed by default (github.com/golang/snappy is
// the codec sarama.CompressionSnappy delegates to internally; Collector
// socket sinks additionally use it directly, see FrameSnappy).
type KafkaProducer struct {
	Topic    string
	producer sarama.SyncProducer
}

// DialKafka opens a synchronous producer against brokers for topic.
func DialKafka(brokers []string, topic string) (*KafkaProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("broker: dial kafka %v: %w", brokers, err)
	}
	return &KafkaProducer{Topic: topic, producer: producer}, nil
}

// Write sends p as one Kafka message, satisfying the io.Writer shape
// the Collect queue's deliver() switches on for socket-like handles.
func (k *KafkaProducer) Write(p []byte) (int, error) {
	_, _, err := k.producer.SendMessage(&sarama.ProducerMessage{
		Topic: k.Topic,
		Value: sarama.ByteEncoder(p),
	})
	if err != nil {
		return 0, fmt.Errorf("broker: kafka send: %w", err)
	}
	return len(p), nil
}

// Close releases the producer.
func (k *KafkaProducer) Close() error {
	return k.producer.Close()
}

// FrameSnappy compresses a line-protocol payload with the block format
// github.com/golang/snappy implements, for sinks configured with
// `"compress": "snappy"` (spec.md §6's wire format otherwise unchanged).
func FrameSnappy(p []byte) []byte {
	return snappy.Encode(nil, p)
}
