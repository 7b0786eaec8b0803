package broker

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
)

// PubsubProducer is a sink's pubsub handle: a bound topic on a single
// client, publishing one message per delivered line.
type PubsubProducer struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// DialPubsub opens a client against projectID and binds topicID.
func DialPubsub(ctx context.Context, projectID, topicID string) (*PubsubProducer, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("broker: pubsub client for project %s: %w", projectID, err)
	}
	return &PubsubProducer{client: client, topic: client.Topic(topicID)}, nil
}

// Write publishes p as one message, blocking for the publish result so
// a failure surfaces to the Collect queue's retry/invalidate path.
func (p *PubsubProducer) Write(data []byte) (int, error) {
	result := p.topic.Publish(context.Background(), &pubsub.Message{Data: data})
	if _, err := result.Get(context.Background()); err != nil {
		return 0, fmt.Errorf("broker: pubsub publish: %w", err)
	}
	return len(data), nil
}

// Close stops the topic and closes the client.
func (p *PubsubProducer) Close() error {
	p.topic.Stop()
	return p.client.Close()
}
