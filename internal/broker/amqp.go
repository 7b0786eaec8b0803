package broker

import (
	"fmt"

	"github.com/streadway/amqp"
)

// AMQPProducer is a sink's amqp handle: a channel over a persistent
// connection, publishing to a fixed exchange/routing key pair.
type AMQPProducer struct {
	Exchange   string
	RoutingKey string

	conn *amqp.Connection
	ch   *amqp.Channel
}

// DialAMQP opens a connection and channel against url, publishing to
// exchange/routingKey.
func DialAMQP(url, exchange, routingKey string) (*AMQPProducer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("broker: dial amqp %s: %w", url, err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("broker: open amqp channel: %w", err)
	}
	return &AMQPProducer{Exchange: exchange, RoutingKey: routingKey, conn: conn, ch: ch}, nil
}

// Write publishes p as one message body.
func (a *AMQPProducer) Write(p []byte) (int, error) {
	err := a.ch.Publish(a.Exchange, a.RoutingKey, false, false, amqp.Publishing{
		ContentType: "text/plain",
		Body:        p,
	})
	if err != nil {
		return 0, fmt.Errorf("broker: amqp publish: %w", err)
	}
	return len(p), nil
}

// Close releases the channel and connection.
func (a *AMQPProducer) Close() error {
	cerr := a.ch.Close()
	if err := a.conn.Close(); err != nil {
		return err
	}
	return cerr
}
