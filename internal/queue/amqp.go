package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/streadway/amqp"
)

// Broker holds one AMQP connection and hands out channels for publishing and
// consuming. The queue is declared durable so messages survive broker
// restarts; declaration is idempotent, so startup order does not matter.
type Broker struct {
	conn  *amqp.Connection
	queue string
}

// Dial connects to the broker and declares the durable queue.
func Dial(url, queueName string) (*Broker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queueName, err)
	}

	return &Broker{conn: conn, queue: queueName}, nil
}

// NotifyClose registers a listener for connection loss, for the caller's
// reconnect loop.
func (b *Broker) NotifyClose() chan *amqp.Error {
	return b.conn.NotifyClose(make(chan *amqp.Error, 1))
}

func (b *Broker) Close() error {
	return b.conn.Close()
}

// Publisher opens a dedicated publish channel. AMQP channels are not safe for
// concurrent use, so the publisher serializes with a mutex.
func (b *Broker) Publisher() (*AMQPPublisher, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open publish channel: %w", err)
	}
	return &AMQPPublisher{ch: ch, queue: b.queue}, nil
}

type AMQPPublisher struct {
	mu    sync.Mutex
	ch    *amqp.Channel
	queue string
}

func (p *AMQPPublisher) Publish(_ context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message for job %s: %w", msg.JobID, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.Publish("", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
	})
	if err != nil {
		return fmt.Errorf("publish job %s: %w", msg.JobID, err)
	}
	return nil
}

// NewConsumer opens a dedicated channel with prefetch 1: the broker will not
// deliver a second message on this channel until the first is acked or
// rejected.
func (b *Broker) NewConsumer() (*AMQPConsumer, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open consume channel: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	return &AMQPConsumer{ch: ch, queue: b.queue}, nil
}

type AMQPConsumer struct {
	ch    *amqp.Channel
	queue string
}

func (c *AMQPConsumer) Consume(ctx context.Context) (<-chan Delivery, error) {
	msgs, err := c.ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("start consumer: %w", err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		defer c.ch.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-msgs:
				if !ok {
					return
				}
				dd := d
				delivery := Delivery{
					Body:   dd.Body,
					Ack:    func() error { return dd.Ack(false) },
					Reject: func() error { return dd.Nack(false, false) },
				}
				select {
				case out <- delivery:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
