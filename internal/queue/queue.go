// Package queue abstracts the durable work queue between the dispatcher and
// the worker pool. Delivery is at-least-once: a message survives broker
// restarts until it is acknowledged, and a rejected message is dropped, never
// requeued — the job store keeps the durable failure record instead.
package queue

import "context"

// Message is the envelope published per job. It carries everything a worker
// needs so the happy path reads the store only to write transitions.
type Message struct {
	JobID string `json:"job_id"`
	URL   string `json:"url,omitempty"`
	Text  string `json:"text"`
}

// Publisher sends messages to the queue with persistent delivery.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Delivery is one in-flight message. Exactly one of Ack or Reject must be
// called; Reject drops the message without requeueing it.
type Delivery struct {
	Body   []byte
	Ack    func() error
	Reject func() error
}

// Consumer yields deliveries one at a time. Each consumer admits a single
// unacknowledged message, so running N consumers bounds in-flight work at N.
type Consumer interface {
	Consume(ctx context.Context) (<-chan Delivery, error)
}
