package domain

import (
	"errors"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrNoAcknowledger is returned when a message was built without its delivery
var ErrNoAcknowledger = errors.New("message has no acknowledger")

// JobMessage represents a job message from RabbitMQ
type JobMessage struct {
	JobID        string            `json:"job_id"`
	DeliveryTag  uint64            `json:"-"`
	Acknowledger amqp.Acknowledger `json:"-"`
}

// Ack acknowledges the delivery the message came from
func (m *JobMessage) Ack() error {
	if m.Acknowledger == nil {
		return ErrNoAcknowledger
	}
	return m.Acknowledger.Ack(m.DeliveryTag, false)
}

// Nack rejects the delivery, optionally putting it back on the queue
func (m *JobMessage) Nack(requeue bool) error {
	if m.Acknowledger == nil {
		return ErrNoAcknowledger
	}
	return m.Acknowledger.Nack(m.DeliveryTag, false, requeue)
}
