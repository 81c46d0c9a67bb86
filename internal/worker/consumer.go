package worker

import (
	"context"
	"encoding/json"
	"log/slog"

	workerdomain "github.com/cuongbtq/pricecards/internal/worker/domain"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// setupConsumer starts consuming the job queue and returns the delivery channel
func (w *Worker) setupConsumer() (<-chan amqp.Delivery, error) {
	deliveries, err := w.source.Consume(w.workerID)
	if err != nil {
		return nil, err
	}

	w.logger.Info("RabbitMQ consumer started",
		slog.String("consumer_tag", w.workerID),
		slog.String("queue", w.rabbitMQQueueName),
	)

	return deliveries, nil
}

// startMessageDispatcher listens to RabbitMQ deliveries and dispatches jobs to worker pool
func (w *Worker) startMessageDispatcher(ctx context.Context, deliveries <-chan amqp.Delivery) {
	w.logger.Info("Message dispatcher started",
		slog.String("worker_id", w.workerID),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return

		case <-w.stopChan:
			w.logger.Info("Message dispatcher stopped - stop requested")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed")
				return
			}

			jobMsg, ok := w.parseDelivery(delivery)
			if !ok {
				continue
			}

			select {
			case w.jobsChan <- jobMsg:
				w.logger.Debug("Job dispatched to worker pool",
					slog.String("job_id", jobMsg.JobID),
					slog.Uint64("delivery_tag", delivery.DeliveryTag),
				)
			case <-ctx.Done():
				w.logger.Info("Message dispatcher stopped while dispatching job")
				// Put the message back so another worker picks it up
				if nackErr := delivery.Nack(false, true); nackErr != nil {
					w.logger.Error("Failed to NACK message on shutdown",
						slog.String("error", nackErr.Error()),
					)
				}
				return
			}
		}
	}
}

// parseDelivery extracts the job id; malformed messages are rejected without requeue
func (w *Worker) parseDelivery(delivery amqp.Delivery) (*workerdomain.JobMessage, bool) {
	var msg struct {
		JobID string `json:"job_id"`
	}

	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		w.logger.Error("Failed to parse message JSON",
			slog.String("error", err.Error()),
			slog.String("body", string(delivery.Body)),
		)
		w.reject(delivery)
		return nil, false
	}

	if _, err := uuid.Parse(msg.JobID); err != nil {
		w.logger.Error("Invalid job_id format - not a UUID",
			slog.String("job_id", msg.JobID),
			slog.String("error", err.Error()),
		)
		w.reject(delivery)
		return nil, false
	}

	return &workerdomain.JobMessage{
		JobID:        msg.JobID,
		DeliveryTag:  delivery.DeliveryTag,
		Acknowledger: delivery.Acknowledger,
	}, true
}

func (w *Worker) reject(delivery amqp.Delivery) {
	if nackErr := delivery.Nack(false, false); nackErr != nil {
		w.logger.Error("Failed to NACK message",
			slog.String("error", nackErr.Error()),
		)
	}
}
