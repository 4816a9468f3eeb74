package rabbitmq

import (
	"context"
	"encoding/json"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"lingopipe/internal/domain/entity"
)

// TaskExecutor runs one job task to its terminal state. Job-level failures
// are absorbed by the executor (the job is marked failed); an error return
// here means the task itself could not be handled.
type TaskExecutor interface {
	Execute(ctx context.Context, msg entity.JobTaskMessage) error
}

type TaskConsumer struct {
	channel     *amqp.Channel
	queue       string
	executor    TaskExecutor
	prefetchCnt int
	log         *logrus.Logger
}

func NewTaskConsumer(conn *amqp.Connection, executor TaskExecutor, log *logrus.Logger) (*TaskConsumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}

	if err := ch.ExchangeDeclare(JobsExchange, "topic", true, false, false, false, nil); err != nil {
		return nil, err
	}

	if _, err := ch.QueueDeclare(
		JobsQueue,
		true,
		false,
		false,
		false,
		amqp.Table{"x-max-priority": int32(maxPriority)},
	); err != nil {
		return nil, err
	}

	if err := ch.QueueBind(JobsQueue, JobsRoutingKey, JobsExchange, false, nil); err != nil {
		return nil, err
	}

	consumer := &TaskConsumer{
		channel:     ch,
		queue:       JobsQueue,
		executor:    executor,
		prefetchCnt: 1, // one long-running pipeline at a time per worker
	}
	consumer.log = log

	if err := ch.Qos(consumer.prefetchCnt, 0, false); err != nil {
		return nil, err
	}

	return consumer, nil
}

// Start consumes until the context is cancelled. Deliveries are always
// acked after execution: a failed pipeline marks the job failed in the
// record store, and retries only ever happen through an explicit
// re-dispatch, never a broker re-queue.
func (c *TaskConsumer) Start(ctx context.Context) error {
	msgs, err := c.channel.Consume(
		c.queue,
		"",
		false, // manual ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			c.log.Info("task consumer shutting down")
			return nil
		case msg, ok := <-msgs:
			if !ok {
				c.log.Warn("rabbitmq channel closed")
				return nil
			}

			var task entity.JobTaskMessage
			if err := json.Unmarshal(msg.Body, &task); err != nil {
				c.log.WithError(err).Error("failed to unmarshal task, dropping")
				_ = msg.Nack(false, false)
				continue
			}

			if err := c.executor.Execute(ctx, task); err != nil {
				c.log.WithError(err).WithField("job_id", task.JobID).Error("task execution error")
			}
			_ = msg.Ack(false)
		}
	}
}
