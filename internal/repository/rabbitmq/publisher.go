package rabbitmq

import (
	"context"
	"encoding/json"

	amqp "github.com/rabbitmq/amqp091-go"

	"lingopipe/internal/domain/entity"
)

const (
	JobsExchange   = "jobs.exchange"
	JobsRoutingKey = "jobs.process"
	JobsQueue      = "jobs.process.q"

	// maxPriority bounds the per-message priority lanes (paid tier 10,
	// default 5, low 1).
	maxPriority = 10
)

type TaskPublisher struct {
	channel    *amqp.Channel
	exchange   string
	routingKey string
}

func NewTaskPublisher(conn *amqp.Connection) (*TaskPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}

	if err := ch.ExchangeDeclare(
		JobsExchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false,
		false,
		nil,
	); err != nil {
		return nil, err
	}

	// Declaring the queue on the publisher side too means dispatched tasks
	// survive a worker that has not started yet.
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

	return &TaskPublisher{
		channel:    ch,
		exchange:   JobsExchange,
		routingKey: JobsRoutingKey,
	}, nil
}

func (p *TaskPublisher) PublishTask(ctx context.Context, msg entity.JobTaskMessage, priority uint8) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if priority > maxPriority {
		priority = maxPriority
	}
	return p.channel.PublishWithContext(ctx,
		p.exchange,
		p.routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Priority:     priority,
			Body:         body,
		},
	)
}
