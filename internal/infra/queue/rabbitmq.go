package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"tweet-scout/internal/domain"
)

// RabbitEngagementQueue реализует очередь задач поверх RabbitMQ.
// Сообщения публикуются persistent, подтверждаются вручную: nack с requeue
// возвращает задачу в очередь.
type RabbitEngagementQueue struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string

	mu         sync.Mutex
	deliveries <-chan amqp.Delivery
}

// NewRabbitEngagementQueue подключается к брокеру и объявляет очередь.
func NewRabbitEngagementQueue(url, queue string) (*RabbitEngagementQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	return &RabbitEngagementQueue{conn: conn, ch: ch, queue: queue}, nil
}

// Enqueue публикует задачу в очередь.
func (q *RabbitEngagementQueue) Enqueue(ctx context.Context, job domain.EngagementJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	err = q.ch.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID,
		Body:         payload,
	})
	if err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

// Receive блокирующе читает задачу из очереди.
func (q *RabbitEngagementQueue) Receive(ctx context.Context) (domain.EngagementJob, domain.EngagementAckFunc, error) {
	deliveries, err := q.consume()
	if err != nil {
		return domain.EngagementJob{}, nil, err
	}

	select {
	case <-ctx.Done():
		return domain.EngagementJob{}, nil, ctx.Err()
	case d, ok := <-deliveries:
		if !ok {
			return domain.EngagementJob{}, nil, errors.New("amqp queue: channel closed")
		}
		var job domain.EngagementJob
		if err := json.Unmarshal(d.Body, &job); err != nil {
			// Нечитаемое сообщение повторять бессмысленно.
			_ = d.Nack(false, false)
			return domain.EngagementJob{}, nil, fmt.Errorf("decode job: %w", err)
		}
		ack := func(success bool) error {
			if success {
				return d.Ack(false)
			}
			return d.Nack(false, true)
		}
		return job, ack, nil
	}
}

func (q *RabbitEngagementQueue) consume() (<-chan amqp.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.deliveries != nil {
		return q.deliveries, nil
	}
	deliveries, err := q.ch.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", q.queue, err)
	}
	q.deliveries = deliveries
	return deliveries, nil
}

// Close освобождает соединение с брокером.
func (q *RabbitEngagementQueue) Close() error {
	if err := q.ch.Close(); err != nil {
		_ = q.conn.Close()
		return err
	}
	return q.conn.Close()
}
