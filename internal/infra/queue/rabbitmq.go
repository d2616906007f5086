package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"sms-range-relay/internal/domain"
	"sms-range-relay/internal/infra/metrics"
)

// RabbitRangeQueue реализует domain.RangeQueue поверх AMQP. Очередь
// долговечная, подтверждение ручное: невыполненная задача возвращается
// брокером и будет доставлена повторно. При обрыве соединения следующая
// операция переподключается сама.
type RabbitRangeQueue struct {
	url        string
	queue      string
	conn       *amqp.Connection
	ch         *amqp.Channel
	deliveries <-chan amqp.Delivery
}

// NewRabbitRangeQueue подключается к брокеру и объявляет очередь.
func NewRabbitRangeQueue(amqpURL, queueName string) (*RabbitRangeQueue, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queueName == "" {
		return nil, errors.New("queue name is empty")
	}
	q := &RabbitRangeQueue{url: amqpURL, queue: queueName}
	if err := q.connect(); err != nil {
		return nil, err
	}
	return q, nil
}

// connect устанавливает соединение, канал и очередь заново.
func (q *RabbitRangeQueue) connect() error {
	conn, err := amqp.Dial(q.url)
	if err != nil {
		return fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(q.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("queue declare: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("qos: %w", err)
	}
	q.conn = conn
	q.ch = ch
	q.deliveries = nil
	return nil
}

// ensure проверяет соединение и переподключается после обрыва.
func (q *RabbitRangeQueue) ensure() error {
	if q.conn != nil && !q.conn.IsClosed() {
		return nil
	}
	q.reset()
	return q.connect()
}

// reset сбрасывает состояние, чтобы ensure поднял всё заново.
func (q *RabbitRangeQueue) reset() {
	if q.ch != nil {
		_ = q.ch.Close()
	}
	if q.conn != nil {
		_ = q.conn.Close()
	}
	q.conn = nil
	q.ch = nil
	q.deliveries = nil
}

// Enqueue публикует задачу в очередь.
func (q *RabbitRangeQueue) Enqueue(ctx context.Context, job domain.RangeJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.ensure(); err != nil {
		return err
	}
	start := time.Now()
	err = q.ch.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID,
		Timestamp:    time.Now().UTC(),
		Body:         payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	if err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

// Receive блокирующе читает задачу. Ack-функция подтверждает обработку
// или возвращает задачу брокеру для повторной доставки. Закрытие канала
// доставки трактуется как обрыв: состояние сбрасывается, вызывающая
// сторона повторяет Receive и получает свежее соединение.
func (q *RabbitRangeQueue) Receive(ctx context.Context) (domain.RangeJob, domain.RangeAckFunc, error) {
	if err := q.ensure(); err != nil {
		return domain.RangeJob{}, nil, err
	}
	if q.deliveries == nil {
		deliveries, err := q.ch.Consume(q.queue, "", false, false, false, false, nil)
		if err != nil {
			q.reset()
			return domain.RangeJob{}, nil, fmt.Errorf("consume: %w", err)
		}
		q.deliveries = deliveries
	}
	for {
		select {
		case <-ctx.Done():
			return domain.RangeJob{}, nil, ctx.Err()
		case d, ok := <-q.deliveries:
			if !ok {
				q.reset()
				return domain.RangeJob{}, nil, errors.New("amqp: connection lost")
			}
			var job domain.RangeJob
			if err := json.Unmarshal(d.Body, &job); err != nil {
				// Нечитаемую задачу не возвращаем в очередь, иначе она зациклится.
				_ = d.Ack(false)
				continue
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
}

// Close освобождает канал и соединение.
func (q *RabbitRangeQueue) Close() error {
	var errs []error
	if q.ch != nil {
		if err := q.ch.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if q.conn != nil {
		if err := q.conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
