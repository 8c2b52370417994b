package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPQueue publishes job ids to a durable RabbitMQ queue. Each Consume call
// opens its own channel with prefetch 1, so a consumer holds at most one
// unacknowledged job.
type AMQPQueue struct {
	conn *amqp.Connection
	name string
	log  *slog.Logger

	mu  sync.Mutex
	pub *amqp.Channel
}

func sanitizeURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	if !strings.HasSuffix(clean, "/") {
		clean += "/"
	}
	parsed, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if parsed.Scheme != "amqp" && parsed.Scheme != "amqps" {
		return "", fmt.Errorf("invalid AMQP scheme: %s", parsed.Scheme)
	}
	return clean, nil
}

func NewAMQPQueue(amqpURL, name string, log *slog.Logger) (*AMQPQueue, error) {
	cleanURL, err := sanitizeURL(amqpURL)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	conn, err := amqp.Dial(cleanURL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", name, err)
	}

	return &AMQPQueue{conn: conn, name: name, log: log, pub: ch}, nil
}

func (q *AMQPQueue) Enqueue(ctx context.Context, jobID int64) error {
	body := encodeJobID(jobID)

	q.mu.Lock()
	defer q.mu.Unlock()
	err := q.pub.PublishWithContext(ctx, "", q.name, false, false, amqp.Publishing{
		ContentType:  "text/plain",
		DeliveryMode: amqp.Persistent,
		MessageId:    body,
		Body:         []byte(body),
	})
	if err != nil {
		return fmt.Errorf("publish job %d: %w", jobID, err)
	}
	return nil
}

func (q *AMQPQueue) Consume(ctx context.Context, h Handler) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := ch.Consume(q.name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", q.name, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("amqp delivery channel closed")
			}
			q.handle(ctx, d, h)
		}
	}
}

func (q *AMQPQueue) handle(ctx context.Context, d amqp.Delivery, h Handler) {
	id, err := decodeJobID(string(d.Body))
	if err != nil {
		q.log.Warn("dropping malformed delivery", "queue", q.name, "payload", string(d.Body))
		_ = d.Reject(false)
		return
	}
	if err := h(ctx, id); err != nil {
		q.log.Error("job handler failed, requeueing", "job_id", id, "err", err)
		_ = d.Nack(false, true)
		return
	}
	if err := d.Ack(false); err != nil {
		q.log.Error("ack job failed", "job_id", id, "err", err)
	}
}

func (q *AMQPQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pub != nil {
		q.pub.Close()
	}
	return q.conn.Close()
}
