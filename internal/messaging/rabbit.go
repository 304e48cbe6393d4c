// internal/messaging/rabbit.go
package messaging

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/streadway/amqp"

	"inbox-hub/internal/metrics"
)

func QueueName(tenantID string) string {
	return fmt.Sprintf("tenant_%s_queue", tenantID)
}

func DLQName(tenantID string) string {
	return fmt.Sprintf("tenant_%s_dlq", tenantID)
}

type RabbitClient struct {
	conn    *amqp.Connection
	mu      sync.Mutex
	channel *amqp.Channel
	URL     string
	logger  *slog.Logger
}

func NewRabbitClient(url string, logger *slog.Logger) (*RabbitClient, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	return &RabbitClient{
		conn:    conn,
		channel: ch,
		URL:     url,
		logger:  logger.With(slog.String("component", "rabbit")),
	}, nil
}

func (r *RabbitClient) GetConnection() *amqp.Connection {
	return r.conn
}

// DeclareQueue creates the tenant's durable auto-reply queue and its dead-letter queue.
func (r *RabbitClient) DeclareQueue(tenantID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	queueName := QueueName(tenantID)
	dlqName := DLQName(tenantID)

	// 1. DLQ
	_, err := r.channel.QueueDeclare(
		dlqName,
		true, false, false, false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare DLQ: %w", err)
	}

	// 2. Main Queue with DLQ binding
	args := amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": dlqName,
	}
	_, err = r.channel.QueueDeclare(
		queueName,
		true, false, false, false,
		args,
	)
	if err != nil {
		return fmt.Errorf("declare main queue: %w", err)
	}

	r.logger.Info("queues declared", slog.String("tenant_id", tenantID))
	return nil
}

// DeleteQueue removes the tenant's main queue. The DLQ is kept for inspection.
func (r *RabbitClient) DeleteQueue(tenantID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.channel.QueueDelete(QueueName(tenantID), false, false, false); err != nil {
		return fmt.Errorf("delete queue: %w", err)
	}
	return nil
}

// Publish sends a message to the specified tenant queue
func (r *RabbitClient) Publish(tenantID string, body []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	queueName := QueueName(tenantID)
	err := r.channel.Publish(
		"",        // default exchange
		queueName, // routing key (queue name)
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish to queue %s: %w", queueName, err)
	}
	return nil
}

// PublishJSON encodes v and publishes it to the tenant queue.
func (r *RabbitClient) PublishJSON(tenantID string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	return r.Publish(tenantID, body)
}

// Close cleans up connection and channel
func (r *RabbitClient) Close() error {
	if err := r.channel.Close(); err != nil {
		return err
	}
	if err := r.conn.Close(); err != nil {
		return err
	}
	return nil
}

func (r *RabbitClient) UpdateQueueDepth(tenantID string) {
	r.mu.Lock()
	q, err := r.channel.QueueInspect(QueueName(tenantID))
	r.mu.Unlock()
	if err != nil {
		r.logger.Warn("failed to inspect queue", slog.String("tenant_id", tenantID), slog.Any("error", err))
		return
	}

	metrics.QueueDepth.WithLabelValues(tenantID).Set(float64(q.Messages))
}
