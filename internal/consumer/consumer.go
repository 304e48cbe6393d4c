// internal/consumer/consumer.go
package consumer

import (
	"fmt"
	"log/slog"

	"github.com/streadway/amqp"

	"inbox-hub/internal/messaging"
)

type MessageHandlerFunc func(tenantID string, delivery amqp.Delivery)

// Consumer holds control channels and metadata for a running tenant consumer
type Consumer struct {
	TenantID    string
	QueueName   string
	Channel     *amqp.Channel
	StopChan    chan struct{}
	DoneChan    chan struct{}
	Handler     MessageHandlerFunc
	ConsumerTag string
	logger      *slog.Logger
}

// StartConsumer starts a goroutine that consumes the tenant's queue. prefetch
// caps unacknowledged deliveries, normally the tenant's worker count.
func StartConsumer(conn *amqp.Connection, tenantID string, prefetch int, handler MessageHandlerFunc, logger *slog.Logger) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("tenant %s: failed to open channel: %w", tenantID, err)
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("tenant %s: failed to set qos: %w", tenantID, err)
	}

	queueName := messaging.QueueName(tenantID)
	consumerTag := fmt.Sprintf("consumer-%s", tenantID)

	msgs, err := ch.Consume(
		queueName,
		consumerTag,
		false, // autoAck: false to handle manually
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("tenant %s: failed to start consuming: %w", tenantID, err)
	}

	c := &Consumer{
		TenantID:    tenantID,
		QueueName:   queueName,
		Channel:     ch,
		StopChan:    make(chan struct{}),
		DoneChan:    make(chan struct{}),
		Handler:     handler,
		ConsumerTag: consumerTag,
		logger:      logger.With(slog.String("component", "consumer"), slog.String("tenant_id", tenantID)),
	}

	go c.consumeLoop(msgs)

	c.logger.Info("started consumer")
	return c, nil
}

// consumeLoop processes messages until StopChan is closed
func (c *Consumer) consumeLoop(msgs <-chan amqp.Delivery) {
	defer close(c.DoneChan)

	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				c.logger.Warn("delivery channel closed")
				return
			}
			c.Handler(c.TenantID, msg)

		case <-c.StopChan:
			c.logger.Info("stopping consumer")
			_ = c.Channel.Cancel(c.ConsumerTag, false)
			return
		}
	}
}

// Stop signals the consumer to stop and waits for the loop to exit. The
// channel stays open so in-flight deliveries can still be acknowledged.
func (c *Consumer) Stop() {
	close(c.StopChan)
	<-c.DoneChan
	c.logger.Info("stopped consumer")
}

// Close releases the channel; unacknowledged deliveries are requeued by the broker.
func (c *Consumer) Close() {
	_ = c.Channel.Close()
}
