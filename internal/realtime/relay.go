package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const RelayChannel = "inbox-hub:events"

type relayEnvelope struct {
	Origin   string          `json:"origin"`
	TenantID uuid.UUID       `json:"tenantId"`
	Event    string          `json:"event"`
	Frame    json.RawMessage `json:"frame"`
}

// RedisRelay shares fanout frames between nodes over Redis pub/sub, so a
// subscriber connected to any node sees every event of its tenant.
type RedisRelay struct {
	client *redis.Client
	origin string
	hub    *Hub
	logger *slog.Logger
}

func NewRedisRelay(url string, hub *Hub, logger *slog.Logger) (*RedisRelay, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	c := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &RedisRelay{
		client: c,
		origin: uuid.NewString(),
		hub:    hub,
		logger: logger.With(slog.String("component", "relay")),
	}, nil
}

func (r *RedisRelay) Forward(ctx context.Context, tenantID uuid.UUID, event string, frame []byte) error {
	data, err := json.Marshal(relayEnvelope{Origin: r.origin, TenantID: tenantID, Event: event, Frame: frame})
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, RelayChannel, data).Err()
}

// Run delivers frames published by other nodes until ctx is done.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, RelayChannel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis: subscribe: %w", err)
	}
	r.logger.Info("relay subscribed", slog.String("channel", RelayChannel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env relayEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.logger.Warn("drop malformed relay frame", slog.Any("error", err))
				continue
			}
			if env.Origin == r.origin {
				continue
			}
			r.hub.Deliver(env.TenantID, env.Event, env.Frame)
		}
	}
}

func (r *RedisRelay) Close() error {
	return r.client.Close()
}
