package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/readify/gateway/internal/config"
	"github.com/readify/gateway/internal/protocol"
)

// Redis publishes broadcasts on a pub/sub channel. Every instance,
// including the publisher, delivers what it receives on the channel to its
// own connections.
type Redis struct {
	client  *redis.Client
	channel string
	fanout  Fanout
	logger  *slog.Logger
}

// NewRedis creates a Redis-backed broker.
func NewRedis(cfg config.BrokerConfig, fanout Fanout, logger *slog.Logger) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return newRedis(client, cfg.Channel, fanout, logger)
}

func newRedis(client *redis.Client, channel string, fanout Fanout, logger *slog.Logger) *Redis {
	if channel == "" {
		channel = "readify:broadcast"
	}
	return &Redis{
		client:  client,
		channel: channel,
		fanout:  fanout,
		logger:  logger.With("component", "broker", "channel", channel),
	}
}

func (r *Redis) Publish(ctx context.Context, env protocol.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal broadcast: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("publish broadcast: %w", err)
	}
	return nil
}

// wireEnvelope keeps the data payload undecoded so it is re-sent verbatim.
type wireEnvelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

func (r *Redis) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer func() { _ = sub.Close() }()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.logger.Info("broadcast subscriber started")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.deliver(msg.Payload)
		}
	}
}

func (r *Redis) deliver(payload string) {
	var w wireEnvelope
	if err := json.Unmarshal([]byte(payload), &w); err != nil || w.Type == "" {
		r.logger.Warn("dropping malformed broadcast", "error", err)
		return
	}
	n := r.fanout.Broadcast(protocol.Envelope{Type: w.Type, Data: w.Data, Timestamp: w.Timestamp})
	r.logger.Debug("broadcast delivered", "type", w.Type, "recipients", n)
}

// Ping checks the Redis connection.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
