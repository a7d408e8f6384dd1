// Package broker fans broadcast envelopes out to every connected client,
// either within this process or across gateway instances via Redis.
package broker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/readify/gateway/internal/config"
	"github.com/readify/gateway/internal/protocol"
)

// Fanout delivers an envelope to every local connection.
// *session.Registry implements it.
type Fanout interface {
	Broadcast(env protocol.Envelope) int
}

// Broker publishes broadcasts. Run blocks delivering inbound broadcasts
// until ctx is canceled.
type Broker interface {
	Publish(ctx context.Context, env protocol.Envelope) error
	Run(ctx context.Context) error
	Close() error
}

// New creates a Broker based on the configured driver.
func New(cfg config.BrokerConfig, fanout Fanout, logger *slog.Logger) (Broker, error) {
	switch cfg.Driver {
	case "", "local":
		return NewLocal(fanout), nil
	case "redis":
		return NewRedis(cfg, fanout, logger), nil
	default:
		return nil, fmt.Errorf("unknown broker driver: %q", cfg.Driver)
	}
}

// Local delivers broadcasts directly to this process's connections.
type Local struct {
	fanout Fanout
}

// NewLocal creates an in-process broker.
func NewLocal(fanout Fanout) *Local {
	return &Local{fanout: fanout}
}

func (l *Local) Publish(_ context.Context, env protocol.Envelope) error {
	l.fanout.Broadcast(env)
	return nil
}

func (l *Local) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (l *Local) Close() error { return nil }
