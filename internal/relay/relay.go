package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/readify/gateway/internal/protocol"
)

// State is the lifecycle position of one relay run.
type State int

const (
	Idle State = iota
	Requesting
	Streaming
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Requesting:
		return "requesting"
	case Streaming:
		return "streaming"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Client-facing texts of the terminal envelopes.
const (
	CompletedText    = "Agent stream completed"
	failedTextPrefix = "Failed to process agent stream: "
)

// Sink receives the envelopes produced by a relay run.
type Sink func(env protocol.Envelope)

// Relay forwards upstream events to a sink until the sentinel, the end of
// the stream or an error.
type Relay struct {
	source Source
	logger *slog.Logger
	active atomic.Int64
}

// New creates a relay reading from source.
func New(source Source, logger *slog.Logger) *Relay {
	return &Relay{
		source: source,
		logger: logger.With("component", "relay"),
	}
}

// Active returns the number of runs in progress.
func (r *Relay) Active() int64 {
	return r.active.Load()
}

// Run executes one relay and returns its final state. Every run emits
// exactly one terminal envelope: agentComplete on the sentinel or a clean
// end of stream, error otherwise. Nothing is forwarded after the sentinel.
func (r *Relay) Run(ctx context.Context, req Request, sink Sink) State {
	r.active.Add(1)
	defer r.active.Add(-1)

	log := r.logger.With("user_id", req.UserID, "project_id", req.ProjectID)
	state := Idle
	moveTo := func(next State) {
		log.Debug("relay state", "from", state.String(), "to", next.String())
		state = next
	}
	fail := func(err error) State {
		moveTo(Failed)
		if ctx.Err() != nil {
			log.Info("relay canceled", "error", err)
		} else {
			log.Warn("relay failed", "error", err)
		}
		sink(protocol.Error(failedTextPrefix + err.Error()))
		return state
	}

	moveTo(Requesting)
	stream, err := r.source.Open(ctx, req)
	if err != nil {
		return fail(err)
	}
	defer stream.Close()
	moveTo(Streaming)

	forwarded := 0
	for {
		ev, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fail(err)
		}
		if IsSentinel(ev.Data) {
			break
		}
		sink(protocol.New(protocol.TypeAgentMessage, ev.Data))
		forwarded++
	}

	moveTo(Completed)
	log.Info("relay completed", "events", forwarded)
	sink(protocol.New(protocol.TypeAgentComplete, CompletedText))
	return state
}
