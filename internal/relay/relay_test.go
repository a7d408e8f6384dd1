package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/readify/gateway/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSource replays a fixed list of events, then ends with final.
type fakeSource struct {
	events  []string
	final   error
	openErr error

	closed bool
	read   int
}

func (f *fakeSource) Open(context.Context, Request) (Stream, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f, nil
}

func (f *fakeSource) Next(ctx context.Context) (Event, error) {
	if err := ctx.Err(); err != nil {
		return Event{}, err
	}
	if f.read < len(f.events) {
		ev := Event{Data: f.events[f.read]}
		f.read++
		return ev, nil
	}
	if f.final != nil {
		return Event{}, f.final
	}
	return Event{}, io.EOF
}

func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}

type recorder struct {
	envs []protocol.Envelope
}

func (r *recorder) sink(env protocol.Envelope) { r.envs = append(r.envs, env) }

func (r *recorder) types() []string {
	out := make([]string, len(r.envs))
	for i, e := range r.envs {
		out[i] = e.Type
	}
	return out
}

func TestRelay_StopsAtSentinel(t *testing.T) {
	src := &fakeSource{events: []string{"a", "b", `{"type":"[DONE]"}`, "c"}}
	rec := &recorder{}

	state := New(src, testLogger()).Run(context.Background(), Request{Query: "q", ProjectID: 1}, rec.sink)

	if state != Completed {
		t.Fatalf("state = %v, want completed", state)
	}
	if len(rec.envs) != 3 {
		t.Fatalf("envelopes = %v, want 3", rec.types())
	}
	if rec.envs[0].Type != protocol.TypeAgentMessage || rec.envs[0].Data != "a" {
		t.Errorf("first: %+v", rec.envs[0])
	}
	if rec.envs[1].Data != "b" {
		t.Errorf("second: %+v", rec.envs[1])
	}
	if rec.envs[2].Type != protocol.TypeAgentComplete || rec.envs[2].Data != "Agent stream completed" {
		t.Errorf("terminal: %+v", rec.envs[2])
	}
	if !src.closed {
		t.Error("stream not closed after sentinel")
	}
	if src.read != 3 {
		t.Errorf("read %d events, want reading to stop at the sentinel", src.read)
	}
}

func TestRelay_CompletesAtEOF(t *testing.T) {
	src := &fakeSource{events: []string{`{"type":"text","content":"x"}`}}
	rec := &recorder{}

	state := New(src, testLogger()).Run(context.Background(), Request{}, rec.sink)

	if state != Completed {
		t.Fatalf("state = %v", state)
	}
	if got := rec.types(); len(got) != 2 || got[1] != protocol.TypeAgentComplete {
		t.Errorf("types = %v", got)
	}
	if rec.envs[0].Data != `{"type":"text","content":"x"}` {
		t.Errorf("payload not forwarded raw: %v", rec.envs[0].Data)
	}
}

func TestRelay_ErrorBeforeAnyEvent(t *testing.T) {
	src := &fakeSource{final: errors.New("connection reset")}
	rec := &recorder{}

	state := New(src, testLogger()).Run(context.Background(), Request{}, rec.sink)

	if state != Failed {
		t.Fatalf("state = %v, want failed", state)
	}
	if len(rec.envs) != 1 {
		t.Fatalf("envelopes = %v, want exactly one", rec.types())
	}
	if rec.envs[0].Type != protocol.TypeError || rec.envs[0].Data != "Failed to process agent stream: connection reset" {
		t.Errorf("got %+v", rec.envs[0])
	}
}

func TestRelay_ErrorMidStream(t *testing.T) {
	src := &fakeSource{events: []string{"a"}, final: errors.New("boom")}
	rec := &recorder{}

	state := New(src, testLogger()).Run(context.Background(), Request{}, rec.sink)

	if state != Failed {
		t.Fatalf("state = %v", state)
	}
	got := rec.types()
	if len(got) != 2 || got[0] != protocol.TypeAgentMessage || got[1] != protocol.TypeError {
		t.Errorf("types = %v", got)
	}
}

func TestRelay_OpenFailure(t *testing.T) {
	src := &fakeSource{openErr: errors.New("agent returned HTTP 503: down")}
	rec := &recorder{}

	state := New(src, testLogger()).Run(context.Background(), Request{}, rec.sink)

	if state != Failed {
		t.Fatalf("state = %v", state)
	}
	if len(rec.envs) != 1 || rec.envs[0].Data != "Failed to process agent stream: agent returned HTTP 503: down" {
		t.Errorf("got %+v", rec.envs)
	}
}

func TestRelay_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := &fakeSource{events: []string{"a", "b"}}
	rec := &recorder{}

	r := New(src, testLogger())
	state := r.Run(ctx, Request{}, rec.sink)

	if state != Failed {
		t.Fatalf("state = %v", state)
	}
	if len(rec.envs) != 1 || rec.envs[0].Type != protocol.TypeError {
		t.Errorf("got %v", rec.types())
	}
	if r.Active() != 0 {
		t.Errorf("Active = %d after run", r.Active())
	}
}

func TestIsSentinel(t *testing.T) {
	tests := []struct {
		data string
		want bool
	}{
		{`{"type":"[DONE]"}`, true},
		{`{"type":"[DONE]","extra":1}`, true},
		{`[DONE]`, true},
		{`{"type":"text"}`, false},
		{`{"content":"[DONE]"}`, false},
		{`"[DONE]"`, false},
		{`[1,2]`, false},
		{``, false},
		{`[DONE] `, false},
	}
	for _, tt := range tests {
		if got := IsSentinel(tt.data); got != tt.want {
			t.Errorf("IsSentinel(%q) = %v, want %v", tt.data, got, tt.want)
		}
	}
}

func TestStateString(t *testing.T) {
	if Streaming.String() != "streaming" || State(42).String() != "unknown" {
		t.Error("unexpected state names")
	}
}
