package handlers

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/readify/gateway/internal/apperr"
	"github.com/readify/gateway/internal/broker"
	"github.com/readify/gateway/internal/dispatch"
	"github.com/readify/gateway/internal/protocol"
	"github.com/readify/gateway/internal/relay"
	"github.com/readify/gateway/internal/session"
	"github.com/readify/gateway/internal/session/sessiontest"
	"github.com/readify/gateway/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeLister struct {
	files map[int64][]store.File
	owner map[int64]int64
}

func (f *fakeLister) ListProjectFiles(_ context.Context, projectID, userID int64) ([]store.File, error) {
	owner, ok := f.owner[projectID]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	if owner != userID {
		return nil, apperr.ErrForbidden
	}
	return f.files[projectID], nil
}

// gatedSource emits its events once release is closed.
type gatedSource struct {
	mu       sync.Mutex
	requests []relay.Request
	events   []string
	release  chan struct{}
}

func (g *gatedSource) Open(ctx context.Context, req relay.Request) (relay.Stream, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()
	return &gatedStream{src: g}, nil
}

type gatedStream struct {
	src *gatedSource
	i   int
}

func (s *gatedStream) Next(ctx context.Context) (relay.Event, error) {
	if s.src.release != nil {
		select {
		case <-s.src.release:
		case <-ctx.Done():
			return relay.Event{}, ctx.Err()
		}
	}
	if s.i >= len(s.src.events) {
		return relay.Event{}, io.EOF
	}
	ev := relay.Event{Data: s.src.events[s.i]}
	s.i++
	return ev, nil
}

func (s *gatedStream) Close() error { return nil }

type harness struct {
	sessions *session.Registry
	dispatch *dispatch.Dispatcher
	send     *SendMessage
	source   *gatedSource
}

func newHarness(t *testing.T, maxStreams int64) *harness {
	t.Helper()
	sessions := session.NewRegistry(testLogger())
	src := &gatedSource{events: []string{`{"type":"text","content":"hello"}`, `{"type":"[DONE]"}`}}
	reg := dispatch.NewRegistry()
	send := Register(reg, Deps{
		Sessions: sessions,
		Broker:   broker.NewLocal(sessions),
		Files: &fakeLister{
			owner: map[int64]int64{1: 100, 2: 200},
			files: map[int64][]store.File{1: {{
				ID: 5, ProjectID: 1, UserID: 100, OriginalName: "book.pdf", Size: 10,
				CreatedAt: time.UnixMilli(1700000000000), UpdatedAt: time.UnixMilli(1700000001000),
			}}},
		},
		Relay:      relay.New(src, testLogger()),
		MaxStreams: maxStreams,
		Logger:     testLogger(),
	})
	return &harness{
		sessions: sessions,
		dispatch: dispatch.NewDispatcher(reg, testLogger()),
		send:     send,
		source:   src,
	}
}

func (h *harness) connect(userID int64) (*session.Conn, *sessiontest.Transport) {
	c, tr := sessiontest.NewConn(userID)
	h.sessions.Add(c)
	return c, tr
}

func waitCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestPing(t *testing.T) {
	h := newHarness(t, 4)
	c, tr := h.connect(100)

	h.dispatch.Dispatch(c, []byte(`{"type":"ping"}`))
	h.dispatch.Dispatch(c, []byte(`{"type":"ping","data":{"any":"thing"}}`))

	envs := tr.Envelopes()
	if len(envs) != 2 {
		t.Fatalf("got %d envelopes", len(envs))
	}
	for _, env := range envs {
		if env.Type != protocol.TypePong || env.Data != "Server is alive" {
			t.Errorf("got %+v", env)
		}
	}
}

func TestBroadcast_ReachesEveryone(t *testing.T) {
	h := newHarness(t, 4)
	sender, ts := h.connect(100)
	_, to := h.connect(200)

	h.dispatch.Dispatch(sender, []byte(`{"type":"broadcast","data":"hello all"}`))

	for name, tr := range map[string]*sessiontest.Transport{"sender": ts, "other": to} {
		envs := tr.Envelopes()
		if len(envs) != 1 {
			t.Fatalf("%s: got %d envelopes", name, len(envs))
		}
		if envs[0].Type != protocol.TypeBroadcast || envs[0].Data != "Message from user 100: hello all" {
			t.Errorf("%s: got %+v", name, envs[0])
		}
	}
}

func TestBroadcast_EmptyText(t *testing.T) {
	h := newHarness(t, 4)
	c, tr := h.connect(100)

	h.dispatch.Dispatch(c, []byte(`{"type":"broadcast","data":"  "}`))

	envs := tr.Envelopes()
	if len(envs) != 1 || envs[0].Data != apperr.MsgInvalidArgument {
		t.Errorf("got %+v", envs)
	}
}

func TestQueryProjectFiles(t *testing.T) {
	h := newHarness(t, 4)
	c, tr := h.connect(100)

	h.dispatch.Dispatch(c, []byte(`{"type":"queryProjectFiles","data":{"projectId":1}}`))

	envs := tr.Envelopes()
	if len(envs) != 1 || envs[0].Type != protocol.TypeProjectFiles {
		t.Fatalf("got %+v", envs)
	}
	list, ok := envs[0].Data.([]any)
	if !ok || len(list) != 1 {
		t.Fatalf("data: %#v", envs[0].Data)
	}
	file := list[0].(map[string]any)
	if file["originalName"] != "book.pdf" || file["createTime"] != float64(1700000000000) {
		t.Errorf("file: %v", file)
	}
}

func TestQueryProjectFiles_Errors(t *testing.T) {
	tests := []struct {
		frame string
		want  string
	}{
		{`{"type":"queryProjectFiles","data":{"projectId":2}}`, apperr.MsgForbidden},
		{`{"type":"queryProjectFiles","data":{"projectId":99}}`, apperr.MsgNotFound},
		{`{"type":"queryProjectFiles","data":{}}`, apperr.MsgInvalidArgument},
		{`{"type":"queryProjectFiles","data":{"projectId":"one"}}`, apperr.MsgInvalidArgument},
	}
	for _, tt := range tests {
		h := newHarness(t, 4)
		c, tr := h.connect(100)
		h.dispatch.Dispatch(c, []byte(tt.frame))
		envs := tr.Envelopes()
		if len(envs) != 1 || envs[0].Type != protocol.TypeError || envs[0].Data != tt.want {
			t.Errorf("%s: got %+v, want %q", tt.frame, envs, tt.want)
		}
	}
}

func TestSendMessage_StreamsToOrigin(t *testing.T) {
	h := newHarness(t, 4)
	c, tr := h.connect(100)
	_, other := h.connect(200)

	h.dispatch.Dispatch(c, []byte(`{"type":"sendMessage","data":{"query":"summarize","projectId":1,"taskType":"ask","mindMapId":9}}`))

	envs := tr.WaitFor(waitCtx(t), 2)
	h.send.Wait()
	if len(envs) != 2 {
		t.Fatalf("got %d envelopes", len(envs))
	}
	if envs[0].Type != protocol.TypeAgentMessage || envs[0].Data != `{"type":"text","content":"hello"}` {
		t.Errorf("first: %+v", envs[0])
	}
	if envs[1].Type != protocol.TypeAgentComplete {
		t.Errorf("second: %+v", envs[1])
	}
	if len(other.Envelopes()) != 0 {
		t.Error("relay output leaked to another connection")
	}

	req := h.source.requests[0]
	if req.Query != "summarize" || req.ProjectID != 1 || req.TaskType != "ask" || req.UserID != 100 {
		t.Errorf("request: %+v", req)
	}
	if req.MindMapID == nil || *req.MindMapID != 9 {
		t.Errorf("MindMapID: %v", req.MindMapID)
	}
}

func TestSendMessage_Validation(t *testing.T) {
	h := newHarness(t, 4)
	for _, frame := range []string{
		`{"type":"sendMessage","data":{"projectId":1}}`,
		`{"type":"sendMessage","data":{"query":"q"}}`,
		`{"type":"sendMessage","data":{"query":"q","projectId":"x"}}`,
	} {
		c, tr := h.connect(100)
		h.dispatch.Dispatch(c, []byte(frame))
		envs := tr.Envelopes()
		if len(envs) != 1 || envs[0].Data != apperr.MsgInvalidArgument {
			t.Errorf("%s: got %+v", frame, envs)
		}
	}
	if len(h.source.requests) != 0 {
		t.Error("invalid requests reached the source")
	}
}

func TestSendMessage_DoesNotBlockReadLoop(t *testing.T) {
	h := newHarness(t, 4)
	h.source.release = make(chan struct{})
	c, tr := h.connect(100)

	h.dispatch.Dispatch(c, []byte(`{"type":"sendMessage","data":{"query":"q","projectId":1}}`))
	// The relay is parked; a ping must still be answered.
	h.dispatch.Dispatch(c, []byte(`{"type":"ping"}`))

	envs := tr.Envelopes()
	if len(envs) != 1 || envs[0].Type != protocol.TypePong {
		t.Fatalf("got %+v", envs)
	}
	close(h.source.release)
	tr.WaitFor(waitCtx(t), 3)
	h.send.Wait()
}

func TestSendMessage_StreamLimit(t *testing.T) {
	h := newHarness(t, 1)
	h.source.release = make(chan struct{})
	c, tr := h.connect(100)

	h.dispatch.Dispatch(c, []byte(`{"type":"sendMessage","data":{"query":"q","projectId":1}}`))
	h.dispatch.Dispatch(c, []byte(`{"type":"sendMessage","data":{"query":"q2","projectId":1}}`))

	envs := tr.Envelopes()
	if len(envs) != 1 || envs[0].Type != protocol.TypeError || envs[0].Data != apperr.MsgGeneric {
		t.Fatalf("got %+v", envs)
	}
	close(h.source.release)
	h.send.Wait()
}

func TestSendMessage_ConnectionCloseStopsRelay(t *testing.T) {
	h := newHarness(t, 4)
	h.source.release = make(chan struct{})
	defer close(h.source.release)
	c, tr := h.connect(100)

	h.dispatch.Dispatch(c, []byte(`{"type":"sendMessage","data":{"query":"q","projectId":1}}`))
	h.sessions.Remove(c.ID())
	_ = c.Close()

	done := make(chan struct{})
	go func() {
		h.send.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("relay still running after the connection closed")
	}
	if len(tr.Envelopes()) != 0 {
		t.Errorf("envelopes written after close: %+v", tr.Envelopes())
	}
}
