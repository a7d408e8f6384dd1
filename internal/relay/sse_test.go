package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHTTPSource_QueryParameters(t *testing.T) {
	var gotPath string
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = map[string]string{}
		for k := range r.URL.Query() {
			gotQuery[k] = r.URL.Query().Get(k)
		}
		if r.Header.Get("Accept") != "text/event-stream" {
			t.Errorf("Accept header: %q", r.Header.Get("Accept"))
		}
		w.Header().Set("Content-Type", "text/event-stream")
	}))
	defer srv.Close()

	src := NewHTTPSource(HTTPSourceConfig{BaseURL: srv.URL + "/", Vendor: "openai"}, testLogger())
	mindMap := int64(77)
	stream, err := src.Open(context.Background(), Request{
		Query:     "what is this & that?",
		ProjectID: 12,
		TaskType:  "summary",
		MindMapID: &mindMap,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer stream.Close()

	if gotPath != "/api/v1/agent/stream" {
		t.Errorf("path: got %q", gotPath)
	}
	want := map[string]string{
		"query":      "what is this & that?",
		"project_id": "12",
		"task_type":  "summary",
		"vendor":     "openai",
		"context":    `{"mind_map_id":77}`,
	}
	for k, v := range want {
		if gotQuery[k] != v {
			t.Errorf("param %s: got %q, want %q", k, gotQuery[k], v)
		}
	}
}

func TestHTTPSource_OmitsOptionalParameters(t *testing.T) {
	var rawQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawQuery = r.URL.RawQuery
	}))
	defer srv.Close()

	src := NewHTTPSource(HTTPSourceConfig{BaseURL: srv.URL, StreamPath: "/stream"}, testLogger())
	stream, err := src.Open(context.Background(), Request{Query: "q", ProjectID: 1})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	stream.Close()

	if strings.Contains(rawQuery, "vendor=") || strings.Contains(rawQuery, "context=") {
		t.Errorf("unexpected optional params: %s", rawQuery)
	}
}

func TestHTTPSource_ParsesEvents(t *testing.T) {
	body := ": keepalive comment\n" +
		"data: first\n\n" +
		"event: chunk\nid: 2\ndata: line one\ndata: line two\n\n" +
		"data:{\"type\":\"text\"}\r\n\r\n" +
		"\n\n" +
		"data: last\n\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	stream, err := NewHTTPSource(HTTPSourceConfig{BaseURL: srv.URL}, testLogger()).Open(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer stream.Close()

	ctx := context.Background()
	want := []Event{
		{Data: "first"},
		{ID: "2", Name: "chunk", Data: "line one\nline two"},
		{Data: `{"type":"text"}`},
		{Data: "last"},
	}
	for i, w := range want {
		ev, err := stream.Next(ctx)
		if err != nil {
			t.Fatalf("event %d: %v", i, err)
		}
		if ev != w {
			t.Errorf("event %d: got %+v, want %+v", i, ev, w)
		}
	}
	if _, err := stream.Next(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("after last event: got %v, want io.EOF", err)
	}
}

func TestHTTPSource_LineEndings(t *testing.T) {
	for name, body := range map[string]string{
		"cr":   "data: a\r\rdata: b\r\r",
		"crlf": "data: a\r\n\r\ndata: b\r\n\r\n",
		"lf":   "data: a\n\ndata: b\n\n",
		"mix":  "data: a\r\n\rdata: b\n\r\n",
	} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/event-stream")
				fmt.Fprint(w, body)
			}))
			defer srv.Close()

			stream, err := NewHTTPSource(HTTPSourceConfig{BaseURL: srv.URL}, testLogger()).Open(context.Background(), Request{})
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer stream.Close()

			var got []string
			for {
				ev, err := stream.Next(context.Background())
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					t.Fatalf("Next: %v", err)
				}
				got = append(got, ev.Data)
			}
			if len(got) != 2 || got[0] != "a" || got[1] != "b" {
				t.Errorf("events = %q, want [a b]", got)
			}
		})
	}
}

func TestRelay_SentinelWithCRLineEndings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: one\r\rdata: {\"type\":\"[DONE]\"}\r\rdata: late\r\r")
	}))
	defer srv.Close()

	rec := &recorder{}
	state := New(NewHTTPSource(HTTPSourceConfig{BaseURL: srv.URL}, testLogger()), testLogger()).
		Run(context.Background(), Request{Query: "q", ProjectID: 1}, rec.sink)

	if state != Completed {
		t.Fatalf("state = %v", state)
	}
	if got := rec.types(); len(got) != 2 {
		t.Errorf("types = %v, want agentMessage + agentComplete", got)
	}
}

func TestHTTPSource_OversizedEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: "+strings.Repeat("x", 8192))
	}))
	defer srv.Close()

	src := NewHTTPSource(HTTPSourceConfig{BaseURL: srv.URL, MaxEventBytes: 1024}, testLogger())
	stream, err := src.Open(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer stream.Close()

	ev, err := stream.Next(context.Background())
	if err == nil {
		t.Fatalf("expected error for oversized event, got %d bytes of data", len(ev.Data))
	}
	if errors.Is(err, io.EOF) {
		t.Errorf("oversized event reported as clean end of stream: %v", err)
	}
}

func TestHTTPSource_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "agent unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPSource(HTTPSourceConfig{BaseURL: srv.URL}, testLogger()).Open(context.Background(), Request{})
	if err == nil {
		t.Fatal("expected error for 503")
	}
	if !strings.Contains(err.Error(), "503") || !strings.Contains(err.Error(), "agent unavailable") {
		t.Errorf("error = %v", err)
	}
}

func TestHTTPSource_CloseUnblocksNext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: one\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	stream, err := NewHTTPSource(HTTPSourceConfig{BaseURL: srv.URL}, testLogger()).Open(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if ev, err := stream.Next(context.Background()); err != nil || ev.Data != "one" {
		t.Fatalf("first event: %+v, %v", ev, err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := stream.Next(context.Background())
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	stream.Close()

	select {
	case err := <-done:
		if err == nil {
			t.Error("expected error after Close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Next still blocked after Close")
	}
}

func TestRelay_OverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, d := range []string{`{"type":"text","content":"a"}`, `{"type":"[DONE]"}`, `{"type":"text","content":"late"}`} {
			fmt.Fprintf(w, "data: %s\n\n", d)
		}
	}))
	defer srv.Close()

	rec := &recorder{}
	state := New(NewHTTPSource(HTTPSourceConfig{BaseURL: srv.URL}, testLogger()), testLogger()).
		Run(context.Background(), Request{Query: "q", ProjectID: 1}, rec.sink)

	if state != Completed {
		t.Fatalf("state = %v", state)
	}
	if got := rec.types(); len(got) != 2 {
		t.Errorf("types = %v, want agentMessage + agentComplete", got)
	}
}
