package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	sse "github.com/tmaxmax/go-sse"
)

// DefaultMaxEventBytes bounds a single upstream event when no limit is set.
const DefaultMaxEventBytes = 1 << 20

var errStreamClosed = errors.New("agent stream closed")

// HTTPSourceConfig configures an HTTPSource.
type HTTPSourceConfig struct {
	BaseURL               string
	StreamPath            string
	Vendor                string
	ResponseHeaderTimeout time.Duration
	MaxEventBytes         int // 0 means DefaultMaxEventBytes
}

// HTTPSource opens text/event-stream responses from the agent service.
type HTTPSource struct {
	endpoint string
	vendor   string
	maxEvent int
	client   *http.Client
	logger   *slog.Logger
}

// NewHTTPSource creates a source for cfg. The client has no overall timeout
// because streams are long-lived; only the wait for response headers is
// bounded.
func NewHTTPSource(cfg HTTPSourceConfig, logger *slog.Logger) *HTTPSource {
	path := cfg.StreamPath
	if path == "" {
		path = "/api/v1/agent/stream"
	}
	maxEvent := cfg.MaxEventBytes
	if maxEvent <= 0 {
		maxEvent = DefaultMaxEventBytes
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.ResponseHeaderTimeout = cfg.ResponseHeaderTimeout
	return &HTTPSource{
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + path,
		vendor:   cfg.Vendor,
		maxEvent: maxEvent,
		client:   &http.Client{Transport: tr},
		logger:   logger.With("component", "agent-source"),
	}
}

// Open issues the stream request and returns once response headers arrive.
func (s *HTTPSource) Open(ctx context.Context, req Request) (Stream, error) {
	u, err := s.buildURL(req)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("agent request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("agent returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	s.logger.Debug("agent stream opened", "user_id", req.UserID, "project_id", req.ProjectID)
	return newSSEStream(resp.Body, cancel, s.maxEvent), nil
}

func (s *HTTPSource) buildURL(req Request) (string, error) {
	q := url.Values{}
	q.Set("query", req.Query)
	q.Set("project_id", strconv.FormatInt(req.ProjectID, 10))
	q.Set("task_type", req.TaskType)
	if s.vendor != "" {
		q.Set("vendor", s.vendor)
	}
	if req.MindMapID != nil {
		ctxJSON, err := json.Marshal(map[string]int64{"mind_map_id": *req.MindMapID})
		if err != nil {
			return "", fmt.Errorf("encode context: %w", err)
		}
		q.Set("context", string(ctxJSON))
	}
	return s.endpoint + "?" + q.Encode(), nil
}

// sseStream adapts go-sse's event reader to the Stream iterator. A pump
// goroutine owns the body reads, so Close can interrupt a blocked Next.
type sseStream struct {
	body      io.ReadCloser
	cancel    context.CancelFunc
	events    chan sseResult
	done      chan struct{}
	closeOnce sync.Once
}

type sseResult struct {
	ev  sse.Event
	err error
}

func newSSEStream(body io.ReadCloser, cancel context.CancelFunc, maxEvent int) *sseStream {
	s := &sseStream{
		body:   body,
		cancel: cancel,
		events: make(chan sseResult),
		done:   make(chan struct{}),
	}
	go s.pump(&sse.ReadConfig{MaxEventSize: maxEvent})
	return s
}

func (s *sseStream) pump(cfg *sse.ReadConfig) {
	defer close(s.events)
	for ev, err := range sse.Read(s.body, cfg) {
		select {
		case s.events <- sseResult{ev: ev, err: err}:
		case <-s.done:
			return
		}
		if err != nil {
			return
		}
	}
}

func (s *sseStream) Next(ctx context.Context) (Event, error) {
	select {
	case <-ctx.Done():
		return Event{}, ctx.Err()
	case r, ok := <-s.events:
		if !ok {
			select {
			case <-s.done:
				return Event{}, errStreamClosed
			default:
				return Event{}, io.EOF
			}
		}
		if r.err != nil {
			if errors.Is(r.err, io.EOF) {
				return Event{}, io.EOF
			}
			return Event{}, fmt.Errorf("read agent stream: %w", r.err)
		}
		return Event{ID: r.ev.LastEventID, Name: r.ev.Type, Data: r.ev.Data}, nil
	}
}

func (s *sseStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.cancel()
		err = s.body.Close()
	})
	return err
}
