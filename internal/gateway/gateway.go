// Package gateway is the main orchestrator that ties all gateway components
// together.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/readify/gateway/internal/api"
	"github.com/readify/gateway/internal/auth"
	"github.com/readify/gateway/internal/broker"
	"github.com/readify/gateway/internal/config"
	"github.com/readify/gateway/internal/dispatch"
	"github.com/readify/gateway/internal/handlers"
	"github.com/readify/gateway/internal/relay"
	"github.com/readify/gateway/internal/router"
	"github.com/readify/gateway/internal/session"
	"github.com/readify/gateway/internal/store"
)

// Gateway is the main gateway process.
type Gateway struct {
	cfg      *config.Config
	store    store.Store
	sessions *session.Registry
	broker   broker.Broker
	send     *handlers.SendMessage
	api      *api.Server
	logger   *slog.Logger

	// connCancel closes every client connection.
	connCancel context.CancelFunc
	closeOnce  sync.Once
}

// New creates a new gateway from configuration. ctx bounds background work
// started during construction, such as JWKS refresh.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	db, err := store.New(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	verifier, err := auth.NewVerifier(ctx, cfg.Auth)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init token verifier: %w", err)
	}

	sessions := session.NewRegistry(logger)

	b, err := broker.New(cfg.Broker, sessions, logger)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init broker: %w", err)
	}

	source := relay.NewHTTPSource(relay.HTTPSourceConfig{
		BaseURL:               cfg.Agent.BaseURL,
		StreamPath:            cfg.Agent.StreamPath,
		Vendor:                cfg.Agent.Vendor,
		ResponseHeaderTimeout: cfg.Agent.ResponseHeaderTimeout.Duration,
		MaxEventBytes:         cfg.Agent.MaxEventBytes,
	}, logger)
	rl := relay.New(source, logger)

	reg := dispatch.NewRegistry()
	send := handlers.Register(reg, handlers.Deps{
		Sessions:   sessions,
		Broker:     b,
		Files:      store.NewProjectFiles(db),
		Relay:      rl,
		MaxStreams: cfg.Agent.MaxConcurrentStreams,
		Logger:     logger,
	})
	dispatcher := dispatch.NewDispatcher(reg, logger)

	connCtx, connCancel := context.WithCancel(context.Background())
	rt := router.New(connCtx, verifier, sessions, dispatcher, router.Options{
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		MaxMessageBytes: cfg.Server.MaxMessageBytes,
		CloseSuperseded: cfg.Session.CloseSuperseded,
		PingInterval:    cfg.Session.PingInterval.Duration,
		PongWait:        cfg.Session.PongWait.Duration,
		Session: session.Options{
			WriteTimeout:      cfg.Session.WriteTimeout.Duration,
			MessagesPerSecond: cfg.Session.MessagesPerSecond,
			Burst:             cfg.Session.Burst,
		},
	}, logger)

	var brokerPing api.Pinger
	if p, ok := b.(api.Pinger); ok {
		brokerPing = p
	}
	apiSrv := api.NewServer(api.Deps{
		Store:         db,
		Broker:        brokerPing,
		Verifier:      verifier,
		Sessions:      sessions,
		ActiveStreams: rl.Active,
		WSHandler:     rt.HandleWS,
	}, cfg, logger)

	g := &Gateway{
		cfg:        cfg,
		store:      db,
		sessions:   sessions,
		broker:     b,
		send:       send,
		api:        apiSrv,
		logger:     logger.With("component", "gateway"),
		connCancel: connCancel,
	}

	for _, origin := range cfg.Server.AllowedOrigins {
		if origin == "*" {
			logger.Warn("allowed_origins contains wildcard '*', restrict to specific origins in production")
			break
		}
	}
	logger.Info("message handlers registered", "types", reg.Types())

	return g, nil
}

// Handler returns the gateway's HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.api.Handler()
}

// Sessions exposes the live session registry.
func (g *Gateway) Sessions() *session.Registry {
	return g.sessions
}

// Run starts the HTTP server, the broadcast subscriber and background
// maintenance, and blocks until ctx is canceled or one of them fails.
func (g *Gateway) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              g.cfg.Server.Addr,
		Handler:           g.api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		g.logger.Info("gateway listening", "addr", g.cfg.Server.Addr, "ws_path", g.cfg.Server.WSPath)
		var err error
		if g.cfg.Server.TLSCert != "" && g.cfg.Server.TLSKey != "" {
			err = srv.ListenAndServeTLS(g.cfg.Server.TLSCert, g.cfg.Server.TLSKey)
		} else {
			g.logger.Warn("TLS not configured, running without encryption (development only)")
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	eg.Go(func() error {
		if err := g.broker.Run(egCtx); err != nil {
			return fmt.Errorf("broadcast subscriber: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		return g.api.RunBackground(egCtx)
	})

	eg.Go(func() error {
		<-egCtx.Done()
		g.logger.Info("shutting down gateway gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			g.logger.Warn("graceful shutdown failed, forcing close", "error", err)
			_ = srv.Close()
		} else {
			g.logger.Info("http server stopped gracefully")
		}
		return nil
	})

	err := eg.Wait()
	g.Close()
	g.logger.Info("shutdown complete")
	if err != nil {
		return err
	}
	return ctx.Err()
}

// Close disconnects every client, waits for in-flight relays and releases
// the broker and store. It is safe to call more than once.
func (g *Gateway) Close() {
	g.closeOnce.Do(func() {
		g.connCancel()
		g.send.Wait()
		_ = g.broker.Close()
		g.logger.Info("closing store")
		_ = g.store.Close()
	})
}
