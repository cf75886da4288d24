// Package gateway is the HTTP front of the daemon: health and status
// endpoints, Prometheus metrics and the WebSocket endpoint foreground pages
// connect to.
package gateway

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"pagechat/internal/config"
	"pagechat/internal/coordinator"
	"pagechat/internal/router"
	"pagechat/internal/security"
)

// StatusSource reports the running streams.
type StatusSource interface {
	Active() []coordinator.SessionInfo
}

// Options configures a Gateway.
type Options struct {
	Config  config.ServerConfig
	Router  *router.Router
	Status  StatusSource
	Metrics http.Handler // nil disables /metrics
}

// Gateway serves HTTP and WebSocket traffic.
type Gateway struct {
	cfg       config.ServerConfig
	router    *router.Router
	status    StatusSource
	metrics   http.Handler
	origins   *security.Authorizer
	startedAt time.Time

	server   *http.Server
	listener net.Listener
}

// New creates a gateway. Call Start to begin listening.
func New(opts Options) *Gateway {
	return &Gateway{
		cfg:       opts.Config,
		router:    opts.Router,
		status:    opts.Status,
		metrics:   opts.Metrics,
		origins:   security.NewAuthorizer(opts.Config.AllowedOrigins),
		startedAt: time.Now(),
	}
}

// Handler returns the chi mux with all routes wired.
func (g *Gateway) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", g.handleHealth())
	r.Get("/status", g.handleStatus())
	if g.metrics != nil {
		r.Handle("/metrics", g.metrics)
	}
	r.Get("/ws", g.handleWebSocket)
	return r
}

// Start binds the configured address and serves in the background.
func (g *Gateway) Start() error {
	ln, err := net.Listen("tcp", g.cfg.Addr)
	if err != nil {
		return err
	}
	g.listener = ln
	g.server = &http.Server{
		Handler:           g.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[gateway] serve: %v", err)
		}
	}()
	log.Printf("[gateway] listening on %s", ln.Addr())
	return nil
}

// Addr returns the bound address, or "" before Start.
func (g *Gateway) Addr() string {
	if g.listener == nil {
		return ""
	}
	return g.listener.Addr().String()
}

// Shutdown stops accepting connections and waits for handlers to return.
func (g *Gateway) Shutdown(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	return g.server.Shutdown(ctx)
}
