package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/fabregas/media-chat/internal/history"
	"github.com/fabregas/media-chat/internal/linkpreview"
	"github.com/fabregas/media-chat/internal/render"
)

// Server wires the registry, hub, history, renderer and HTTP surface of one
// chat room.
type Server struct {
	cfg      Config
	log      zerolog.Logger
	registry *Registry
	hub      *Hub
	history  *history.Store
	metrics  *Metrics
	renderer MessageRenderer
	upgrader websocket.Upgrader
}

// Option customizes a Server.
type Option func(*serverOptions)

type serverOptions struct {
	probeClient *http.Client
	renderer    MessageRenderer
	now         func() time.Time
}

// WithProbeClient sets the HTTP client used for link probes.
func WithProbeClient(c *http.Client) Option {
	return func(o *serverOptions) { o.probeClient = c }
}

// WithRenderer replaces the link-resolving renderer.
func WithRenderer(r MessageRenderer) Option {
	return func(o *serverOptions) { o.renderer = r }
}

// WithClock sets the clock used for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *serverOptions) { o.now = now }
}

// New creates a Server. A nil store gets an empty history sized from cfg.
// The configuration is sanitized but not validated.
func New(cfg Config, store *history.Store, log zerolog.Logger, opts ...Option) *Server {
	cfg.Sanitize()

	var o serverOptions
	for _, opt := range opts {
		opt(&o)
	}

	if store == nil {
		store = history.New(cfg.History.Capacity)
	}
	metrics := NewMetrics()
	registry := NewRegistry(cfg.Limits.SendBuffer)
	hub := NewHub(registry, store, metrics, log)
	if o.now != nil {
		hub.now = o.now
		registry.now = o.now
	}

	renderer := o.renderer
	if renderer == nil {
		resolver := linkpreview.NewResolver(linkpreview.Config{
			ProbeTimeout:      cfg.ProbeTimeout(),
			SniffBytes:        cfg.Preview.SniffBytes,
			UserAgent:         cfg.Preview.UserAgent,
			HTTPClient:        o.probeClient,
			AllowPrivateHosts: cfg.Preview.AllowPrivateHosts,
		}, linkpreview.WithObserver(metrics), linkpreview.WithLogger(log))
		renderer = render.New(resolver, cfg.Preview.MaxConcurrentProbes,
			log.With().Str("component", "render").Logger(),
			render.WithMessageTimeout(cfg.MessageTimeout()))
	}

	origins := newOriginPolicy(cfg.Server.AllowedOrigins, log.With().Str("component", "http").Logger())

	s := &Server{
		cfg:      cfg,
		log:      log.With().Str("component", "http").Logger(),
		registry: registry,
		hub:      hub,
		history:  store,
		metrics:  metrics,
		renderer: renderer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.check,
		},
	}
	s.upgrader.Error = s.handleUpgradeError
	return s
}

// Start launches the hub goroutine. It must be called before serving.
func (s *Server) Start() {
	go s.hub.Run()
	s.log.Info().Int("history_entries", s.history.Len()).Msg("hub started")
}

// Shutdown closes every session and waits up to timeout for the connection
// goroutines. The HTTP listener should be shut down first.
func (s *Server) Shutdown(timeout time.Duration) error {
	return s.hub.Shutdown(timeout)
}

// History returns the store backing the room's scrollback.
func (s *Server) History() *history.Store {
	return s.history
}

// Config returns the sanitized configuration in use.
func (s *Server) Config() Config {
	return s.cfg
}

func (s *Server) clientOptions() clientOptions {
	return clientOptions{
		maxMessageSize: s.cfg.Limits.MaxMessageSize,
		maxUsername:    s.cfg.Limits.MaxUsernameLength,
		rateBurst:      s.cfg.Limits.RateLimitBurst,
		rateRefill:     s.cfg.RefillInterval(),
	}
}
