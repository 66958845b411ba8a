package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/agentchat/internal/auth"
	"github.com/Tyrowin/agentchat/internal/command"
	"github.com/Tyrowin/agentchat/internal/config"
	"github.com/Tyrowin/agentchat/internal/logging"
	"github.com/Tyrowin/agentchat/internal/repo"
)

// Server ties the hub, the protocol dispatcher and the HTTP edge together.
type Server struct {
	hub        *Hub
	dispatcher *Dispatcher
	upgrader   websocket.Upgrader
	origins    *originPolicy
	log        zerolog.Logger
}

// New builds a Server from cfg. Call Start before serving requests.
func New(cfg *config.Config, store repo.Store, authSvc *auth.Service, commands *command.Registry) *Server {
	log := logging.Component("server")

	hub := NewHub(HubOptions{
		LivenessInterval: cfg.Liveness.Interval,
		SendBuffer:       cfg.Server.SendBuffer,
		MaxMessageSize:   cfg.Server.MaxMessageSize,
		RateBurst:        cfg.RateLimit.Burst,
		RateInterval:     cfg.RateLimit.RefillInterval,
	})
	d := NewDispatcher(hub, store, authSvc, commands, HistoryLimits{
		Default: cfg.History.DefaultLimit,
		Max:     cfg.History.MaxLimit,
	})
	hub.handler = d.Dispatch

	s := &Server{
		hub:        hub,
		dispatcher: d,
		origins:    newOriginPolicy(cfg.Server.AllowedOrigins, log),
		log:        log,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.check,
	}
	return s
}

// Hub returns the server's hub.
func (s *Server) Hub() *Hub { return s.hub }

// Start launches the hub's event loop.
func (s *Server) Start() {
	go s.hub.Run()
}

// Handler returns the HTTP handler for all routes.
func (s *Server) Handler() http.Handler {
	return SetupRoutes(s)
}

// Shutdown closes every session and waits for their pumps.
func (s *Server) Shutdown(timeout time.Duration) error {
	return s.hub.Shutdown(timeout)
}

// CreateServer creates the HTTP server with conservative timeouts.
// WriteTimeout is left unset so hijacked websocket connections are not
// cut off.
func CreateServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
