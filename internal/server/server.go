package server

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/devshojol/HC-06-Controller/internal/logger"
	"github.com/devshojol/HC-06-Controller/internal/session"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
)

// Server exposes the session manager over HTTP and WebSocket and records
// traffic to CSV.
type Server struct {
	cfg      *Config
	manager  *session.Manager
	registry *session.Registry
	webFS    fs.FS
	traffic  *logger.Logger
	unwatch  func()

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	upgrader websocket.Upgrader
}

// New creates a new Server and starts observing manager events.
func New(cfg *Config, manager *session.Manager, registry *session.Registry, webFS fs.FS) *Server {
	s := &Server{
		cfg:      cfg,
		manager:  manager,
		registry: registry,
		webFS:    webFS,
		traffic:  logger.New(cfg.Logging),
		clients:  make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.unwatch = manager.OnEvent(s.onEvent)
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.handleWS)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/devices", s.handleDevices)
		r.Post("/devices/scan", s.handleScan)
		r.Post("/connect", s.handleConnect)
		r.Post("/disconnect", s.handleDisconnect)
		r.Post("/command", s.handleCommand)
		r.Get("/lines", s.handleLines)
		r.Get("/config", s.handleGetConfig)
		r.Post("/config", s.handlePostConfig)
	})

	// Serve embedded web files
	if s.webFS != nil {
		r.Handle("/*", http.FileServer(http.FS(s.webFS)))
	}
	return r
}

// Run serves until ctx is done, then shuts down gracefully. The session
// manager is left to its owner.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.ListenAddr)
	if err != nil {
		return err
	}

	if s.cfg.Server.MDNS {
		port := ln.Addr().(*net.TCPAddr).Port
		adv, err := advertise(s.cfg.Server.MDNSName, port, s.txtRecords())
		if err != nil {
			log.Printf("[mdns] advertise failed: %v", err)
		} else {
			defer adv.Shutdown()
		}
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
		s.closeClients()
	}()

	log.Printf("[server] listening on %s", ln.Addr())
	err = srv.Serve(ln)
	s.unwatch()
	s.traffic.Close()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// onEvent runs on manager goroutines, including the transport reader: it
// must not block.
func (s *Server) onEvent(ev session.Event) {
	s.traffic.Observe(ev)
	s.broadcast(Frame{Event: &ev, Stamp: ev.At.UnixMilli()})
}
