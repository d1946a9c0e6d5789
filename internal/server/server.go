// Package server is the connection listener: it accepts websocket clients
// and feeds each text frame to the dispatcher as an independent task.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vrct-tts/connector/internal/protocol"
	"github.com/vrct-tts/connector/internal/tts"
)

const (
	shutdownGrace = 5 * time.Second
	writeTimeout  = 10 * time.Second
	maxFrameSize  = 1 << 20
)

// Handler turns one text frame into one result. *tts.Dispatcher
// implements it.
type Handler interface {
	Handle(ctx context.Context, raw []byte) tts.Result
}

// Config configures the listener.
type Config struct {
	// Addr is the TCP listen address, e.g. 127.0.0.1:2231
	Addr string

	// Path serves the websocket endpoint; defaults to /
	Path string

	// Metrics is served at /metrics when set
	Metrics http.Handler

	// Health adds fields to the /healthz document
	Health func() map[string]any
}

// Server accepts websocket connections.
type Server struct {
	cfg      Config
	handler  Handler
	upgrader websocket.Upgrader
	log      *log.Logger

	mu    sync.Mutex
	conns map[*conn]struct{}
	addr  net.Addr
}

// New creates a server.
func New(cfg Config, h Handler, logger *log.Logger) *Server {
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		cfg:     cfg,
		handler: h,
		upgrader: websocket.Upgrader{
			// VRCT connects from a local process without an Origin header.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log:   logger,
		conns: map[*conn]struct{}{},
	}
}

// Routes returns the HTTP handler of every endpoint. Each connection's
// lifetime is bounded by ctx.
func (s *Server) Routes(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, func(w http.ResponseWriter, r *http.Request) {
		s.handleWS(ctx, w, r)
	})
	mux.HandleFunc("/healthz", s.handleHealth)
	if s.cfg.Metrics != nil {
		mux.Handle("/metrics", s.cfg.Metrics)
	}
	return mux
}

// Start listens and serves until ctx is cancelled, then shuts down with a
// grace period. Open connections are closed with "going away".
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	srv := &http.Server{
		Handler:           s.Routes(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("shutdown error", "error", err)
		}
	}()

	s.log.Info("listening", "addr", ln.Addr().String(), "path", s.cfg.Path)
	err = srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Addr returns the bound address once Start is listening.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Connections returns the number of open connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	doc := map[string]any{}
	if s.cfg.Health != nil {
		maps.Copy(doc, s.cfg.Health())
	}
	doc["status"] = "ok"
	doc["connections"] = s.Connections()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(doc)
}

func (s *Server) handleWS(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	ws.SetReadLimit(maxFrameSize)

	c := &conn{id: uuid.NewString(), ws: ws}
	c.log = s.log.With("conn", c.id[:8])

	s.mu.Lock()
	s.conns[c] = struct{}{}
	count := len(s.conns)
	s.mu.Unlock()

	c.log.Info("client connected", "remote", r.RemoteAddr, "clients", count)
	go s.serve(ctx, c)
}

// serve reads frames until the client goes away or ctx ends. Each text
// frame runs in its own goroutine so a slow synthesis never blocks the
// next request.
func (s *Server) serve(ctx context.Context, c *conn) {
	finished := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			c.close()
		case <-finished:
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		close(finished)
		cancel()
		c.tasks.Wait()
		c.ws.Close()

		s.mu.Lock()
		delete(s.conns, c)
		count := len(s.conns)
		s.mu.Unlock()
		c.log.Info("client disconnected", "clients", count)
	}()

	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && ctx.Err() == nil {
				c.log.Debug("read error", "error", err)
			}
			return
		}

		if kind != websocket.TextMessage {
			resp := protocol.Failure("", tts.CodeProtocol, "only text frames are accepted")
			if err := c.send(tts.Result{Response: resp}); err != nil {
				return
			}
			continue
		}

		c.tasks.Add(1)
		go func() {
			defer c.tasks.Done()
			res := s.handler.Handle(ctx, data)
			if err := c.send(res); err != nil {
				c.log.Debug("write failed", "id", res.Response.RequestID, "error", err)
			}
		}()
	}
}

// conn is one client. Writes are serialized so a synthesis response and
// its audio frame are never split by another response.
type conn struct {
	id  string
	ws  *websocket.Conn
	log *log.Logger

	mu    sync.Mutex
	tasks sync.WaitGroup
}

func (c *conn) send(res tts.Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteJSON(res.Response); err != nil {
		return err
	}
	if res.Response.OK() && res.Audio != nil {
		return c.ws.WriteMessage(websocket.BinaryMessage, res.Audio)
	}
	return nil
}

func (c *conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = c.ws.Close()
}
