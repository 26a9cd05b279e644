// Package status serves the broker's observability surface: JSON snapshots
// of connected clients and component health over HTTP, and a websocket feed
// that pushes a frame event whenever a client's descriptor is replaced, so
// consumers do not have to poll for new frames.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/framelink-io/framelink/internal/broker"
	"github.com/framelink-io/framelink/internal/health"
	"github.com/framelink-io/framelink/internal/logging"
)

var log = logging.L("status")

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Server exposes broker state over HTTP and websocket.
type Server struct {
	addr string
	b    *broker.Broker
	mon  *health.Monitor

	srv      *http.Server
	ln       net.Listener
	upgrader websocket.Upgrader
}

// New creates a stopped status server bound to addr.
func New(addr string, b *broker.Broker, mon *health.Monitor) *Server {
	s := &Server{
		addr: addr,
		b:    b,
		mon:  mon,
		// The status surface binds to loopback or an operator-chosen
		// address; origin checks do not apply to it.
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/events", s.handleEvents)
	s.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	return s
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("status: listen: %w", err)
	}
	s.ln = ln
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error("serve failed", logging.KeyError, err)
		}
	}()
	log.Info("serving", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address, empty before Start.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Stop shuts the server down, bounded by the context deadline.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.mon.Summary())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"health":  s.mon.Summary(),
		"active":  s.b.Active(),
		"clients": s.b.Clients(),
	})
}

// handleEvents upgrades to websocket and forwards frame events until the
// subscriber goes away. The read pump exists only to process control frames
// and detect the peer closing.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", logging.KeyError, err)
		return
	}
	defer conn.Close()

	events, cancel := s.b.Subscribe()
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("response encode failed", logging.KeyError, err)
	}
}
