// pkg/api/stream.go
package api

import (
	"context"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/netutil"
)

// StreamHub - fans optimization step events out to websocket subscribers.
// Lives on its own net/http listener; the REST surface stays on fasthttp.
type StreamHub struct {
	upgrader websocket.Upgrader
	maxConns int

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
	srv     *http.Server
}

func NewStreamHub(maxConns int) *StreamHub {
	if maxConns <= 0 {
		maxConns = 64
	}
	return &StreamHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		maxConns: maxConns,
		clients:  make(map[*websocket.Conn]struct{}),
	}
}

// Start - listens on addr with a capped connection count and serves until
// Shutdown.
func (h *StreamHub) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln = netutil.LimitListener(ln, h.maxConns)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/stream", h.handleWS)
	h.srv = &http.Server{Handler: mux}

	log.Info().Str("addr", addr).Msg("Stream server listening")
	if err := h.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (h *StreamHub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]struct{})
	h.mu.Unlock()

	if h.srv == nil {
		return nil
	}
	return h.srv.Shutdown(ctx)
}

// Broadcast - sends one JSON event to every subscriber, dropping clients
// whose writes fail.
func (h *StreamHub) Broadcast(v interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		if err := conn.WriteJSON(v); err != nil {
			log.Debug().Err(err).Msg("Dropping stream client")
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

// ClientCount - current number of subscribers.
func (h *StreamHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *StreamHub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()
	log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("Stream client connected")

	// subscribers only listen; drain control frames until the peer goes away
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	conn.Close()
}
