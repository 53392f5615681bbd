// Package server exposes the live stats feed over websocket so external
// overlays and widgets can render the current bundle.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/dealnotedev/hunt-stats/internal/broker"
	"github.com/dealnotedev/hunt-stats/internal/tracker"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeTimeout = 10 * time.Second

// Message is one frame of the feed. Type is "bundle" or "map_change". A
// bundle frame with a nil bundle means no match has ever been tracked.
type Message struct {
	Type   string              `json:"type"`
	Bundle *tracker.HuntBundle `json:"bundle,omitempty"`
	Level  string              `json:"level,omitempty"`
}

// Server pushes bundle and map-change frames to every connected client. A
// client's first frame is always the current bundle.
type Server struct {
	addr       string
	bundles    *broker.Broker[*tracker.HuntBundle]
	mapChanges *broker.Broker[tracker.MapChanged]

	upgrader websocket.Upgrader
	httpSrv  *http.Server
	listener net.Listener
}

// New creates a feed server on addr, fed by the two brokers.
func New(addr string, bundles *broker.Broker[*tracker.HuntBundle], mapChanges *broker.Broker[tracker.MapChanged]) *Server {
	return &Server{
		addr:       addr,
		bundles:    bundles,
		mapChanges: mapChanges,
		upgrader: websocket.Upgrader{
			// The feed is local and read-only; any origin may subscribe.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Start begins listening and serving in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	s.httpSrv = &http.Server{Handler: mux}

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("feed server stopped unexpectedly")
		}
	}()

	log.Info().Str("addr", ln.Addr().String()).Msg("feed server listening")
	return nil
}

// Addr returns the bound address, useful when addr was ":0".
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down, closing client connections.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	bundleCh, bundleID := s.bundles.Subscribe(8)
	defer s.bundles.Unsubscribe(bundleID)
	mapCh, mapID := s.mapChanges.Subscribe(8)
	defer s.mapChanges.Unsubscribe(mapID)

	// The client never sends anything meaningful; the read loop only
	// notices disconnects.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("feed client connected")

	for {
		var msg Message
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case b := <-bundleCh:
			msg = Message{Type: "bundle", Bundle: b}
		case mc := <-mapCh:
			msg = Message{Type: "map_change", Level: mc.Level}
		}

		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(msg); err != nil {
			log.Debug().Err(err).Msg("feed client write failed, dropping")
			return
		}
	}
}
