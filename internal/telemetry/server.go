package telemetry

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mgriffin/goecu/internal/core"
)

// Server ticks a Controller on a fixed schedule and broadcasts its
// telemetry to every connected websocket client. Unlike a typical
// dashboard server, there is no POST /api/config endpoint here: the tuning
// surface this module targets is the on-disk config file and the Controller
// setters, not a live browser-editable console (explicitly out of scope).
type Server struct {
	cfg  *Config
	ctrl Controller
	log  *Logger

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	upgrader websocket.Upgrader
}

// Controller is the subset of *core.Controller the telemetry server drives.
type Controller interface {
	Tick()
	Snapshot() core.Telemetry
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Frame is the JSON structure sent to every connected client.
type Frame struct {
	Telemetry core.Telemetry `json:"telemetry"`
	Stamp     int64          `json:"stamp"`
}

// NewServer builds a Server around the given Controller. log may be nil to
// disable CSV logging.
func NewServer(cfg *Config, ctrl Controller, logger *Logger) *Server {
	return &Server{
		cfg:     cfg,
		ctrl:    ctrl,
		log:     logger,
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Run starts the control-loop ticker, the HTTP/websocket listener, and the
// CSV logger (if configured), and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/telemetry", s.handleTelemetrySnapshot)

	go s.tickLoop(ctx)

	srv := &http.Server{Addr: s.cfg.Server.ListenAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		if s.log != nil {
			s.log.Close()
		}
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	log.Printf("[telemetry] listening on %s", s.cfg.Server.ListenAddr)
	return srv.ListenAndServe()
}

// tickLoop drives the control loop every 10 ms, the step the fuel PID's
// fixed dt assumes, and broadcasts every cycle.
func (s *Server) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.ctrl.Tick()
			tel := s.ctrl.Snapshot()

			s.broadcast(Frame{Telemetry: tel, Stamp: time.Now().UnixMilli()})
			if s.log != nil {
				s.log.Record(tel)
			}
		}
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[telemetry] ws upgrade error: %v", err)
		return
	}

	client := &wsClient{conn: conn, send: make(chan []byte, 64)}
	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	s.clientsMu.Unlock()
	log.Printf("[telemetry] client connected (%d total)", len(s.clients))

	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			s.clientsMu.Unlock()
			close(client.send)
			log.Printf("[telemetry] client disconnected (%d total)", len(s.clients))
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

// handleTelemetrySnapshot is a plain read-only JSON GET, useful for a
// curl-based health check without a websocket client.
func (s *Server) handleTelemetrySnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	data, err := json.Marshal(Frame{Telemetry: s.ctrl.Snapshot(), Stamp: time.Now().UnixMilli()})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) broadcast(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for client := range s.clients {
		select {
		case client.send <- data:
		default:
		}
	}
}
