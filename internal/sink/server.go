package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tiroq/echotap/internal/diaglog"
	"github.com/tiroq/echotap/internal/orchestrator"
)

const liveWriteTimeout = 5 * time.Second

// The server binds loopback only; browser consumers on the same
// machine are allowed regardless of their Origin header.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// liveUpdate is the wire shape pushed to /v1/live consumers.
type liveUpdate struct {
	Text      string    `json:"text"`
	EmittedAt time.Time `json:"emittedAt"`
}

// Server exposes the live transcript feed, the status snapshot, and
// recent history over loopback HTTP.
type Server struct {
	addr    string
	hub     *Hub
	status  func() orchestrator.Status
	history func() []orchestrator.Entry
	log     *diaglog.Logger

	srv *http.Server
}

// NewServer builds a server around hub. status and history provide the
// snapshot endpoints; a nil logger disables diagnostics.
func NewServer(addr string, hub *Hub, status func() orchestrator.Status, history func() []orchestrator.Entry, log *diaglog.Logger) *Server {
	if log == nil {
		log = diaglog.NewNoOp()
	}
	return &Server{
		addr:    addr,
		hub:     hub,
		status:  status,
		history: history,
		log:     log,
	}
}

// Start begins serving and returns the bound address, which differs
// from the configured one when it asked for port 0.
func (s *Server) Start() (string, error) {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return "", fmt.Errorf("sink: listen %s: %w", s.addr, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/live", s.handleLive)
	mux.HandleFunc("/v1/status", s.handleStatus)
	mux.HandleFunc("/v1/history", s.handleHistory)

	s.srv = &http.Server{Handler: mux}
	go func() { _ = s.srv.Serve(ln) }()
	return ln.Addr().String(), nil
}

// Shutdown stops accepting connections and drains handlers. Live
// websocket consumers are torn down when their hub channels close or
// their peers disconnect.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}
	defer conn.Close()

	entries, detach := s.hub.Attach()
	defer detach()

	// Inbound frames are discarded; the read pump exists so consumer
	// disconnects surface as read errors.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case e, ok := <-entries:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
			if err := conn.WriteJSON(liveUpdate{Text: e.Text, EmittedAt: e.EmittedAt}); err != nil {
				return
			}
		case <-clientGone:
			return
		}
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, s.status())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	entries := s.history()
	if entries == nil {
		entries = []orchestrator.Entry{}
	}
	writeJSON(w, entries)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
