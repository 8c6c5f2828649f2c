// Package feed serves engine progress and graph changes over WebSocket.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"fsgraph/internal/miner"
)

// MessageType defines the type of feed message.
type MessageType string

const (
	// MessageTypeProgress carries an Idle/Processing transition.
	MessageTypeProgress MessageType = "progress"
	// MessageTypeGraph carries a committed resource change.
	MessageTypeGraph MessageType = "graph"
)

// Message is one broadcast frame.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ProgressData is the payload of a progress message.
type ProgressData struct {
	Status string `json:"status"`
	Cycles uint64 `json:"cycles"`
}

// GraphData is the payload of a graph message.
type GraphData struct {
	Subject string `json:"subject"`
	Action  string `json:"action"`
}

// Server pushes tracker transitions and store events to WebSocket clients.
type Server struct {
	addr    string
	tracker *miner.Tracker
	store   miner.Store
	logger  miner.Logger

	listener net.Listener
	server   *http.Server

	clients   map[*websocket.Conn]struct{}
	clientsMu sync.RWMutex

	broadcast chan Message
}

func NewServer(addr string, tracker *miner.Tracker, store miner.Store, logger miner.Logger) *Server {
	return &Server{
		addr:      addr,
		tracker:   tracker,
		store:     store,
		logger:    logger,
		clients:   make(map[*websocket.Conn]struct{}),
		broadcast: make(chan Message, 256),
	}
}

// Listen binds the listening socket so Addr is known before Serve.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	s.server = &http.Server{
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}
	return nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// Serve runs until ctx is cancelled, then closes every client.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	progress, stopProgress := s.tracker.Subscribe()
	defer stopProgress()
	graph, stopGraph := s.store.Subscribe()
	defer stopGraph()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.pump(ctx, progress, graph)
	}()
	go func() {
		defer wg.Done()
		s.broadcastLoop(ctx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info("feed listening", "addr", s.Addr())
		serveErr <- s.server.Serve(s.listener)
	}()

	var err error
	select {
	case <-ctx.Done():
	case err = <-serveErr:
	}

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := s.server.Shutdown(shutdownCtx); serr != nil && err == nil {
		err = serr
	}
	wg.Wait()

	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) pump(ctx context.Context, progress <-chan miner.Progress, graph <-chan miner.GraphEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-progress:
			if !ok {
				return
			}
			s.Broadcast(MessageTypeProgress, progressData(p))
		case ev, ok := <-graph:
			if !ok {
				return
			}
			s.Broadcast(MessageTypeGraph, GraphData{Subject: ev.Subject, Action: ev.Kind.String()})
		}
	}
}

// Broadcast queues a message for every client, dropping it when the queue
// is full.
func (s *Server) Broadcast(typ MessageType, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("failed to marshal feed message", "error", err)
		return
	}
	select {
	case s.broadcast <- Message{Type: typ, Timestamp: time.Now(), Data: raw}:
	default:
		s.logger.Warn("feed broadcast queue full, dropping message", "type", typ)
	}
}

func (s *Server) broadcastLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.broadcast:
			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Error("failed to marshal feed message", "error", err)
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			for _, conn := range clients {
				if err := s.write(ctx, conn, data); err != nil {
					s.logger.Debug("failed to send to feed client", "error", err)
					s.removeClient(conn)
				}
			}
		}
	}
}

func (s *Server) write(ctx context.Context, conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	// The current state goes out before the client can receive broadcasts.
	raw, _ := json.Marshal(progressData(miner.Progress{Status: s.tracker.Status(), Cycles: s.tracker.Cycles()}))
	welcome, _ := json.Marshal(Message{Type: MessageTypeProgress, Timestamp: time.Now(), Data: raw})
	if err := s.write(context.Background(), conn, welcome); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "")
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = struct{}{}
	count := len(s.clients)
	s.clientsMu.Unlock()
	s.logger.Debug("feed client connected", "clients", count)

	// Clients only listen; reading detects disconnects.
	closed := conn.CloseRead(context.Background())
	go func() {
		<-closed.Done()
		s.removeClient(conn)
	}()
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	_, ok := s.clients[conn]
	delete(s.clients, conn)
	count := len(s.clients)
	s.clientsMu.Unlock()
	if ok {
		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Debug("feed client disconnected", "clients", count)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  s.tracker.Status().String(),
		"cycles":  s.tracker.Cycles(),
		"clients": s.ClientCount(),
	})
}

func progressData(p miner.Progress) ProgressData {
	return ProgressData{Status: p.Status.String(), Cycles: p.Cycles}
}
