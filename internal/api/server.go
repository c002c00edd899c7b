package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/zde37/chordring/internal/chord"
	"github.com/zde37/chordring/pkg"
)

// maxValueSize bounds PUT bodies.
const maxValueSize = 1 << 20

// Server is the HTTP API of one node: health, node status, key lookups,
// key-value access and the ring event stream.
type Server struct {
	httpServer *http.Server
	wsHub      *WebSocketHub
	ring       *chord.Ring
	logger     *pkg.Logger
	timeout    time.Duration

	mu       sync.Mutex
	listener net.Listener
	stopped  bool
}

// NewServer creates the HTTP API for ring. Ring events reach WebSocket
// clients once Hub() is installed as the node's broadcaster.
func NewServer(ring *chord.Ring, requestTimeout time.Duration, logger *pkg.Logger) (*Server, error) {
	if ring == nil {
		return nil, fmt.Errorf("ring cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if requestTimeout <= 0 {
		requestTimeout = 10 * time.Second
	}

	return &Server{
		ring:    ring,
		wsHub:   NewWebSocketHub(logger),
		timeout: requestTimeout,
		logger:  logger.WithFields(pkg.Fields{"component": "http_api"}),
	}, nil
}

// Hub returns the WebSocket hub that streams ring events.
func (s *Server) Hub() *WebSocketHub {
	return s.wsHub
}

// Handler returns the API routes wrapped in the CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("GET /api/node", s.nodeHandler)
	mux.HandleFunc("GET /api/lookup/{key...}", s.lookupHandler)
	mux.HandleFunc("GET /api/kv/{key...}", s.getHandler)
	mux.HandleFunc("PUT /api/kv/{key...}", s.putHandler)
	mux.HandleFunc("DELETE /api/kv/{key...}", s.deleteHandler)

	// WebSocket endpoint for live updates
	mux.HandleFunc("GET /api/ws", s.wsHub.HandleWebSocket)

	return corsMiddleware(mux)
}

// Start starts the hub and serves HTTP on port in the background.
func (s *Server) Start(port int) error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(listener)
}

// Serve starts the hub and serves HTTP on an existing listener.
func (s *Server) Serve(listener net.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpServer != nil || s.stopped {
		listener.Close()
		return fmt.Errorf("server already started")
	}

	go s.wsHub.Run()

	s.listener = listener
	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Starting HTTP API server", pkg.Fields{"address": listener.Addr().String()})

	httpServer := s.httpServer
	go func() {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", pkg.Fields{"error": err})
		}
	}()

	return nil
}

// Addr returns the address the server listens on, empty before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop gracefully stops the HTTP server and the hub.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("Stopping HTTP API server", nil)

	s.stopped = true
	s.wsHub.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.httpServer.Shutdown(ctx)
	s.httpServer = nil
	s.listener = nil
	if err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	s.logger.Info("HTTP API server stopped", nil)
	return nil
}

// nodeJSON is the JSON form of a node address.
type nodeJSON struct {
	ID      string `json:"id"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
	Address string `json:"address"`
}

func toNodeJSON(n *chord.NodeAddress) *nodeJSON {
	if n.IsNil() {
		return nil
	}
	return &nodeJSON{
		ID:      n.ID.Text(16),
		Host:    n.Host,
		Port:    n.Port,
		Address: n.Address(),
	}
}

type fingerJSON struct {
	Index int       `json:"index"`
	Start string    `json:"start"`
	Node  *nodeJSON `json:"node"`
}

type nodeStatusJSON struct {
	Node              *nodeJSON    `json:"node"`
	State             string       `json:"state"`
	M                 int          `json:"m"`
	SuccessorListSize int          `json:"successor_list_size"`
	KeyCount          int          `json:"key_count"`
	ReplicaCount      int          `json:"replica_count"`
	Predecessor       *nodeJSON    `json:"predecessor"`
	Successors        []*nodeJSON  `json:"successors"`
	Fingers           []fingerJSON `json:"fingers"`
}

type lookupJSON struct {
	Key   string    `json:"key"`
	KeyID string    `json:"key_id"`
	Owner *nodeJSON `json:"owner"`
	Hops  int       `json:"hops"`
}

type valueJSON struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// healthHandler handles health check requests.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	node := s.ring.Node()
	code := http.StatusOK
	if !node.State().Serving() {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{
		"status": node.State().String(),
	})
}

func (s *Server) nodeHandler(w http.ResponseWriter, r *http.Request) {
	node := s.ring.Node()
	info := node.Info(r.Context())

	status := nodeStatusJSON{
		Node:              toNodeJSON(info.Node),
		State:             info.State.String(),
		M:                 info.M,
		SuccessorListSize: info.SuccessorListSize,
		KeyCount:          info.KeyCount,
		ReplicaCount:      info.ReplicaCount,
		Successors:        []*nodeJSON{},
		Fingers:           []fingerJSON{},
	}

	// Routing state is only meaningful while the node serves
	if pred, err := node.GetPredecessor(); err == nil {
		status.Predecessor = toNodeJSON(pred)
	}
	if succs, err := node.GetSuccessorList(); err == nil {
		for _, succ := range succs {
			status.Successors = append(status.Successors, toNodeJSON(succ))
		}
	}
	if info.State.Serving() {
		for i, f := range node.FingerTable() {
			if f.IsNil() {
				continue
			}
			status.Fingers = append(status.Fingers, fingerJSON{
				Index: i,
				Start: f.Start.Text(16),
				Node:  toNodeJSON(f.Node),
			})
		}
	}

	writeJSON(w, http.StatusOK, status)
}

func (s *Server) lookupHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	key := r.PathValue("key")
	owner, hops, err := s.ring.LookupWithHops(ctx, key)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, lookupJSON{
		Key:   key,
		KeyID: s.ring.Node().Space().HashString(key).Text(16),
		Owner: toNodeJSON(owner),
		Hops:  hops,
	})
}

func (s *Server) getHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	key := r.PathValue("key")
	value, found, err := s.ring.Get(ctx, key)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": pkg.ErrKeyNotFound.Error()})
		return
	}

	writeJSON(w, http.StatusOK, valueJSON{Key: key, Value: string(value)})
}

func (s *Server) putHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	value, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxValueSize))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": err.Error()})
		return
	}

	key := r.PathValue("key")
	if err := s.ring.Put(ctx, key, value); err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "stored", "key": key})
}

func (s *Server) deleteHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	key := r.PathValue("key")
	if err := s.ring.Delete(ctx, key); err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "key": key})
}

// writeError maps ring errors onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, chord.ErrEmptyKey):
		code = http.StatusBadRequest
	case errors.Is(err, chord.ErrNodeNotRunning):
		code = http.StatusServiceUnavailable
	case errors.Is(err, chord.ErrNodeUnreachable):
		code = http.StatusBadGateway
	case errors.Is(err, chord.ErrLookupHopLimitExceeded), errors.Is(err, context.DeadlineExceeded):
		code = http.StatusGatewayTimeout
	}

	if code == http.StatusInternalServerError {
		s.logger.Error("request failed", pkg.Fields{"error": err})
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

// corsMiddleware adds CORS headers to responses.
func corsMiddleware(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		h.ServeHTTP(w, r)
	})
}
