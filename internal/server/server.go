// ABOUTME: HTTP server exposing workspace lifecycle endpoints and the /ws realtime endpoint.
// ABOUTME: Owns the periodic idle-expiry sweep ticker.

package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/2389/coven-relay/internal/config"
	"github.com/2389/coven-relay/internal/provider"
	"github.com/2389/coven-relay/internal/workspace"
)

// Server exposes the relay over HTTP: workspace lifecycle endpoints for
// hosts and operators, and the websocket realtime sync endpoint for
// clients.
type Server struct {
	cfg      *config.Config
	registry *workspace.Registry
	factory  provider.Factory
	logger   *slog.Logger

	httpServer *http.Server
}

// New creates a server. factory builds provider connections for incoming
// workspace connects.
func New(cfg *config.Config, registry *workspace.Registry, factory provider.Factory, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		registry: registry,
		factory:  factory,
		logger:   logger.With("component", "server"),
	}
}

// Routes builds the HTTP mux. Exposed for tests.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWS)

	mux.HandleFunc("POST /api/workspaces", s.handleWorkspaceConnect)
	mux.HandleFunc("GET /api/workspaces", s.handleWorkspaceList)
	mux.HandleFunc("GET /api/workspaces/{id}", s.handleWorkspaceDetail)
	mux.HandleFunc("GET /api/workspaces/{id}/connections", s.handleWorkspaceConnections)
	mux.HandleFunc("DELETE /api/workspaces/{id}", s.handleWorkspaceDisconnect)
	mux.HandleFunc("/api/workspaces/{id}/proxy/{rest...}", s.handleWorkspaceProxy)

	return mux
}

// Run serves HTTP until ctx is cancelled, sweeping expired workspaces on
// the configured interval.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    s.cfg.Server.HTTPAddr,
		Handler: s.Routes(),
	}

	go s.cleanupLoop(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.cfg.Server.HTTPAddr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
		s.registry.Close()
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// cleanupLoop periodically expires idle workspaces. The registry never
// evicts a workspace with live subscribers; this loop just supplies the
// schedule.
func (s *Server) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Workspaces.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := s.registry.CleanupExpired(s.cfg.Workspaces.MaxIdleAge)
			if removed > 0 {
				s.logger.Info("idle workspace sweep", "removed", removed)
			}
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// connectRequest is the body of POST /api/workspaces.
type connectRequest struct {
	Directory string `json:"directory"`
	Mode      string `json:"mode"`
}

// workspaceResponse is the wire form of a workspace for the API surface.
type workspaceResponse struct {
	ID           string                     `json:"id"`
	Token        string                     `json:"token,omitempty"`
	Directory    string                     `json:"directory"`
	Mode         string                     `json:"mode"`
	CreatedAt    time.Time                  `json:"createdAt"`
	Capabilities provider.Capabilities      `json:"capabilities"`
	Connections  []workspace.ConnectionInfo `json:"connections,omitempty"`
}

func (s *Server) handleWorkspaceConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Mode == "" {
		req.Mode = provider.ModeSpawn
	}

	ws, err := s.registry.Connect(r.Context(), req.Directory, req.Mode, s.factory)
	if err != nil {
		var connErr *workspace.ConnectionError
		if errors.As(err, &connErr) {
			writeError(w, http.StatusBadGateway, connErr.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// The token is only revealed on connect; later listings omit it.
	writeJSON(w, http.StatusOK, workspaceResponse{
		ID:           ws.ID,
		Token:        ws.Token,
		Directory:    ws.Directory,
		Mode:         ws.Mode,
		CreatedAt:    ws.CreatedAt,
		Capabilities: ws.Provider.Capabilities(),
	})
}

func (s *Server) handleWorkspaceList(w http.ResponseWriter, r *http.Request) {
	all := s.registry.List()
	out := make([]workspaceResponse, 0, len(all))
	for _, ws := range all {
		out = append(out, workspaceResponse{
			ID:           ws.ID,
			Directory:    ws.Directory,
			Mode:         ws.Mode,
			CreatedAt:    ws.CreatedAt,
			Capabilities: ws.Provider.Capabilities(),
			Connections:  s.registry.ListConnections(ws.ID),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleWorkspaceDetail(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.registry.LookupByID(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "workspace not found")
		return
	}
	writeJSON(w, http.StatusOK, workspaceResponse{
		ID:           ws.ID,
		Directory:    ws.Directory,
		Mode:         ws.Mode,
		CreatedAt:    ws.CreatedAt,
		Capabilities: ws.Provider.Capabilities(),
		Connections:  s.registry.ListConnections(ws.ID),
	})
}

func (s *Server) handleWorkspaceConnections(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.registry.LookupByID(id); !ok {
		writeError(w, http.StatusNotFound, "workspace not found")
		return
	}
	conns := s.registry.ListConnections(id)
	if conns == nil {
		conns = []workspace.ConnectionInfo{}
	}
	writeJSON(w, http.StatusOK, conns)
}

// handleWorkspaceProxy forwards a request verbatim to the workspace's
// provider, with the relay prefix stripped so the provider sees its own
// paths.
func (s *Server) handleWorkspaceProxy(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.registry.LookupByID(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "workspace not found")
		return
	}

	proxied := r.Clone(r.Context())
	proxied.URL.Path = "/" + r.PathValue("rest")
	proxied.URL.RawPath = ""

	// Providers only fail before writing (disposed connection), so an
	// error here still has a clean response to write to.
	if err := ws.Provider.Proxy(w, proxied); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func (s *Server) handleWorkspaceDisconnect(w http.ResponseWriter, r *http.Request) {
	if !s.registry.Disconnect(r.PathValue("id")) {
		writeError(w, http.StatusNotFound, "workspace not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"disconnected": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
