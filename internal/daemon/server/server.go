// Package server provides the HTTP API of the taskagent daemon.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/websocket"
	"github.com/grovetools/taskagent/errors"
	"github.com/grovetools/taskagent/internal/daemon/engine"
	"github.com/grovetools/taskagent/pkg/agent"
	"github.com/grovetools/taskagent/pkg/daemon"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

// Server manages the daemon's HTTP server over a Unix socket.
type Server struct {
	logger   *logrus.Entry
	server   *http.Server
	engine   *engine.Engine
	upgrader websocket.Upgrader
}

// New creates a new Server instance.
func New(logger *logrus.Entry) *Server {
	return &Server{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Only local clients can reach the socket.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// SetEngine sets the engine whose supervisor the API drives.
func (s *Server) SetEngine(eng *engine.Engine) {
	s.engine = eng
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /api/sessions", s.withEngine(s.handleListSessions))
	mux.HandleFunc("POST /api/sessions", s.withEngine(s.handleLaunch))
	mux.HandleFunc("GET /api/sessions/{id}", s.withEngine(s.handleGetSession))
	mux.HandleFunc("DELETE /api/sessions/{id}", s.withEngine(s.handleRemove))
	mux.HandleFunc("POST /api/sessions/{id}/restart", s.withEngine(s.handleRestart))
	mux.HandleFunc("POST /api/sessions/{id}/stop", s.withEngine(s.handleStop))
	mux.HandleFunc("POST /api/sessions/{id}/open", s.withEngine(s.handleOpen))
	mux.HandleFunc("GET /api/config", s.withEngine(s.handleGetConfig))
	mux.HandleFunc("GET /api/stream", s.withEngine(s.handleStream))
	mux.HandleFunc("GET /api/ws", s.withEngine(s.handleWebsocket))

	return mux
}

// ListenAndServe starts the daemon on the given unix socket path.
// It blocks until the server stops or fails.
func (s *Server) ListenAndServe(socketPath string) error {
	// Cleanup stale socket
	if _, err := os.Stat(socketPath); err == nil {
		if err := os.Remove(socketPath); err != nil {
			return fmt.Errorf("failed to remove stale socket: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(socketPath), 0755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on socket: %w", err)
	}

	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s.server = &http.Server{
		Handler:           s.serveHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.WithField("socket", socketPath).Info("Daemon listening")
	return s.server.Serve(listener)
}

// serveHandler accepts HTTP/1.1 and cleartext HTTP/2 on the same socket.
// Websocket upgrades stay on HTTP/1.1.
func (s *Server) serveHandler() http.Handler {
	return h2c.NewHandler(s.Handler(), &http2.Server{})
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withEngine(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.engine == nil {
			writeError(w, errors.New(errors.ErrCodeDaemonUnavailable, "engine not initialized"))
			return
		}
		h(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError renders err as {code, message, details}.
func writeError(w http.ResponseWriter, err error) {
	agentErr, ok := errors.As(err)
	if !ok {
		agentErr = errors.Wrap(err, errors.ErrCodeInternal, err.Error())
	}
	body := *agentErr
	if body.Cause != nil {
		body.Details = make(map[string]interface{}, len(agentErr.Details)+1)
		for k, v := range agentErr.Details {
			body.Details[k] = v
		}
		body.Details["cause"] = body.Cause.Error()
	}
	writeJSON(w, statusFor(agentErr.Code), &body)
}

func statusFor(code errors.ErrorCode) int {
	switch code {
	case errors.ErrCodeInvalidInput, errors.ErrCodeWorkingDirRequired,
		errors.ErrCodeWorkingDirInvalid, errors.ErrCodeConfigInvalid:
		return http.StatusBadRequest
	case errors.ErrCodeSessionNotFound:
		return http.StatusNotFound
	case errors.ErrCodeSessionNotAlive:
		return http.StatusConflict
	case errors.ErrCodeLaunchFailed, errors.ErrCodeCommandFailed, errors.ErrCodeCaptureFailed:
		return http.StatusBadGateway
	case errors.ErrCodeToolMissing, errors.ErrCodeDaemonUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && err != io.EOF {
		return errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid request body")
	}
	return nil
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Supervisor().List())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, ok := s.engine.Supervisor().Get(id)
	if !ok {
		writeError(w, errors.SessionNotFound(id))
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleLaunch(w http.ResponseWriter, r *http.Request) {
	var req daemon.LaunchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	sess, err := s.engine.Launch(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	var req daemon.RestartRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	sess, err := s.engine.Restart(r.Context(), r.PathValue("id"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Supervisor().Stop(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Supervisor().Remove(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Supervisor().OpenExternally(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.RunningConfig())
}

// snapshot renders the current registry as session_updated events so a new
// subscriber starts with full state.
func (s *Server) snapshot() []agent.Event {
	now := time.Now()
	sessions := s.engine.Supervisor().List()
	events := make([]agent.Event, 0, len(sessions))
	for i := range sessions {
		events = append(events, agent.Event{
			Type:    agent.EventSessionUpdated,
			TaskID:  sessions[i].TaskID,
			Session: &sessions[i],
			At:      now,
		})
	}
	return events
}

// handleStream provides Server-Sent Events (SSE) for session events.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sup := s.engine.Supervisor()
	ch := sup.Subscribe()
	defer sup.Unsubscribe(ch)

	fmt.Fprintf(w, ": connected\n\n")
	flusher.Flush()
	s.logger.Debug("SSE client connected")

	send := func(ev agent.Event) {
		data, err := json.Marshal(ev)
		if err != nil {
			s.logger.WithError(err).Error("Failed to marshal event")
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}
	for _, ev := range s.snapshot() {
		send(ev)
	}

	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug("SSE client disconnected")
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			send(ev)
		}
	}
}

// handleWebsocket streams the same events as handleStream over a websocket.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Debug("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	sup := s.engine.Supervisor()
	ch := sup.Subscribe()
	defer sup.Unsubscribe(ch)

	// Reader: handles pongs and notices the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(ev agent.Event) error {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(ev)
	}
	for _, ev := range s.snapshot() {
		if err := write(ev); err != nil {
			return
		}
	}

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "daemon shutting down"),
					time.Now().Add(wsWriteWait))
				return
			}
			if err := write(ev); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
