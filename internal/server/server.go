package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"formcoach/internal/config"
	"formcoach/internal/logging"
	"formcoach/internal/orchestrator"
)

// Server serves the coaching dialogue over HTTP.
type Server struct {
	cfg  *config.Config
	mgr  *Manager
	http *http.Server
}

// New builds the server around a session manager.
func New(cfg *config.Config, mgr *Manager) *Server {
	s := &Server{cfg: cfg, mgr: mgr}

	mux := http.NewServeMux()
	mux.HandleFunc("/chat", s.handleChat)
	mux.HandleFunc("/chat/reset", s.handleReset)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/admin/cleanup", s.handleCleanup)

	s.http = &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      mux,
		ReadTimeout:  cfg.GetReadTimeout(),
		WriteTimeout: cfg.GetWriteTimeout(),
	}
	return s
}

// Handler returns the route table. Tests drive it directly.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Run serves until the context is cancelled, then shuts down gracefully
// and stops the session sweeper.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Server("listening on %s", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.mgr.Close()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.GetShutdownTimeout())
	defer cancel()

	err := s.http.Shutdown(shutdownCtx)
	s.mgr.Close()
	logging.Server("server stopped")
	return err
}

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
	UserID         string `json:"user_id,omitempty"`
}

type chatResponse struct {
	OK             bool   `json:"ok"`
	ConversationID string `json:"conversation_id"`
	Type           string `json:"type"`
	Question       string `json:"question,omitempty"`
	Result         string `json:"result,omitempty"`
	Error          string `json:"error,omitempty"`
	ElapsedMS      int64  `json:"elapsed_ms"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	if req.UserID != "" {
		logging.ServerDebug("chat message from user %s", req.UserID)
	}

	start := time.Now()
	outcome, id := s.mgr.Handle(r.Context(), req.ConversationID, req.Message)
	elapsed := time.Since(start).Milliseconds()

	resp := chatResponse{ConversationID: id, ElapsedMS: elapsed}
	switch outcome.Type {
	case orchestrator.OutcomeQuestion:
		resp.OK = true
		resp.Type = "question"
		resp.Question = outcome.Question
	case orchestrator.OutcomeComplete:
		resp.OK = true
		resp.Type = "complete"
		resp.Result = outcome.Report.Markdown()
	default:
		resp.Type = "error"
		if outcome.Err != nil {
			resp.Error = outcome.Err.Error()
		} else {
			resp.Error = "unknown failure"
		}
	}

	logging.Server("chat %s -> %s (%dms)", id, resp.Type, elapsed)
	writeJSON(w, http.StatusOK, resp)
}

type resetRequest struct {
	ConversationID string `json:"conversation_id"`
}

type resetResponse struct {
	OK             bool   `json:"ok"`
	ConversationID string `json:"conversation_id"`
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.ConversationID == "" {
		writeError(w, http.StatusBadRequest, "conversation_id is required")
		return
	}

	if err := s.mgr.Reset(req.ConversationID); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, resetResponse{OK: true, ConversationID: req.ConversationID})
}

type healthResponse struct {
	OK                  bool   `json:"ok"`
	Status              string `json:"status"`
	Time                string `json:"time"`
	ActiveConversations int    `json:"active_conversations"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}

	writeJSON(w, http.StatusOK, healthResponse{
		OK:                  true,
		Status:              "ok",
		Time:                time.Now().UTC().Format(time.RFC3339),
		ActiveConversations: s.mgr.Active(),
	})
}

type cleanupResponse struct {
	OK      bool `json:"ok"`
	Removed int  `json:"removed"`
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	writeJSON(w, http.StatusOK, cleanupResponse{OK: true, Removed: s.mgr.Cleanup()})
}

type errorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Server("response encode failed: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
