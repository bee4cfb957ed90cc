// Package transport implements the HTTP/SSE projection (spec §6.2):
// POST /chat (SSE), POST /chat-sync (single JSON result), POST
// /command (SSE with a leading data-mode event), and GET /health.
package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/fenwick-labs/agentengine/llm"
	"github.com/fenwick-labs/agentengine/loop"
	"github.com/fenwick-labs/agentengine/metrics"
)

// Version is the engine's reported version string, overridable at
// build time via -ldflags.
var Version = "dev"

// Server projects a Loop over HTTP/SSE.
type Server struct {
	Loop      *loop.Loop
	Providers *llm.Registry
	Metrics   *metrics.Metrics
	Config    loop.Config

	router chi.Router
}

// NewServer wires the chi router for the four spec §6.2 endpoints.
func NewServer(l *loop.Loop, providers *llm.Registry, m *metrics.Metrics, cfg loop.Config) *Server {
	s := &Server{Loop: l, Providers: providers, Metrics: m, Config: cfg}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Post("/chat", s.handleChat)
	r.Post("/chat-sync", s.handleChatSync)
	r.Post("/command", s.handleCommand)
	r.Get("/health", s.handleHealth)
	if m != nil {
		r.Mount("/metrics", m.Handler())
	}
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ChatRequest is the JSON body POST /chat and POST /command accept.
type ChatRequest struct {
	Task string `json:"task"`
}

// ChatSyncResult is POST /chat-sync's response body.
type ChatSyncResult struct {
	Success bool   `json:"success"`
	Summary string `json:"summary,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse is GET /health's response body (spec §6.2).
type HealthResponse struct {
	Status          string    `json:"status"`
	Version         string    `json:"version"`
	Providers       []string  `json:"providers"`
	DefaultProvider string    `json:"defaultProvider,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, err := decodeChatRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	flusher, ok := prepareSSE(w)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	events := s.Loop.RunTraced(r.Context(), req.Task, s.Config)
	streamEvents(w, flusher, events)
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	req, err := decodeChatRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	flusher, ok := prepareSSE(w)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	writeSSEData(w, flusher, "data-mode", map[string]any{"mode": "command"})

	events := s.Loop.RunTraced(r.Context(), req.Task, s.Config)
	streamEvents(w, flusher, events)
}

func (s *Server) handleChatSync(w http.ResponseWriter, r *http.Request) {
	req, err := decodeChatRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	events := s.Loop.RunTraced(r.Context(), req.Task, s.Config)
	result := ChatSyncResult{}
	for ev := range events {
		if !ev.IsTerminal() {
			continue
		}
		switch ev.Kind {
		case loop.EventComplete:
			result.Success = true
			if summary, ok := ev.Data["summary"].(string); ok {
				result.Summary = summary
			}
		default:
			result.Success = false
			if reason, ok := ev.Data["reason"].(string); ok {
				result.Error = reason
			} else {
				result.Error = fmt.Sprintf("run ended with %s", ev.Kind)
			}
		}
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "ok",
		Version:   Version,
		Timestamp: time.Now(),
	}
	if s.Providers != nil {
		resp.Providers = s.Providers.Names()
		if def, ok := s.Providers.Default(); ok {
			resp.DefaultProvider = def.ModelName()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func decodeChatRequest(r *http.Request) (ChatRequest, error) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return ChatRequest{}, fmt.Errorf("invalid request body: %w", err)
	}
	if req.Task == "" {
		return ChatRequest{}, fmt.Errorf("task must not be empty")
	}
	return req, nil
}

func prepareSSE(w http.ResponseWriter) (http.Flusher, bool) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	flusher, ok := w.(http.Flusher)
	return flusher, ok
}

// streamEvents writes every loop event as an AI-SDK custom-data SSE
// event (`{type: "data-<eventType>", data:{...}}`), terminating with
// `data: [DONE]\n\n` once the channel closes (spec §6.2).
func streamEvents(w http.ResponseWriter, flusher http.Flusher, events <-chan loop.Event) {
	for ev := range events {
		writeSSEData(w, flusher, "data-"+string(ev.Kind), ev.Data)
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func writeSSEData(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) {
	payload := map[string]any{"type": eventType, "data": data}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", encoded)
	flusher.Flush()
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
