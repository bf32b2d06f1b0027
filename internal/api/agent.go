package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/nugget/whim-agent/internal/agent"
)

// keepaliveInterval is how often an idle stream sends an SSE comment.
const keepaliveInterval = 15 * time.Second

// RunRequest is the body of the agent endpoints: the run input plus an
// optional partial configuration.
type RunRequest struct {
	agent.Input
	Config *agent.Config `json:"config,omitempty"`
}

// runConfig overlays the non-zero fields of override on defaults. A
// request cannot lift the cost budget to unlimited.
func runConfig(defaults agent.Config, override *agent.Config) (agent.Config, error) {
	cfg := defaults
	if override == nil {
		return cfg, nil
	}
	if override.MaxIterations > 0 {
		cfg.MaxIterations = override.MaxIterations
	}
	if override.Model != "" {
		cfg.Model = override.Model
	}
	if len(override.Tools) > 0 {
		cfg.Tools = override.Tools
	}
	if override.Style != "" {
		style, err := agent.ParseStyle(string(override.Style))
		if err != nil {
			return cfg, err
		}
		cfg.Style = style
	}
	if override.CostBudget > 0 {
		cfg.CostBudget = override.CostBudget
	}
	if override.ModelTier != "" {
		cfg.ModelTier = override.ModelTier
	}
	return cfg, nil
}

// decodeRun reads and checks a RunRequest.
func (s *Server) decodeRun(w http.ResponseWriter, r *http.Request) (agent.Config, agent.Input, bool) {
	var req RunRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return agent.Config{}, agent.Input{}, false
	}
	cfg, in, err := s.prepare(req)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return agent.Config{}, agent.Input{}, false
	}
	return cfg, in, true
}

func (s *Server) prepare(req RunRequest) (agent.Config, agent.Input, error) {
	if req.Message == "" {
		return agent.Config{}, agent.Input{}, fmt.Errorf("message is required")
	}
	cfg, err := runConfig(s.defaults, req.Config)
	if err != nil {
		return agent.Config{}, agent.Input{}, err
	}
	return cfg, req.Input, nil
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	cfg, in, ok := s.decodeRun(w, r)
	if !ok {
		return
	}

	// A run may outlive the server's WriteTimeout.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Debug("could not clear write deadline", "error", err)
	}

	out, err := s.runner.Run(r.Context(), cfg, in)
	if err != nil {
		s.logger.Error("agent run failed", "error", err, "conversation_id", in.ConversationID)
		s.errorResponse(w, runErrorStatus(err), err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, out, s.logger)
}

// handleStream runs the agent and relays its events as server-sent
// events named after the event type.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.errorResponse(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	cfg, in, ok := s.decodeRun(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	rc := http.NewResponseController(w)
	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	events := s.runner.Stream(r.Context(), cfg, in)
	for {
		select {
		case ev, open := <-events:
			if !open {
				return
			}
			s.writeSSE(w, ev)
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
		}
		flusher.Flush()

		// Tool-heavy runs outlive the server's write timeout.
		if err := rc.SetWriteDeadline(time.Now().Add(2 * keepaliveInterval)); err != nil {
			s.logger.Debug("failed to reset write deadline", "error", err)
		}
	}
}

func (s *Server) writeSSE(w http.ResponseWriter, ev agent.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		s.logger.Debug("failed to marshal SSE event", "error", err)
		return
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		s.logger.Debug("failed to write SSE event", "error", err)
	}
}
