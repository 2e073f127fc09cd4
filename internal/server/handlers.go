package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/devnet-ops/compliance-ai/internal/session"
)

// promptRequest is the body of /agent/prompt and /agent/prompt/stream.
type promptRequest struct {
	Prompt   string `json:"prompt"`
	ThreadID string `json:"thread_id"`
}

// streamFrame is one NDJSON line on the streaming endpoint: a phase-tagged
// engine event plus the thread it belongs to.
type streamFrame struct {
	session.StreamEvent
	ThreadID string `json:"thread_id"`
}

func (s *Server) handlePrompt(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodePrompt(w, r)
	if !ok {
		return
	}

	reply, err := s.engine.SubmitTurn(r.Context(), req.ThreadID, req.Prompt)
	if err != nil {
		s.log.Error("turn failed", zap.String("thread_id", req.ThreadID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error":     "failed to process prompt",
			"thread_id": req.ThreadID,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"response":  reply,
		"thread_id": req.ThreadID,
	})
}

func (s *Server) handlePromptStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodePrompt(w, r)
	if !ok {
		return
	}

	flusher, canFlush := w.(http.Flusher)

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	for ev := range s.engine.StreamTurn(r.Context(), req.ThreadID, req.Prompt) {
		if err := enc.Encode(streamFrame{StreamEvent: ev, ThreadID: req.ThreadID}); err != nil {
			// Client went away; the engine drains the turn on its own.
			s.log.Debug("stream write failed", zap.String("thread_id", req.ThreadID), zap.Error(err))
			return
		}
		if canFlush {
			flusher.Flush()
		}
	}
}

func (s *Server) decodePrompt(w http.ResponseWriter, r *http.Request) (promptRequest, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return promptRequest{}, false
	}

	var req promptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "invalid request body"})
		return promptRequest{}, false
	}
	if req.Prompt == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "prompt is required"})
		return promptRequest{}, false
	}
	if req.ThreadID == "" {
		req.ThreadID = uuid.NewString()
	}
	return req, true
}

// handleSession serves the in-memory session record: GET returns a
// snapshot, DELETE discards the thread.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	threadID := r.URL.Query().Get("thread_id")
	if threadID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "thread_id is required"})
		return
	}

	switch r.Method {
	case http.MethodGet:
		snap, ok := s.store.Peek(threadID)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]interface{}{"error": "unknown thread"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"thread_id":            snap.Key,
			"turns":                snap.Turns,
			"report_id":            snap.ReportID,
			"analysis_complete":    snap.AnalysisComplete,
			"pending_confirmation": snap.PendingConfirmation,
			"remediation_plan":     snap.RemediationPlan,
			"created_at":           snap.CreatedAt,
			"updated_at":           snap.UpdatedAt,
		})
	case http.MethodDelete:
		s.store.Delete(threadID)
		writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": threadID})
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleHistory lists recorded remediation executions from the durable
// store.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.history == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"error": "history store not configured"})
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	execs, err := s.history.ListExecutions(r.Context(), r.URL.Query().Get("thread_id"), limit)
	if err != nil {
		s.log.Error("failed to list executions", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": "failed to list executions"})
		return
	}
	runs, err := s.history.ListReportRuns(r.Context(), r.URL.Query().Get("thread_id"), limit)
	if err != nil {
		s.log.Error("failed to list report runs", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": "failed to list report runs"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"executions":  execs,
		"report_runs": runs,
	})
}

func writeJSON(w http.ResponseWriter, status int, body map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
