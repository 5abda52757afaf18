package httpbridge

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/olserra/agent-semantic-protocol/collab"
	"go.uber.org/zap"
)

// Server exposes one agent's Collaboration Tools (C7) over HTTP, so an
// external, non-Go, non-in-process collaborator can call search_for_agents,
// send_collaboration_request, and check_collaboration_result without
// joining the Hub directly.
type Server struct {
	tools  *collab.Tools
	logger *zap.Logger
}

// NewServer wraps tools for HTTP access. logger may be nil.
func NewServer(tools *collab.Tools, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{tools: tools, logger: logger}
}

// Handler returns an http.Handler routing the three Collaboration Tools
// endpoints documented on the package.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/search", s.handleSearch)
	mux.HandleFunc("/v1/collaborate", s.handleCollaborate)
	mux.HandleFunc("/v1/collaborate/", s.handleCheckResult)
	return mux
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req SearchRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := s.tools.SearchForAgents(r.Context(), req.CapabilityName, req.Limit, req.Threshold)
	if err != nil {
		s.logger.Warn("httpbridge: search_for_agents failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := SearchResponse{Message: result.Message}
	for _, m := range result.Matches {
		resp.Matches = append(resp.Matches, AgentMatch{AgentID: m.AgentID, Score: m.Score})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCollaborate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req CollaborateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	timeout := time.Duration(req.TimeoutSeconds) * time.Second
	outcome := s.tools.SendCollaborationRequest(r.Context(), req.TargetAgentID, req.Task, timeout, req.Metadata)
	writeJSON(w, http.StatusOK, toCollaborateResponse(outcome))
}

func (s *Server) handleCheckResult(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	requestID := strings.TrimPrefix(r.URL.Path, "/v1/collaborate/")
	if requestID == "" {
		http.Error(w, "missing request_id", http.StatusBadRequest)
		return
	}

	outcome := s.tools.CheckCollaborationResult(requestID)
	writeJSON(w, http.StatusOK, toCollaborateResponse(outcome))
}

func toCollaborateResponse(outcome collab.CollaborationOutcome) CollaborateResponse {
	return CollaborateResponse{
		Success:   outcome.Success,
		Status:    outcome.Status,
		Response:  outcome.Response,
		RequestID: outcome.RequestID,
		Error:     outcome.Error,
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out interface{}) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		http.Error(w, "invalid JSON body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
