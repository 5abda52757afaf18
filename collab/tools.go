// Package collab implements the Collaboration Tools (C7): the
// capability-discovery and delegated-call surface exposed to agents.
package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/olserra/agent-semantic-protocol/core"
	"github.com/olserra/agent-semantic-protocol/hub"
	"github.com/olserra/agent-semantic-protocol/registry"
)

// CallerContext is what Tools needs from the agent it acts on behalf of:
// its own id, and the peer sets search_for_agents must exclude. Defined
// here, on the consumer side, so this package never imports the agent
// package; agent.BaseAgent satisfies this interface structurally.
type CallerContext interface {
	ID() string
	ActivePeers() []string
	PendingPeers() []string
	RecentPeers() []string
}

// AgentMatch is one search_for_agents hit.
type AgentMatch struct {
	AgentID string
	Score   float64
}

// SearchResult is search_for_agents' return value. Message is set instead
// of Matches when nothing was found, or when the tool is in standalone mode.
type SearchResult struct {
	Matches []AgentMatch
	Message string
}

// CollaborationOutcome is send_collaboration_request's return value,
// shaped as {success, response, request_id, error?} per SPEC_FULL.md §4.7.
type CollaborationOutcome struct {
	Success   bool
	Status    string
	Response  string
	RequestID string
	Error     string
}

// Config holds the default search parameters Tools falls back to when a
// caller passes a zero value.
type Config struct {
	Limit               int
	SimilarityThreshold float64
}

// Tools is the Collaboration Tools surface (C7) bound to one calling agent.
// A Tools built via NewStandaloneTools has no Hub/Registry: every operation
// returns an explanatory stub rather than touching either, matching the
// upstream framework's standalone/connected duality (SPEC_FULL.md §4.7).
type Tools struct {
	hub        *hub.Hub
	registry   *registry.Registry
	caller     CallerContext
	standalone bool
	cfg        Config
}

// NewTools builds a Tools backed by a live Hub and Registry.
func NewTools(h *hub.Hub, reg *registry.Registry, caller CallerContext, cfg Config) *Tools {
	if cfg.Limit <= 0 {
		cfg.Limit = 5
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = 0.2
	}
	return &Tools{hub: h, registry: reg, caller: caller, cfg: cfg}
}

// NewStandaloneTools builds a Tools with no Hub/Registry wired. Every
// operation returns a stub describing why, never an error and never a
// panic — this is a distinct, directly testable type rather than a
// nil-checked code path threaded through every method.
func NewStandaloneTools(caller CallerContext) *Tools {
	return &Tools{caller: caller, standalone: true}
}

// SearchForAgents implements search_for_agents: semantic search first, then
// exact-name, excluding self, active-conversation peers, pending-request
// peers, recent-history peers, and all HUMAN agents.
func (t *Tools) SearchForAgents(ctx context.Context, capabilityName string, limit int, threshold float64) (SearchResult, error) {
	if t.standalone {
		return SearchResult{Message: "standalone mode: no registry wired, cannot search for agents"}, nil
	}
	if limit <= 0 {
		limit = t.cfg.Limit
	}
	if threshold <= 0 {
		threshold = t.cfg.SimilarityThreshold
	}

	excluded := t.exclusionSet()
	// Over-fetch so exclusions don't starve the result set below limit.
	fetchLimit := limit + len(excluded)

	semantic, err := t.registry.GetByCapabilitySemantic(ctx, capabilityName, fetchLimit, threshold)
	if err != nil {
		return SearchResult{}, err
	}
	if matches := t.filterSemantic(semantic, excluded, limit); len(matches) > 0 {
		return SearchResult{Matches: matches}, nil
	}

	exact, err := t.registry.GetByCapability(ctx, capabilityName, fetchLimit, threshold)
	if err != nil {
		return SearchResult{}, err
	}
	if matches := t.filterExact(exact, excluded, limit); len(matches) > 0 {
		return SearchResult{Matches: matches}, nil
	}

	return SearchResult{Message: fmt.Sprintf("no agents found offering capability %q", capabilityName)}, nil
}

func (t *Tools) exclusionSet() map[string]bool {
	excluded := map[string]bool{t.caller.ID(): true}
	for _, p := range t.caller.ActivePeers() {
		excluded[p] = true
	}
	for _, p := range t.caller.PendingPeers() {
		excluded[p] = true
	}
	for _, p := range t.caller.RecentPeers() {
		excluded[p] = true
	}
	return excluded
}

func (t *Tools) filterSemantic(results []registry.SemanticResult, excluded map[string]bool, limit int) []AgentMatch {
	var out []AgentMatch
	for _, r := range results {
		if excluded[r.Registration.AgentID] || r.Registration.AgentType == core.AgentTypeHuman {
			continue
		}
		out = append(out, AgentMatch{AgentID: r.Registration.AgentID, Score: r.Score})
		if len(out) >= limit {
			break
		}
	}
	return out
}

func (t *Tools) filterExact(results []*registry.Registration, excluded map[string]bool, limit int) []AgentMatch {
	var out []AgentMatch
	for _, r := range results {
		if excluded[r.AgentID] || r.AgentType == core.AgentTypeHuman {
			continue
		}
		out = append(out, AgentMatch{AgentID: r.AgentID, Score: 1.0})
		if len(out) >= limit {
			break
		}
	}
	return out
}

// SendCollaborationRequest implements send_collaboration_request: validates
// the target is active and non-human, enforces chain hygiene via the Hub
// (SPEC_FULL.md §4.6), and normalizes the response. timeout is accepted for
// interface parity with the upstream tool signature but is not used: the
// Hub always applies its own adaptive timeout computed from task length,
// whatever value the caller passes.
func (t *Tools) SendCollaborationRequest(ctx context.Context, targetAgentID, task string, timeout time.Duration, extra map[string]string) CollaborationOutcome {
	if t.standalone {
		return CollaborationOutcome{Error: "standalone mode: no hub wired, cannot send collaboration requests"}
	}
	if targetAgentID == t.caller.ID() {
		return CollaborationOutcome{Error: "self-delegation is not allowed"}
	}
	if !t.hub.IsActive(targetAgentID) {
		return CollaborationOutcome{Error: fmt.Sprintf("target agent %s is not active", targetAgentID)}
	}
	reg, ok := t.registry.GetRegistration(targetAgentID)
	if !ok {
		return CollaborationOutcome{Error: fmt.Sprintf("target agent %s is not registered", targetAgentID)}
	}
	if reg.AgentType == core.AgentTypeHuman {
		return CollaborationOutcome{Error: fmt.Sprintf("target agent %s is human; collaboration requests target agents only", targetAgentID)}
	}

	resp, requestID, err := t.hub.SendCollaborationRequestMessage(ctx, t.caller.ID(), targetAgentID, task, nil, "", extra)
	if err != nil {
		return CollaborationOutcome{RequestID: requestID, Status: "error", Error: err.Error()}
	}
	if resp == nil {
		return CollaborationOutcome{
			RequestID: requestID,
			Status:    string(hub.StatusPending),
			Response:  fmt.Sprintf("collaboration request %s to %s timed out", requestID, targetAgentID),
		}
	}
	return CollaborationOutcome{Success: true, Status: string(hub.StatusCompleted), Response: normalizeResponse(resp), RequestID: requestID}
}

// normalizeResponse renders a response message's content, JSON-encoding any
// attached structured metadata (everything besides the protocol's own
// reserved keys) after it, since this core has no "list/complex value"
// response shape to unwrap the way the upstream tool does.
func normalizeResponse(msg *core.Message) string {
	extra := map[string]string{}
	for k, v := range msg.Metadata {
		switch k {
		case core.MetaRequestID, core.MetaResponseTo, core.MetaOriginalSender, core.MetaReason, core.MetaCooldownRemaining:
			continue
		}
		extra[k] = v
	}
	if len(extra) == 0 {
		return msg.Content
	}
	encoded, err := json.Marshal(extra)
	if err != nil {
		return msg.Content
	}
	return fmt.Sprintf("%s %s", msg.Content, encoded)
}

// CheckCollaborationResult implements check_collaboration_result: returns
// status ∈ {completed, completed_late, pending, not_found} with the
// response content when available, or status "error" in standalone mode.
func (t *Tools) CheckCollaborationResult(requestID string) CollaborationOutcome {
	if t.standalone {
		return CollaborationOutcome{RequestID: requestID, Status: "error", Error: "standalone mode: no hub wired, cannot check collaboration results"}
	}
	status, msg := t.hub.CheckCollaborationResult(requestID)
	outcome := CollaborationOutcome{RequestID: requestID, Status: string(status)}
	if msg != nil {
		outcome.Response = normalizeResponse(msg)
		outcome.Success = true
	}
	return outcome
}
