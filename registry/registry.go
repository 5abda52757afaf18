package registry

import (
	"context"
	"sync"

	"github.com/olserra/agent-semantic-protocol/capability"
	"github.com/olserra/agent-semantic-protocol/core"
)

// SemanticResult pairs a registration with the raw similarity score that
// surfaced it in a semantic capability search.
type SemanticResult struct {
	Registration *Registration
	Score        float64
}

// Registry is the Agent Registry (C4). Safe for concurrent use.
type Registry struct {
	mu sync.RWMutex

	agents            map[string]*Registration
	interactionIndex  map[core.InteractionMode]map[string]bool
	organizationIndex map[string]map[string]bool
	ownerIndex        map[string]map[string]bool
	verifiedAgents    map[string]bool

	capabilities *capability.Index
}

// New creates an empty Registry backed by the given Capability Index. A nil
// index is replaced with a fresh one built on capability.NullEmbedder.
func New(capIndex *capability.Index) *Registry {
	if capIndex == nil {
		capIndex = capability.NewIndex(nil)
	}
	return &Registry{
		agents:            make(map[string]*Registration),
		interactionIndex:  make(map[core.InteractionMode]map[string]bool),
		organizationIndex: make(map[string]map[string]bool),
		ownerIndex:        make(map[string]map[string]bool),
		verifiedAgents:    make(map[string]bool),
		capabilities:      capIndex,
	}
}

// Capabilities exposes the backing Capability Index for components (the
// Collaboration Tools, mainly) that need to query it directly.
func (r *Registry) Capabilities() *capability.Index { return r.capabilities }

// Register adds a new agent. It fails if agentID is already registered or
// the DID fails format validation. The Registry, not the agent, owns the
// identity's verification_status transition: it lands on StatusVerified on
// success and StatusFailed on any validation failure.
func (r *Registry) Register(ctx context.Context, reg *Registration) error {
	if err := core.ValidateDIDFormat(reg.DID); err != nil {
		if reg.Identity != nil {
			reg.Identity.VerificationStatus = core.StatusFailed
		}
		return &core.ValidationError{Reason: "registration: " + err.Error()}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[reg.AgentID]; exists {
		if reg.Identity != nil {
			reg.Identity.VerificationStatus = core.StatusFailed
		}
		return &core.ValidationError{Reason: "registration: agent " + reg.AgentID + " already registered"}
	}
	if reg.Identity != nil {
		reg.Identity.VerificationStatus = core.StatusVerified
	}
	reg.Verified = true
	r.addLocked(ctx, reg)
	return nil
}

func (r *Registry) addLocked(ctx context.Context, reg *Registration) {
	stored := reg.clone()
	r.agents[stored.AgentID] = stored

	for _, mode := range stored.InteractionModes {
		if r.interactionIndex[mode] == nil {
			r.interactionIndex[mode] = make(map[string]bool)
		}
		r.interactionIndex[mode][stored.AgentID] = true
	}
	if stored.OrganizationID != "" {
		if r.organizationIndex[stored.OrganizationID] == nil {
			r.organizationIndex[stored.OrganizationID] = make(map[string]bool)
		}
		r.organizationIndex[stored.OrganizationID][stored.AgentID] = true
	}
	if stored.OwnerID != "" {
		if r.ownerIndex[stored.OwnerID] == nil {
			r.ownerIndex[stored.OwnerID] = make(map[string]bool)
		}
		r.ownerIndex[stored.OwnerID][stored.AgentID] = true
	}
	if stored.Verified {
		r.verifiedAgents[stored.AgentID] = true
	}
	r.capabilities.Add(ctx, stored.AgentID, stored.Capabilities)
}

func (r *Registry) removeLocked(agentID string) *Registration {
	reg, ok := r.agents[agentID]
	if !ok {
		return nil
	}
	for mode := range r.interactionIndex {
		delete(r.interactionIndex[mode], agentID)
	}
	if reg.OrganizationID != "" {
		delete(r.organizationIndex[reg.OrganizationID], agentID)
	}
	if reg.OwnerID != "" {
		delete(r.ownerIndex[reg.OwnerID], agentID)
	}
	delete(r.verifiedAgents, agentID)
	delete(r.agents, agentID)
	r.capabilities.Remove(agentID)
	return reg
}

// Unregister removes an agent. It is a no-op (not an error) if the agent was
// never registered, matching a deregistration being naturally idempotent.
func (r *Registry) Unregister(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(agentID)
}

// UpdateRegistration replaces an existing agent's registration wholesale.
// The replacement's DID is validated before anything is removed, so a
// rejected replacement leaves the previous registration in place.
func (r *Registry) UpdateRegistration(ctx context.Context, agentID string, reg *Registration) error {
	if err := core.ValidateDIDFormat(reg.DID); err != nil {
		return &core.ValidationError{Reason: "registration update: " + err.Error()}
	}
	reg.AgentID = agentID

	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(agentID)
	r.addLocked(ctx, reg)
	return nil
}

// GetRegistration returns the agent's registration, if any.
func (r *Registry) GetRegistration(agentID string) (*Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.agents[agentID]
	if !ok {
		return nil, false
	}
	return reg.clone(), true
}

// GetIdentity returns the agent's stored Identity, if registered.
func (r *Registry) GetIdentity(agentID string) (*core.Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.agents[agentID]
	if !ok || reg.Identity == nil {
		return nil, false
	}
	return reg.Identity, true
}

// GetAgentType returns the agent's declared type, if registered.
func (r *Registry) GetAgentType(agentID string) (core.AgentType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.agents[agentID]
	if !ok {
		return "", false
	}
	return reg.AgentType, true
}

// GetAllAgents returns every registered agent, in no particular order.
func (r *Registry) GetAllAgents() []*Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Registration, 0, len(r.agents))
	for _, reg := range r.agents {
		out = append(out, reg.clone())
	}
	return out
}

// GetAllCapabilities returns every distinct capability name known to the
// registry's capability index.
func (r *Registry) GetAllCapabilities() []string {
	return r.capabilities.AllCapabilityNames()
}

// GetByCapability returns agents advertising name, exact matches first, with
// a semantic fallback when there is no exact hit.
func (r *Registry) GetByCapability(ctx context.Context, name string, limit int, threshold float64) ([]*Registration, error) {
	matches, err := r.capabilities.FindByName(ctx, name, limit, threshold)
	if err != nil {
		return nil, err
	}
	return r.resolveMatches(matches), nil
}

// GetByCapabilitySemantic runs a pure semantic search over capability
// descriptions, returning registrations paired with their raw score.
func (r *Registry) GetByCapabilitySemantic(ctx context.Context, query string, limit int, threshold float64) ([]SemanticResult, error) {
	matches, err := r.capabilities.FindSemantic(ctx, query, limit, threshold)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SemanticResult, 0, len(matches))
	for _, m := range matches {
		if reg, ok := r.agents[m.AgentID]; ok {
			out = append(out, SemanticResult{Registration: reg.clone(), Score: m.Score})
		}
	}
	return out, nil
}

func (r *Registry) resolveMatches(matches []capability.Match) []*Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	out := make([]*Registration, 0, len(matches))
	for _, m := range matches {
		if seen[m.AgentID] {
			continue
		}
		if reg, ok := r.agents[m.AgentID]; ok {
			out = append(out, reg.clone())
			seen[m.AgentID] = true
		}
	}
	return out
}

// GetByInteractionMode returns every agent that declares mode.
func (r *Registry) GetByInteractionMode(mode core.InteractionMode) []*Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Registration, 0, len(r.interactionIndex[mode]))
	for agentID := range r.interactionIndex[mode] {
		out = append(out, r.agents[agentID].clone())
	}
	return out
}

// GetByOrganization returns every agent registered under organizationID.
func (r *Registry) GetByOrganization(organizationID string) []*Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Registration, 0, len(r.organizationIndex[organizationID]))
	for agentID := range r.organizationIndex[organizationID] {
		out = append(out, r.agents[agentID].clone())
	}
	return out
}

// GetByOwner returns every agent owned by ownerID.
func (r *Registry) GetByOwner(ownerID string) []*Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Registration, 0, len(r.ownerIndex[ownerID]))
	for agentID := range r.ownerIndex[ownerID] {
		out = append(out, r.agents[agentID].clone())
	}
	return out
}

// GetVerifiedAgents returns every agent currently marked verified.
func (r *Registry) GetVerifiedAgents() []*Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Registration, 0, len(r.verifiedAgents))
	for agentID := range r.verifiedAgents {
		out = append(out, r.agents[agentID].clone())
	}
	return out
}

// VerifyAgent marks agentID as verified. Register already verifies on
// admission; this is for re-verifying an agent whose identity was re-issued
// or whose status was manually reset after the fact.
func (r *Registry) VerifyAgent(agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.agents[agentID]
	if !ok {
		return &core.ValidationError{Reason: "verify: unknown agent " + agentID}
	}
	reg.Verified = true
	r.verifiedAgents[agentID] = true
	return nil
}

// VerifyOwner reports whether ownerID matches the agent's registered owner.
func (r *Registry) VerifyOwner(agentID, ownerID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.agents[agentID]
	if !ok {
		return false, &core.ValidationError{Reason: "verify owner: unknown agent " + agentID}
	}
	return reg.OwnerID != "" && reg.OwnerID == ownerID, nil
}
