// Package registry implements the Agent Registry (C4): the single
// authoritative record of every agent known to a process, indexed for
// lookup by capability, interaction mode, organization, and owner.
package registry

import (
	"github.com/olserra/agent-semantic-protocol/core"
)

// Registration is everything the registry knows about one agent. It is the
// unit stored, indexed, and returned by every registry query.
type Registration struct {
	AgentID          string
	DID              string
	Name             string
	AgentType        core.AgentType
	InteractionModes []core.InteractionMode
	Capabilities     []core.Capability
	OrganizationID   string
	OwnerID          string
	PaymentAddress   string
	Verified         bool
	Identity         *core.Identity
	Metadata         map[string]string
}

// HasInteractionMode reports whether mode is among the registration's
// declared modes.
func (r *Registration) HasInteractionMode(mode core.InteractionMode) bool {
	for _, m := range r.InteractionModes {
		if m == mode {
			return true
		}
	}
	return false
}

// clone returns a defensive copy so callers can't mutate registry-owned
// slices through a returned Registration.
func (r *Registration) clone() *Registration {
	cp := *r
	cp.InteractionModes = append([]core.InteractionMode(nil), r.InteractionModes...)
	cp.Capabilities = append([]core.Capability(nil), r.Capabilities...)
	if r.Metadata != nil {
		cp.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
