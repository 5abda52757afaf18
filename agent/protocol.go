// Package agent implements the Protocols (C2) and Agent Runtime (C5)
// components: message-shape validation per interaction pattern, and the
// per-agent queue/processing loop built on top of it.
package agent

import (
	"fmt"

	"github.com/olserra/agent-semantic-protocol/core"
)

// ProtocolType names a Protocol implementation.
type ProtocolType string

const (
	ProtocolSimple        ProtocolType = "simple"
	ProtocolCollaboration ProtocolType = "collaboration"
)

// Protocol validates and shapes messages exchanged under a particular
// interaction pattern. ValidateMessage reports failures rather than
// returning an error, so the Hub can decide policy on top of it.
type Protocol interface {
	Type() ProtocolType
	Version() string
	FormatMessage(senderID, receiverID, content string, msgType core.MessageType, identity *core.Identity) (*core.Message, error)
	ValidateMessage(msg *core.Message) (bool, string)
}

type baseProtocol struct {
	kind    ProtocolType
	version string
	allowed map[core.MessageType]bool
}

func (p *baseProtocol) Type() ProtocolType { return p.kind }
func (p *baseProtocol) Version() string    { return p.version }

func (p *baseProtocol) FormatMessage(senderID, receiverID, content string, msgType core.MessageType, identity *core.Identity) (*core.Message, error) {
	msg := core.NewMessage(senderID, receiverID, content, msgType)
	msg.ProtocolVersion = p.version
	msg.Metadata["protocol_type"] = string(p.kind)
	if err := msg.Sign(identity); err != nil {
		return nil, err
	}
	return msg, nil
}

func (p *baseProtocol) ValidateMessage(msg *core.Message) (bool, string) {
	if msg.ProtocolVersion != p.version {
		return false, fmt.Sprintf("protocol version mismatch: got %q, want %q", msg.ProtocolVersion, p.version)
	}
	if !p.allowed[msg.Type] {
		return false, fmt.Sprintf("message type %s not permitted by %s protocol", msg.Type, p.kind)
	}
	return true, ""
}

var simpleAllowedTypes = map[core.MessageType]bool{
	core.MsgText:                 true,
	core.MsgCommand:              true,
	core.MsgResponse:             true,
	core.MsgVerification:         true,
	core.MsgSystem:               true,
	core.MsgError:                true,
	core.MsgCapability:           true,
	core.MsgProtocol:             true,
	core.MsgRequestCollaboration:  true,
	core.MsgCollaborationResponse: true,
	core.MsgCollaborationError:    true,
}

// NewSimpleProtocol builds the SimpleAgentProtocol: the base set of allowed
// message types plus the three collaboration types.
func NewSimpleProtocol() Protocol {
	return &baseProtocol{kind: ProtocolSimple, version: core.ProtocolVersion, allowed: simpleAllowedTypes}
}

var collaborationAllowedTypes = func() map[core.MessageType]bool {
	m := make(map[core.MessageType]bool, len(simpleAllowedTypes)+2)
	for k, v := range simpleAllowedTypes {
		m[k] = v
	}
	m[core.MsgCooldown] = true
	m[core.MsgStop] = true
	return m
}()

// CollaborationPayloadKind names the payload shapes CollaborationProtocol
// adds on top of SimpleAgentProtocol.
type CollaborationPayloadKind string

const (
	PayloadRequestCapability      CollaborationPayloadKind = "request_capability"
	PayloadCapabilityResponse     CollaborationPayloadKind = "capability_response"
	PayloadRequestCollaboration   CollaborationPayloadKind = "request_collaboration"
	PayloadCollaborationResponse  CollaborationPayloadKind = "collaboration_response"
	PayloadCollaborationError     CollaborationPayloadKind = "collaboration_error"
)

// NewCollaborationProtocol builds the CollaborationProtocol: a superset of
// SimpleAgentProtocol that also permits STOP and COOLDOWN, plus the
// collaboration payload shapes named above.
func NewCollaborationProtocol() Protocol {
	return &baseProtocol{kind: ProtocolCollaboration, version: core.ProtocolVersion, allowed: collaborationAllowedTypes}
}
