// Package core provides the fundamental types, identity, and message
// machinery shared by every other package in the agent communication
// substrate: signed messages, decentralized identities, and the small
// vocabulary of enums the Hub, Registry, and Runtime all build on.
package core

import "time"

// MessageType identifies the kind of a routed Message.
type MessageType string

const (
	MsgText                  MessageType = "TEXT"
	MsgCommand                MessageType = "COMMAND"
	MsgResponse               MessageType = "RESPONSE"
	MsgError                  MessageType = "ERROR"
	MsgVerification           MessageType = "VERIFICATION"
	MsgCapability             MessageType = "CAPABILITY"
	MsgProtocol               MessageType = "PROTOCOL"
	MsgStop                   MessageType = "STOP"
	MsgSystem                 MessageType = "SYSTEM"
	MsgCooldown               MessageType = "COOLDOWN"
	MsgIgnore                 MessageType = "IGNORE"
	MsgRequestCollaboration   MessageType = "REQUEST_COLLABORATION"
	MsgCollaborationResponse  MessageType = "COLLABORATION_RESPONSE"
	MsgCollaborationError     MessageType = "COLLABORATION_ERROR"
)

// ProtocolVersion is the current wire-protocol version NewMessage stamps
// into every Message's ProtocolVersion field.
const ProtocolVersion = "1.0.0"

// ExitSentinel is the literal content string that, like a STOP message, ends
// a conversation when it appears as a message's content.
const ExitSentinel = "__EXIT__"

// VerificationStatus tracks where an Identity sits in the verification
// lifecycle. Only the Registry transitions this value; agents never set it
// themselves.
type VerificationStatus string

const (
	StatusPending  VerificationStatus = "pending"
	StatusVerified VerificationStatus = "verified"
	StatusFailed   VerificationStatus = "failed"
)

// AgentType distinguishes human participants from autonomous agents. Only
// AI-typed agents are valid collaboration-request targets.
type AgentType string

const (
	AgentTypeHuman AgentType = "HUMAN"
	AgentTypeAI    AgentType = "AI"
)

// InteractionMode describes which kind of counterpart an agent is willing to
// exchange messages with. The Hub requires at least one mode in common
// between sender and receiver before routing any message other than
// SYSTEM, COOLDOWN, STOP, or COLLABORATION_RESPONSE.
type InteractionMode string

const (
	ModeHumanToAgent InteractionMode = "HUMAN_TO_AGENT"
	ModeAgentToAgent InteractionMode = "AGENT_TO_AGENT"
)

// NetworkMode distinguishes an agent that is wired to a Hub/Registry from
// one running in isolation. Collaboration Tools built for a standalone agent
// return explanatory stubs instead of touching a nil Hub.
type NetworkMode string

const (
	NetworkStandalone NetworkMode = "standalone"
	NetworkNetworked  NetworkMode = "networked"
)

// Capability names a single skill an agent advertises. Names are not unique
// across agents; (agent ID, capability name) is unique within one
// registration.
type Capability struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	InputSchema  string `json:"input_schema,omitempty"`
	OutputSchema string `json:"output_schema,omitempty"`
	Version      string `json:"version,omitempty"`
}

// now returns the current time in UTC. Nothing is truncated: RFC3339Nano,
// the layout Message.Timestamp is signed with, keeps full nanosecond
// precision.
func now() time.Time { return time.Now().UTC() }
