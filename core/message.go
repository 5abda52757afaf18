package core

// message.go — the signed Message envelope every agent exchanges through
// the Hub, and the small set of typed accessors over its metadata map.

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Reserved metadata keys. Represented as an explicit map[string]string (plus
// a dedicated slice field for the one list-valued key, CollaborationChain)
// rather than a free-form dict, so callers get compile-time-checked
// accessors instead of stringly-typed lookups.
const (
	MetaRequestID         = "request_id"
	MetaResponseTo        = "response_to"
	MetaOriginalSender    = "original_sender"
	MetaReason            = "reason"
	MetaCooldownRemaining = "cooldown_remaining"
)

// Message is the signed envelope routed between agents.
type Message struct {
	ID              string            `json:"id"`
	SenderID        string            `json:"sender_id"`
	ReceiverID      string            `json:"receiver_id"`
	Content         string            `json:"content"`
	Type            MessageType       `json:"message_type"`
	Timestamp       time.Time         `json:"timestamp"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	CollaborationChain []string       `json:"collaboration_chain,omitempty"`
	ProtocolVersion string            `json:"protocol_version"`
	Signature       string            `json:"signature,omitempty"` // base64
}

// NewMessage builds an unsigned Message. Call Sign before routing it.
func NewMessage(senderID, receiverID, content string, msgType MessageType) *Message {
	return &Message{
		ID:              uuid.NewString(),
		SenderID:        senderID,
		ReceiverID:      receiverID,
		Content:         content,
		Type:            msgType,
		Timestamp:       now(),
		Metadata:        map[string]string{},
		ProtocolVersion: ProtocolVersion,
	}
}

// signableContent builds the exact delimited tuple the signature covers:
// id:sender:receiver:content:iso8601_timestamp. Any field added to Message
// later must extend this tuple with a version tag, not silently change the
// existing layout, to avoid cross-version signature collisions.
func (m *Message) signableContent() []byte {
	s := fmt.Sprintf("%s:%s:%s:%s:%s",
		m.ID, m.SenderID, m.ReceiverID, m.Content, m.Timestamp.Format(time.RFC3339Nano))
	return []byte(s)
}

// digest returns the SHA-256 digest of the signable content. Both DID
// methods sign this digest rather than the raw content, keeping signature
// size independent of message size.
func (m *Message) digest() []byte {
	h := sha256.Sum256(m.signableContent())
	return h[:]
}

// Sign signs the message with identity's private key and stores the
// base64-encoded signature. Timestamps are captured at message creation,
// not at signing time, so resigning does not change what was attested.
func (m *Message) Sign(identity *Identity) error {
	sig, err := identity.Sign(m.digest())
	if err != nil {
		return fmt.Errorf("message: sign: %w", err)
	}
	m.Signature = base64.StdEncoding.EncodeToString(sig)
	return nil
}

// Verify reports whether the message's signature validates against
// senderIdentity's public key. It returns a *SecurityError — never a bare
// false — when senderIdentity's VerificationStatus is not StatusVerified,
// since an unverified sender's signature cannot be trusted regardless of
// whether the bytes happen to check out.
func (m *Message) Verify(senderIdentity *Identity) error {
	if senderIdentity.VerificationStatus != StatusVerified {
		return &SecurityError{AgentID: m.SenderID, Reason: "sender identity is not verified"}
	}
	if m.Signature == "" {
		return &SecurityError{AgentID: m.SenderID, Reason: "message is unsigned"}
	}
	sig, err := base64.StdEncoding.DecodeString(m.Signature)
	if err != nil {
		return &SecurityError{AgentID: m.SenderID, Reason: "signature is not valid base64"}
	}
	if !senderIdentity.Verify(m.digest(), sig) {
		return &SecurityError{AgentID: m.SenderID, Reason: "signature does not match sender's public key"}
	}
	return nil
}

// ------------------------------------------------------------------ metadata accessors

// RequestID returns metadata["request_id"] and whether it was present.
func (m *Message) RequestID() (string, bool) {
	v, ok := m.Metadata[MetaRequestID]
	return v, ok
}

// SetRequestID sets metadata["request_id"].
func (m *Message) SetRequestID(id string) {
	if m.Metadata == nil {
		m.Metadata = map[string]string{}
	}
	m.Metadata[MetaRequestID] = id
}

// ResponseTo returns metadata["response_to"] and whether it was present.
func (m *Message) ResponseTo() (string, bool) {
	v, ok := m.Metadata[MetaResponseTo]
	return v, ok
}

// SetResponseTo sets metadata["response_to"].
func (m *Message) SetResponseTo(id string) {
	if m.Metadata == nil {
		m.Metadata = map[string]string{}
	}
	m.Metadata[MetaResponseTo] = id
}

// OriginalSender returns metadata["original_sender"] and whether it was present.
func (m *Message) OriginalSender() (string, bool) {
	v, ok := m.Metadata[MetaOriginalSender]
	return v, ok
}

// SetOriginalSender sets metadata["original_sender"].
func (m *Message) SetOriginalSender(id string) {
	if m.Metadata == nil {
		m.Metadata = map[string]string{}
	}
	m.Metadata[MetaOriginalSender] = id
}

// Reason returns metadata["reason"] and whether it was present.
func (m *Message) Reason() (string, bool) {
	v, ok := m.Metadata[MetaReason]
	return v, ok
}

// SetReason sets metadata["reason"].
func (m *Message) SetReason(reason string) {
	if m.Metadata == nil {
		m.Metadata = map[string]string{}
	}
	m.Metadata[MetaReason] = reason
}

// CooldownRemaining returns metadata["cooldown_remaining"] and whether it was present.
func (m *Message) CooldownRemaining() (string, bool) {
	v, ok := m.Metadata[MetaCooldownRemaining]
	return v, ok
}

// SetCooldownRemaining sets metadata["cooldown_remaining"].
func (m *Message) SetCooldownRemaining(seconds string) {
	if m.Metadata == nil {
		m.Metadata = map[string]string{}
	}
	m.Metadata[MetaCooldownRemaining] = seconds
}

// IsSpecial reports whether this message type participates in the Hub's
// sender-side handler fan-out (see hub.RouteMessage).
func (m *Message) IsSpecial() bool {
	switch m.Type {
	case MsgCooldown, MsgStop, MsgSystem:
		return true
	default:
		return false
	}
}
