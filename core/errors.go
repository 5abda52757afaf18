package core

import "fmt"

// SecurityError reports a failed signature or identity verification.
// The Hub never silently swallows this: routing returns it to the caller.
type SecurityError struct {
	AgentID string
	Reason  string
}

func (e *SecurityError) Error() string {
	return fmt.Sprintf("security: agent %s: %s", e.AgentID, e.Reason)
}

// ChainError reports a collaboration-chain hygiene violation: a loop back to
// the original sender, a self-delegation attempt, or a chain past the hop cap.
type ChainError struct {
	RequestID string
	Reason    string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("collaboration chain: %s (request %s)", e.Reason, e.RequestID)
}

// RoutingError reports an unknown sender/receiver, a self-send, or an
// interaction-mode mismatch. The Hub returns false alongside this; callers
// decide whether to retry.
type RoutingError struct {
	Reason string
}

func (e *RoutingError) Error() string { return "routing: " + e.Reason }

// ValidationError reports a rejected registry operation: a malformed DID, a
// duplicate agent ID, or an unknown agent. Protocol validation failures in
// the Hub are reported as a false result with no error, not as this type.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "validation: " + e.Reason }

// ErrNoEmbedder is returned by the default Embedder when no real embedding
// backend has been wired; callers degrade to Jaccard token-overlap.
var ErrNoEmbedder = fmt.Errorf("capability: no embedding backend configured")
