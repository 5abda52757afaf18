// Package hub implements the Communication Hub (C6): message routing,
// handler fan-out, and request/response correlation across agents
// registered in the same process.
package hub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/olserra/agent-semantic-protocol/agent"
	"github.com/olserra/agent-semantic-protocol/core"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Agent is the capability the Hub needs from something it routes messages
// to/from. Defined here, on the consumer side, so this interface needs
// nothing from the agent package (see agent.Router for the mirror image);
// the Hub does import agent, but only for its default ProtocolValidator.
type Agent interface {
	ID() string
	Identity() *core.Identity
	InteractionModes() []core.InteractionMode
	ReceiveMessage(msg *core.Message) error
}

// Directory resolves an agent's declared type, used for the "deliver
// COOLDOWN only to HUMAN agents" rule in RouteMessage step 4. A nil
// Directory degrades to "always deliver."
type Directory interface {
	GetAgentType(agentID string) (core.AgentType, bool)
}

// ProtocolValidator checks a routed message's wire-shape against the
// interaction pattern it was formatted under (Protocols, C2), per the Hub
// data-flow step that "verifies identities & signatures, validates the
// protocol, records history" (SPEC_FULL.md §2). Defined here, on the
// consumer side, so a custom implementation never needs hub internals;
// agent.Protocol implementations satisfy this structurally.
type ProtocolValidator interface {
	ValidateMessage(msg *core.Message) (bool, string)
}

// Handler observes routed messages. A handler that panics is removed from
// its list; the Hub keeps notifying the others.
type Handler func(msg *core.Message)

// CollaborationStatus is the outcome CheckCollaborationResult reports for a
// given request_id, per SPEC_FULL.md §4.6's state machine.
type CollaborationStatus string

const (
	StatusCompleted     CollaborationStatus = "completed"
	StatusCompletedLate CollaborationStatus = "completed_late"
	StatusPending       CollaborationStatus = "pending"
	StatusNotFound      CollaborationStatus = "not_found"
)

type futureState string

const (
	futurePending  futureState = "pending"
	futureComplete futureState = "completed"
	futureTimedOut futureState = "timed_out"
)

type pendingFuture struct {
	mu       sync.Mutex
	ch       chan *core.Message
	state    futureState
	response *core.Message
}

// Config configures a Hub's tunables. Zero-value fields are replaced with
// SPEC_FULL.md §6's documented defaults.
type Config struct {
	Directory             Directory
	Protocol               ProtocolValidator
	DefaultTimeoutSeconds  int
	MaxChainLength         int
	LateResponseGrace      time.Duration
	Logger                 *zap.Logger
}

// Hub is the Communication Hub (C6).
type Hub struct {
	mu           sync.RWMutex
	activeAgents map[string]Agent

	historyMu sync.Mutex
	history   []*core.Message

	handlersMu     sync.Mutex
	globalHandlers []Handler
	agentHandlers  map[string][]Handler

	pendingMu        sync.Mutex
	pendingResponses map[string]*pendingFuture
	lateResponses    map[string]*core.Message

	cfg    Config
	logger *zap.Logger
}

// New builds a Hub.
func New(cfg Config) *Hub {
	if cfg.DefaultTimeoutSeconds <= 0 {
		cfg.DefaultTimeoutSeconds = 60
	}
	if cfg.MaxChainLength <= 0 {
		cfg.MaxChainLength = 5
	}
	if cfg.LateResponseGrace <= 0 {
		cfg.LateResponseGrace = 60 * time.Second
	}
	if cfg.Protocol == nil {
		cfg.Protocol = agent.NewCollaborationProtocol()
	}
	if cfg.Logger == nil {
		cfg.Logger = core.NopLogger()
	}
	return &Hub{
		activeAgents:     make(map[string]Agent),
		agentHandlers:    make(map[string][]Handler),
		pendingResponses: make(map[string]*pendingFuture),
		lateResponses:    make(map[string]*core.Message),
		cfg:              cfg,
		logger:           cfg.Logger,
	}
}

// RegisterAgent adds a connected Agent to the Hub's active set.
func (h *Hub) RegisterAgent(a Agent) {
	h.mu.Lock()
	h.activeAgents[a.ID()] = a
	h.mu.Unlock()
	h.logger.Info("hub: agent registered", zap.String("agent_id", a.ID()))
}

// UnregisterAgent removes an agent and its per-agent handlers. The caller
// is responsible for calling the agent's own Disconnect method, per the
// cyclic-reference policy in SPEC_FULL.md §9.
func (h *Hub) UnregisterAgent(agentID string) {
	h.mu.Lock()
	delete(h.activeAgents, agentID)
	h.mu.Unlock()
	h.handlersMu.Lock()
	delete(h.agentHandlers, agentID)
	h.handlersMu.Unlock()
	h.logger.Info("hub: agent unregistered", zap.String("agent_id", agentID))
}

func (h *Hub) getAgent(id string) (Agent, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	a, ok := h.activeAgents[id]
	return a, ok
}

// OnGlobal registers a handler notified for every routed message.
func (h *Hub) OnGlobal(handler Handler) {
	h.handlersMu.Lock()
	h.globalHandlers = append(h.globalHandlers, handler)
	h.handlersMu.Unlock()
}

// OnAgent registers a handler notified when agentID is the receiver of a
// routed message, or the sender of a "special" type (COOLDOWN/STOP/SYSTEM).
func (h *Hub) OnAgent(agentID string, handler Handler) {
	h.handlersMu.Lock()
	h.agentHandlers[agentID] = append(h.agentHandlers[agentID], handler)
	h.handlersMu.Unlock()
}

// History returns a defensive copy of the in-memory routed-message history.
// Advisory only: the Hub keeps no persistent message store.
func (h *Hub) History() []*core.Message {
	h.historyMu.Lock()
	defer h.historyMu.Unlock()
	return append([]*core.Message(nil), h.history...)
}

func (h *Hub) appendHistory(msg *core.Message) {
	h.historyMu.Lock()
	h.history = append(h.history, msg)
	h.historyMu.Unlock()
}

// RouteMessage implements the numbered routing contract from
// SPEC_FULL.md §4.6.
func (h *Hub) RouteMessage(ctx context.Context, msg *core.Message) (bool, error) {
	if msg.Type == core.MsgSystem {
		h.appendHistory(msg)
		h.notifyHandlers(msg)
		return true, nil
	}

	if msg.SenderID == msg.ReceiverID {
		return false, nil
	}

	sender, senderOK := h.getAgent(msg.SenderID)
	receiver, receiverOK := h.getAgent(msg.ReceiverID)
	if !senderOK || !receiverOK {
		return false, nil
	}

	switch msg.Type {
	case core.MsgCooldown, core.MsgStop:
		h.appendHistory(msg)
		h.notifyHandlers(msg)
		deliver := true
		if msg.Type == core.MsgCooldown && h.cfg.Directory != nil {
			if t, ok := h.cfg.Directory.GetAgentType(msg.ReceiverID); ok && t != core.AgentTypeHuman {
				deliver = false
			}
		}
		if deliver {
			h.deliverAsync(receiver, msg)
		}
		return true, nil

	case core.MsgCollaborationResponse:
		h.appendHistory(msg)
		if responseTo, ok := msg.ResponseTo(); ok {
			h.resolvePendingOrLate(responseTo, msg)
		}
		h.notifyHandlers(msg)
		return true, nil
	}

	if err := msg.Verify(sender.Identity()); err != nil {
		return false, err
	}
	if !sharedInteractionMode(sender, receiver) {
		return false, &core.RoutingError{Reason: fmt.Sprintf("no shared interaction mode between %s and %s", msg.SenderID, msg.ReceiverID)}
	}
	if ok, reason := h.cfg.Protocol.ValidateMessage(msg); !ok {
		h.logger.Info("hub: message failed protocol validation",
			zap.String("message_id", msg.ID), zap.String("reason", reason))
		return false, nil
	}

	if msg.Type == core.MsgRequestCollaboration {
		if len(msg.CollaborationChain) == 0 {
			msg.CollaborationChain = []string{msg.SenderID}
		}
		if _, ok := msg.OriginalSender(); !ok {
			msg.SetOriginalSender(msg.SenderID)
		}
	}

	h.appendHistory(msg)
	h.deliverAsync(receiver, msg)
	h.notifyHandlers(msg)
	return true, nil
}

func (h *Hub) deliverAsync(a Agent, msg *core.Message) {
	go func() {
		if err := a.ReceiveMessage(msg); err != nil {
			h.logger.Warn("hub: delivery failed", zap.String("agent_id", a.ID()), zap.Error(err))
		}
	}()
}

func sharedInteractionMode(a, b Agent) bool {
	bModes := make(map[core.InteractionMode]bool, len(b.InteractionModes()))
	for _, m := range b.InteractionModes() {
		bModes[m] = true
	}
	for _, m := range a.InteractionModes() {
		if bModes[m] {
			return true
		}
	}
	return false
}

// notifyHandlers fans a message out to the global handlers, the receiver's
// handlers, and — for "special" types only — the sender's handlers (see
// SPEC_FULL.md §4.6's resolution of Open Question (a)). Concurrent
// dispatch uses errgroup.Group; a handler that panics is dropped from its
// list so the rest keep receiving future messages.
func (h *Hub) notifyHandlers(msg *core.Message) {
	h.handlersMu.Lock()
	global := append([]Handler(nil), h.globalHandlers...)
	receiverHandlers := append([]Handler(nil), h.agentHandlers[msg.ReceiverID]...)
	var senderHandlers []Handler
	if msg.IsSpecial() {
		senderHandlers = append([]Handler(nil), h.agentHandlers[msg.SenderID]...)
	}
	h.handlersMu.Unlock()

	if failed := h.fanOut(global, msg); len(failed) > 0 {
		h.dropGlobalHandlers(failed)
	}
	if failed := h.fanOut(receiverHandlers, msg); len(failed) > 0 {
		h.dropAgentHandlers(msg.ReceiverID, failed)
	}
	if msg.IsSpecial() {
		if failed := h.fanOut(senderHandlers, msg); len(failed) > 0 {
			h.dropAgentHandlers(msg.SenderID, failed)
		}
	}
}

func (h *Hub) fanOut(handlers []Handler, msg *core.Message) []int {
	if len(handlers) == 0 {
		return nil
	}
	failed := make([]bool, len(handlers))
	g := new(errgroup.Group)
	for i := range handlers {
		i := i
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					failed[i] = true
					h.logger.Warn("hub: handler panicked, dropping it", zap.Any("panic", r))
				}
			}()
			handlers[i](msg)
			return nil
		})
	}
	_ = g.Wait()

	var idx []int
	for i, f := range failed {
		if f {
			idx = append(idx, i)
		}
	}
	return idx
}

func (h *Hub) dropGlobalHandlers(indexes []int) {
	drop := make(map[int]bool, len(indexes))
	for _, i := range indexes {
		drop[i] = true
	}
	h.handlersMu.Lock()
	defer h.handlersMu.Unlock()
	kept := h.globalHandlers[:0:0]
	for i, handler := range h.globalHandlers {
		if !drop[i] {
			kept = append(kept, handler)
		}
	}
	h.globalHandlers = kept
}

func (h *Hub) dropAgentHandlers(agentID string, indexes []int) {
	drop := make(map[int]bool, len(indexes))
	for _, i := range indexes {
		drop[i] = true
	}
	h.handlersMu.Lock()
	defer h.handlersMu.Unlock()
	handlers := h.agentHandlers[agentID]
	kept := handlers[:0:0]
	for i, handler := range handlers {
		if !drop[i] {
			kept = append(kept, handler)
		}
	}
	h.agentHandlers[agentID] = kept
}

// ------------------------------------------------------------------ request/response correlation

func (h *Hub) registerPending(requestID string) *pendingFuture {
	future := &pendingFuture{ch: make(chan *core.Message, 1), state: futurePending}
	h.pendingMu.Lock()
	h.pendingResponses[requestID] = future
	h.pendingMu.Unlock()
	return future
}

func (h *Hub) resolvePendingOrLate(requestID string, msg *core.Message) {
	h.pendingMu.Lock()
	future, ok := h.pendingResponses[requestID]
	h.pendingMu.Unlock()
	if !ok {
		return
	}

	future.mu.Lock()
	alreadyTimedOut := future.state == futureTimedOut
	if !alreadyTimedOut {
		future.state = futureComplete
		future.response = msg
	}
	future.mu.Unlock()

	if alreadyTimedOut {
		h.pendingMu.Lock()
		h.lateResponses[requestID] = msg
		h.pendingMu.Unlock()
		return
	}

	select {
	case future.ch <- msg:
	default:
	}
	h.scheduleCleanup(requestID)
}

func (h *Hub) scheduleCleanup(requestID string) {
	time.AfterFunc(h.cfg.LateResponseGrace, func() {
		h.pendingMu.Lock()
		delete(h.pendingResponses, requestID)
		h.pendingMu.Unlock()
	})
}

// awaitResponse races future resolution against timeout via
// channel-select, never a sleep-poll loop (SPEC_FULL.md §9). On timeout the
// future is marked timed-out (not deleted) and a cleanup is scheduled after
// the late-response grace window so a response arriving just after timeout
// is still captured in late_responses.
func (h *Hub) awaitResponse(ctx context.Context, requestID string, future *pendingFuture, timeout time.Duration) (*core.Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-future.ch:
		return resp, nil
	case <-timer.C:
		future.mu.Lock()
		if future.state == futurePending {
			future.state = futureTimedOut
		}
		future.mu.Unlock()
		h.scheduleCleanup(requestID)
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SendMessageAndWaitResponse routes a message and waits up to timeout for a
// COLLABORATION_RESPONSE carrying a matching response_to. Returns nil
// (not an error) on timeout; the response may still arrive late, retrievable
// via CheckCollaborationResult.
func (h *Hub) SendMessageAndWaitResponse(ctx context.Context, senderID, receiverID, content string, msgType core.MessageType, metadata map[string]string, timeout time.Duration) (*core.Message, error) {
	sender, ok := h.getAgent(senderID)
	if !ok {
		return nil, &core.RoutingError{Reason: "unknown sender " + senderID}
	}

	requestID := ""
	if metadata != nil {
		requestID = metadata["request_id"]
	}
	if requestID == "" {
		requestID = uuid.NewString()
	}

	msg := core.NewMessage(senderID, receiverID, content, msgType)
	for k, v := range metadata {
		msg.Metadata[k] = v
	}
	msg.SetRequestID(requestID)
	if err := msg.Sign(sender.Identity()); err != nil {
		return nil, fmt.Errorf("hub: sign outbound request: %w", err)
	}

	future := h.registerPending(requestID)
	routed, err := h.RouteMessage(ctx, msg)
	if err != nil || !routed {
		h.pendingMu.Lock()
		delete(h.pendingResponses, requestID)
		h.pendingMu.Unlock()
		if err != nil {
			return nil, err
		}
		return nil, &core.RoutingError{Reason: "message to " + receiverID + " was not routed"}
	}

	return h.awaitResponse(ctx, requestID, future, timeout)
}

// adaptiveCollaborationTimeout implements SPEC_FULL.md §4.6's formula:
// min(60 + (len(task)/100)*15, 300) seconds.
func adaptiveCollaborationTimeout(task string) time.Duration {
	seconds := 60 + (len(task)/100)*15
	if seconds > 300 {
		seconds = 300
	}
	return time.Duration(seconds) * time.Second
}

// SendCollaborationRequest enforces chain hygiene (no self-delegation, no
// loop back to originalSender or any hop already in chain, no chain longer
// than MaxChainLength), then issues a REQUEST_COLLABORATION and awaits the
// reply with an adaptively-scaled timeout. On timeout it returns a
// human-readable message naming the request id rather than an error, since
// a timeout is not itself a chain-hygiene failure.
func (h *Hub) SendCollaborationRequest(ctx context.Context, senderID, receiverID, task string, chain []string, originalSender string, metadata map[string]string) (content string, requestID string, err error) {
	resp, requestID, timeout, err := h.sendCollaborationRequestRaw(ctx, senderID, receiverID, task, chain, originalSender, metadata)
	if err != nil {
		return "", requestID, err
	}
	if resp == nil {
		return fmt.Sprintf("collaboration request %s to %s timed out after %s", requestID, receiverID, timeout), requestID, nil
	}
	return resp.Content, requestID, nil
}

// SendCollaborationRequestMessage is SendCollaborationRequest's counterpart
// for callers (the C7 Collaboration Tools surface) that need the full
// response message, e.g. to inspect its metadata, rather than just its
// content string. Returns a nil message (not an error) on timeout.
func (h *Hub) SendCollaborationRequestMessage(ctx context.Context, senderID, receiverID, task string, chain []string, originalSender string, metadata map[string]string) (*core.Message, string, error) {
	resp, requestID, _, err := h.sendCollaborationRequestRaw(ctx, senderID, receiverID, task, chain, originalSender, metadata)
	return resp, requestID, err
}

func (h *Hub) sendCollaborationRequestRaw(ctx context.Context, senderID, receiverID, task string, chain []string, originalSender string, metadata map[string]string) (resp *core.Message, requestID string, timeout time.Duration, err error) {
	if senderID == receiverID {
		return nil, "", 0, &core.ChainError{Reason: "self-delegation is not allowed"}
	}

	newChain := append([]string(nil), chain...)
	if len(newChain) == 0 {
		newChain = []string{senderID}
	}
	if originalSender == "" {
		originalSender = senderID
	}
	for _, hop := range newChain {
		if hop == receiverID {
			return nil, "", 0, &core.ChainError{Reason: "loop detected: " + receiverID + " already appears in the collaboration chain"}
		}
	}
	if receiverID == originalSender {
		return nil, "", 0, &core.ChainError{Reason: "loop detected: cannot delegate back to original sender " + originalSender}
	}
	if len(newChain) > h.cfg.MaxChainLength {
		return nil, "", 0, &core.ChainError{Reason: fmt.Sprintf("collaboration chain exceeds max length %d", h.cfg.MaxChainLength)}
	}
	newChain = append(newChain, receiverID)

	sender, ok := h.getAgent(senderID)
	if !ok {
		return nil, "", 0, &core.RoutingError{Reason: "unknown sender " + senderID}
	}

	requestID = uuid.NewString()
	msg := core.NewMessage(senderID, receiverID, task, core.MsgRequestCollaboration)
	for k, v := range metadata {
		msg.Metadata[k] = v
	}
	msg.SetRequestID(requestID)
	msg.CollaborationChain = newChain
	msg.SetOriginalSender(originalSender)
	if err := msg.Sign(sender.Identity()); err != nil {
		return nil, requestID, 0, fmt.Errorf("hub: sign collaboration request: %w", err)
	}

	timeout = adaptiveCollaborationTimeout(task)
	future := h.registerPending(requestID)
	routed, err := h.RouteMessage(ctx, msg)
	if err != nil || !routed {
		h.pendingMu.Lock()
		delete(h.pendingResponses, requestID)
		h.pendingMu.Unlock()
		if err != nil {
			return nil, requestID, timeout, err
		}
		return nil, requestID, timeout, &core.RoutingError{Reason: "collaboration request to " + receiverID + " was not routed"}
	}

	resp, err = h.awaitResponse(ctx, requestID, future, timeout)
	return resp, requestID, timeout, err
}

// IsActive reports whether agentID is currently registered with the Hub.
func (h *Hub) IsActive(agentID string) bool {
	_, ok := h.getAgent(agentID)
	return ok
}

// CheckCollaborationResult reports the lifecycle status of a previously
// issued request_id, per the state machine in SPEC_FULL.md §4.6.
func (h *Hub) CheckCollaborationResult(requestID string) (CollaborationStatus, *core.Message) {
	h.pendingMu.Lock()
	if msg, ok := h.lateResponses[requestID]; ok {
		h.pendingMu.Unlock()
		return StatusCompletedLate, msg
	}
	future, ok := h.pendingResponses[requestID]
	h.pendingMu.Unlock()
	if !ok {
		return StatusNotFound, nil
	}

	future.mu.Lock()
	defer future.mu.Unlock()
	if future.state == futureComplete {
		return StatusCompleted, future.response
	}
	return StatusPending, nil
}
