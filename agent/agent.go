package agent

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/olserra/agent-semantic-protocol/core"
	"go.uber.org/zap"
)

// Router is the Hub capability a BaseAgent needs: routing an outbound
// message. Defined here, on the consumer side, so this package never
// imports the hub package (the Hub holds agents; agents hold a Router).
type Router interface {
	RouteMessage(ctx context.Context, msg *core.Message) (bool, error)
}

// Directory is the Registry capability the runtime needs to find the
// nearest HUMAN in a delegation chain, replacing the upstream's fragile
// "human_"-prefix convention with an explicit lookup, and to resolve a
// sender's Identity for preProcess's own signature check.
type Directory interface {
	GetAgentType(agentID string) (core.AgentType, bool)
	GetIdentity(agentID string) (*core.Identity, bool)
}

// ProcessFunc is the domain-specific half of message handling, invoked once
// the base pre-processing in handleMessage decides a message needs it.
// Concrete agents (a scripted/echo agent for tests, a human-proxy agent)
// supply one instead of subclassing a base type.
type ProcessFunc func(ctx context.Context, self *BaseAgent, msg *core.Message) (*core.Message, error)

// Agent is the interface the Hub holds: identity, declared interaction
// modes, and the ability to receive a routed message.
type Agent interface {
	ID() string
	Identity() *core.Identity
	InteractionModes() []core.InteractionMode
	Metadata() map[string]string
	ReceiveMessage(msg *core.Message) error
}

type conversationState struct {
	startTime    time.Time
	messageCount int
}

// BaseAgent implements the Agent Runtime (C5): a FIFO message queue and the
// cooperative processing loop described in SPEC_FULL.md §4.5. Concrete
// agents are built by supplying a ProcessFunc rather than subclassing.
type BaseAgent struct {
	id       string
	identity *core.Identity
	modes    []core.InteractionMode
	protocol Protocol
	router   Router
	resolver Directory
	control  *InteractionControl
	process  ProcessFunc
	logger   *zap.Logger

	maxTurns int

	queueMu sync.Mutex
	queue   []*core.Message
	queueCh chan struct{}

	mu                   sync.Mutex
	metadata             map[string]string
	isRunning            bool
	activeConversations  map[string]*conversationState
	pendingRequests      map[string]string // peer_id -> request_id
	recentPeers          []string          // last recentHistoryLimit peers, either direction
	cooldownUntil        time.Time
	cooldownAcknowledged map[string]bool
}

// recentHistoryLimit bounds the peer history search_for_agents consults to
// exclude recently-contacted agents (SPEC_FULL.md §4.7).
const recentHistoryLimit = 10

// Config bundles the optional collaborators a BaseAgent can be built with.
type Config struct {
	Protocol Protocol
	Router   Router
	Resolver Directory
	Control  *InteractionControl
	Logger   *zap.Logger
	MaxTurns int
	Process  ProcessFunc
}

// NewBaseAgent builds a BaseAgent. A nil Router means the agent runs in
// core.NetworkStandalone mode: SendMessage fails loud instead of silently
// succeeding, since there is nowhere to route to.
func NewBaseAgent(id string, identity *core.Identity, modes []core.InteractionMode, cfg Config) *BaseAgent {
	if cfg.Protocol == nil {
		cfg.Protocol = NewSimpleProtocol()
	}
	if cfg.Logger == nil {
		cfg.Logger = core.NopLogger()
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 20
	}
	if cfg.Process == nil {
		cfg.Process = func(ctx context.Context, self *BaseAgent, msg *core.Message) (*core.Message, error) { return nil, nil }
	}
	return &BaseAgent{
		id:                   id,
		identity:             identity,
		modes:                append([]core.InteractionMode(nil), modes...),
		protocol:             cfg.Protocol,
		router:               cfg.Router,
		resolver:             cfg.Resolver,
		control:              cfg.Control,
		process:              cfg.Process,
		logger:               cfg.Logger,
		maxTurns:             cfg.MaxTurns,
		queueCh:              make(chan struct{}, 1),
		metadata:             map[string]string{},
		activeConversations:  map[string]*conversationState{},
		pendingRequests:      map[string]string{},
		cooldownAcknowledged: map[string]bool{},
	}
}

func (a *BaseAgent) ID() string                               { return a.id }
func (a *BaseAgent) Identity() *core.Identity                 { return a.identity }
func (a *BaseAgent) InteractionModes() []core.InteractionMode { return a.modes }

func (a *BaseAgent) Metadata() map[string]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]string, len(a.metadata))
	for k, v := range a.metadata {
		out[k] = v
	}
	return out
}

// ActivePeers returns the peers this agent is currently in conversation
// with, for the Collaboration Tools exclusion rule in SPEC_FULL.md §4.7.
func (a *BaseAgent) ActivePeers() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	peers := make([]string, 0, len(a.activeConversations))
	for p := range a.activeConversations {
		peers = append(peers, p)
	}
	return peers
}

// PendingPeers returns the peers this agent has an outstanding request_id
// tracked against.
func (a *BaseAgent) PendingPeers() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	peers := make([]string, 0, len(a.pendingRequests))
	for p := range a.pendingRequests {
		peers = append(peers, p)
	}
	return peers
}

// RecentPeers returns the peers of this agent's last recentHistoryLimit
// messages, in either direction.
func (a *BaseAgent) RecentPeers() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.recentPeers...)
}

func (a *BaseAgent) recordRecentPeer(peer string) {
	a.mu.Lock()
	a.recentPeers = append(a.recentPeers, peer)
	if len(a.recentPeers) > recentHistoryLimit {
		a.recentPeers = a.recentPeers[len(a.recentPeers)-recentHistoryLimit:]
	}
	a.mu.Unlock()
}

// ReceiveMessage enqueues msg for processing. Called by the Hub only; never
// by the agent itself.
func (a *BaseAgent) ReceiveMessage(msg *core.Message) error {
	a.queueMu.Lock()
	a.queue = append(a.queue, msg)
	a.queueMu.Unlock()
	select {
	case a.queueCh <- struct{}{}:
	default:
	}
	return nil
}

func (a *BaseAgent) dequeue() (*core.Message, bool) {
	a.queueMu.Lock()
	defer a.queueMu.Unlock()
	if len(a.queue) == 0 {
		return nil, false
	}
	msg := a.queue[0]
	a.queue = a.queue[1:]
	return msg, true
}

// dequeueTimeout bounds how long Run blocks waiting for the next message; it
// mirrors queue_poll_interval_ms (~10ms), kept as a named constant even
// though channel-select replaces the reference implementation's poll loop.
const dequeueTimeout = 10 * time.Millisecond

// Run is the agent's processing loop (step 1-3 of SPEC_FULL.md §4.5):
// dequeue with a short timeout, and hand each message to a non-blocking
// goroutine so processing one message never delays dequeuing the next.
// Run blocks until Stop is called or ctx is cancelled.
func (a *BaseAgent) Run(ctx context.Context) {
	a.mu.Lock()
	a.isRunning = true
	a.mu.Unlock()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		a.mu.Lock()
		running := a.isRunning
		a.mu.Unlock()
		if !running {
			return
		}

		if msg, ok := a.dequeue(); ok {
			wg.Add(1)
			go func(m *core.Message) {
				defer wg.Done()
				a.handleMessage(ctx, m)
			}(msg)
			continue
		}

		select {
		case <-a.queueCh:
		case <-time.After(dequeueTimeout):
		case <-ctx.Done():
			return
		}
	}
}

// Stop flips is_running, ends active conversations, drains the queue,
// clears pending requests, and resets cooldown. Safe to call from any
// goroutine, any number of times.
func (a *BaseAgent) Stop() {
	a.mu.Lock()
	a.isRunning = false
	a.activeConversations = map[string]*conversationState{}
	a.pendingRequests = map[string]string{}
	a.cooldownUntil = time.Time{}
	a.mu.Unlock()

	if a.control != nil {
		a.control.mu.Lock()
		a.control.cooldownUntil = time.Time{}
		a.control.mu.Unlock()
	}

	a.queueMu.Lock()
	a.queue = nil
	a.queueMu.Unlock()
}

func (a *BaseAgent) handleMessage(ctx context.Context, msg *core.Message) {
	defer func() {
		if r := recover(); r != nil {
			a.handleProcessingFailure(ctx, msg, fmt.Errorf("agent %s: panic processing message %s: %v", a.id, msg.ID, r))
		}
	}()

	reply := a.preProcess(msg)
	if reply != nil {
		a.dispatchReply(ctx, msg, reply)
		return
	}

	resp, err := a.process(ctx, a, msg)
	if err != nil {
		a.handleProcessingFailure(ctx, msg, err)
		return
	}
	if resp != nil {
		a.dispatchReply(ctx, msg, resp)
	}
}

// preProcess runs the base per-message contract from SPEC_FULL.md §4.5 and
// returns a reply to send in place of handing off to ProcessFunc, or nil if
// the subclass should handle the message itself.
func (a *BaseAgent) preProcess(msg *core.Message) *core.Message {
	peer := msg.SenderID
	a.recordRecentPeer(peer)

	if reply := a.verifySenderSignature(msg); reply != nil {
		return reply
	}

	if a.control != nil {
		if remaining := a.control.CooldownRemaining(); remaining > 0 {
			reply := core.NewMessage(a.id, peer, "cooling down", core.MsgCooldown)
			reply.SetCooldownRemaining(strconv.Itoa(int(remaining.Seconds())))
			return reply
		}
	}

	if a.conversationOverTurnLimit(peer) {
		a.endConversation(peer)
		return core.NewMessage(a.id, peer, "conversation ended: max turns reached", core.MsgStop)
	}

	if msg.Type == core.MsgStop || msg.Content == core.ExitSentinel {
		a.endConversation(peer)
		return core.NewMessage(a.id, peer, "acknowledged", core.MsgIgnore)
	}

	if msg.Type == core.MsgCooldown {
		a.mu.Lock()
		a.cooldownAcknowledged[peer] = true
		a.mu.Unlock()
		return core.NewMessage(a.id, peer, "acknowledged", core.MsgIgnore)
	}

	if reqID, ok := msg.RequestID(); ok {
		a.mu.Lock()
		a.pendingRequests[peer] = reqID
		a.mu.Unlock()
	}

	a.recordConversationTurn(peer)
	return nil
}

// verifySenderSignature implements step 1 of SPEC_FULL.md §4.5's per-message
// contract: verify the signature before anything else runs, independent of
// (and in addition to) the Hub's own routing-time check. Without a resolver
// wired there is no sender Identity to check against, so the step is a
// no-op in standalone use.
func (a *BaseAgent) verifySenderSignature(msg *core.Message) *core.Message {
	if a.resolver == nil {
		return nil
	}
	identity, ok := a.resolver.GetIdentity(msg.SenderID)
	if !ok {
		return nil
	}
	if err := msg.Verify(identity); err != nil {
		return a.securityFailureReply(msg, err)
	}
	return nil
}

// securityFailureReply reports a verification failure as an ERROR, or as a
// COLLABORATION_RESPONSE carrying ERROR metadata when the rejected input was
// itself a collaboration request, so a blocked caller still gets a response
// on the channel it is waiting on.
func (a *BaseAgent) securityFailureReply(msg *core.Message, cause error) *core.Message {
	if msg.Type == core.MsgRequestCollaboration {
		reply := core.NewMessage(a.id, msg.SenderID, cause.Error(), core.MsgCollaborationResponse)
		if reqID, ok := msg.RequestID(); ok {
			reply.SetResponseTo(reqID)
		}
		reply.SetReason("signature_verification_failed")
		return reply
	}
	reply := core.NewMessage(a.id, msg.SenderID, cause.Error(), core.MsgError)
	reply.SetReason("signature_verification_failed")
	return reply
}

func (a *BaseAgent) conversationOverTurnLimit(peer string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	conv, ok := a.activeConversations[peer]
	if !ok {
		return false
	}
	return conv.messageCount >= a.maxTurns
}

func (a *BaseAgent) recordConversationTurn(peer string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	conv, ok := a.activeConversations[peer]
	if !ok {
		conv = &conversationState{startTime: time.Now()}
		a.activeConversations[peer] = conv
	}
	conv.messageCount++
}

func (a *BaseAgent) endConversation(peer string) {
	a.mu.Lock()
	delete(a.activeConversations, peer)
	delete(a.pendingRequests, peer)
	a.mu.Unlock()
	if a.control != nil {
		a.control.ResetTurnCounter(peer)
	}
}

// dispatchReply signs and routes a reply the base contract produced
// in-band (ERROR, COOLDOWN, STOP, IGNORE), auto-attaching response_to the
// same way SendMessage does.
func (a *BaseAgent) dispatchReply(ctx context.Context, original, reply *core.Message) {
	if err := a.SendMessage(ctx, reply); err != nil {
		a.logger.Warn("agent: failed to dispatch in-band reply",
			zap.String("agent_id", a.id), zap.String("peer_id", original.SenderID), zap.Error(err))
	}
}

// SendMessage signs msg with this agent's identity, auto-attaches
// response_to if a pending request from this peer exists, and asks the
// Router to deliver it. Routing failure is surfaced to the caller, never
// silently dropped.
func (a *BaseAgent) SendMessage(ctx context.Context, msg *core.Message) error {
	msg.SenderID = a.id
	a.recordRecentPeer(msg.ReceiverID)

	a.mu.Lock()
	router := a.router
	if reqID, ok := a.pendingRequests[msg.ReceiverID]; ok {
		msg.SetResponseTo(reqID)
		delete(a.pendingRequests, msg.ReceiverID)
	}
	a.mu.Unlock()

	if router == nil {
		return fmt.Errorf("agent %s: standalone mode: no router configured", a.id)
	}

	if err := msg.Sign(a.identity); err != nil {
		return fmt.Errorf("agent %s: sign outbound message: %w", a.id, err)
	}

	ok, err := router.RouteMessage(ctx, msg)
	if err != nil {
		return fmt.Errorf("agent %s: route message: %w", a.id, err)
	}
	if !ok {
		return fmt.Errorf("agent %s: message to %s was not routed", a.id, msg.ReceiverID)
	}
	return nil
}

// Disconnect clears this agent's Router reference. Called by whatever owns
// the Hub/Agent relationship when the agent is unregistered, per the
// cyclic-reference policy: the Hub holds agents by owning reference; agents
// hold a non-owning reference to their hub and must drop it on departure.
func (a *BaseAgent) Disconnect() {
	a.mu.Lock()
	a.router = nil
	a.mu.Unlock()
}

// SetRouter attaches or replaces this agent's Router, e.g. when a
// standalone agent is later registered with a Hub.
func (a *BaseAgent) SetRouter(r Router) {
	a.mu.Lock()
	a.router = r
	a.mu.Unlock()
}

// handleProcessingFailure implements the Processing error kind from
// SPEC_FULL.md §7: find the nearest HUMAN in the conversation's ancestry and
// send an ERROR there, falling back to the immediate sender.
func (a *BaseAgent) handleProcessingFailure(ctx context.Context, original *core.Message, cause error) {
	a.logger.Error("agent: processing failure",
		zap.String("agent_id", a.id), zap.String("message_id", original.ID), zap.Error(cause))

	target := a.findHumanInChain(original)
	errMsg := core.NewMessage(a.id, target, cause.Error(), core.MsgError)
	errMsg.SetReason("processing_failure")
	a.dispatchReply(ctx, original, errMsg)
}

func (a *BaseAgent) findHumanInChain(msg *core.Message) string {
	if a.resolver == nil {
		return msg.SenderID
	}
	for _, candidate := range msg.CollaborationChain {
		if t, ok := a.resolver.GetAgentType(candidate); ok && t == core.AgentTypeHuman {
			return candidate
		}
	}
	if t, ok := a.resolver.GetAgentType(msg.SenderID); ok && t == core.AgentTypeHuman {
		return msg.SenderID
	}
	return msg.SenderID
}
