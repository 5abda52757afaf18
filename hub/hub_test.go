package hub

import (
	"context"
	"testing"
	"time"

	"github.com/olserra/agent-semantic-protocol/core"
	"github.com/stretchr/testify/require"
)

// fakeAgent is the minimal Agent implementation these tests route through.
type fakeAgent struct {
	id       string
	identity *core.Identity
	modes    []core.InteractionMode
	received []*core.Message
	onMsg    func(msg *core.Message)
}

func newFakeAgent(t *testing.T, id string, modes []core.InteractionMode) *fakeAgent {
	t.Helper()
	identity, err := core.CreateKeyIdentity()
	require.NoError(t, err)
	return &fakeAgent{id: id, identity: identity, modes: modes}
}

func (f *fakeAgent) ID() string                               { return f.id }
func (f *fakeAgent) Identity() *core.Identity                  { return f.identity }
func (f *fakeAgent) InteractionModes() []core.InteractionMode  { return f.modes }
func (f *fakeAgent) ReceiveMessage(msg *core.Message) error {
	f.received = append(f.received, msg)
	if f.onMsg != nil {
		f.onMsg(msg)
	}
	return nil
}

func signed(t *testing.T, from *fakeAgent, to, content string, msgType core.MessageType) *core.Message {
	t.Helper()
	msg := core.NewMessage(from.id, to, content, msgType)
	require.NoError(t, msg.Sign(from.identity))
	return msg
}

func TestRouteMessage_DeliversAndRecordsHistory(t *testing.T) {
	h := New(Config{})
	alice := newFakeAgent(t, "alice", []core.InteractionMode{core.ModeAgentToAgent})
	bob := newFakeAgent(t, "bob", []core.InteractionMode{core.ModeAgentToAgent})
	h.RegisterAgent(alice)
	h.RegisterAgent(bob)

	msg := signed(t, alice, "bob", "hi", core.MsgText)
	routed, err := h.RouteMessage(context.Background(), msg)
	require.NoError(t, err)
	require.True(t, routed)

	require.Eventually(t, func() bool { return len(bob.received) == 1 }, time.Second, 5*time.Millisecond)
	require.Len(t, h.History(), 1)
}

func TestRouteMessage_RejectsSelfSend(t *testing.T) {
	h := New(Config{})
	alice := newFakeAgent(t, "alice", []core.InteractionMode{core.ModeAgentToAgent})
	h.RegisterAgent(alice)

	msg := signed(t, alice, "alice", "hi", core.MsgText)
	routed, err := h.RouteMessage(context.Background(), msg)
	require.NoError(t, err)
	require.False(t, routed)
}

func TestRouteMessage_UnknownReceiverNotRouted(t *testing.T) {
	h := New(Config{})
	alice := newFakeAgent(t, "alice", []core.InteractionMode{core.ModeAgentToAgent})
	h.RegisterAgent(alice)

	msg := signed(t, alice, "ghost", "hi", core.MsgText)
	routed, err := h.RouteMessage(context.Background(), msg)
	require.NoError(t, err)
	require.False(t, routed)
}

func TestRouteMessage_RejectsUnverifiedSignature(t *testing.T) {
	h := New(Config{})
	alice := newFakeAgent(t, "alice", []core.InteractionMode{core.ModeAgentToAgent})
	bob := newFakeAgent(t, "bob", []core.InteractionMode{core.ModeAgentToAgent})
	h.RegisterAgent(alice)
	h.RegisterAgent(bob)

	msg := core.NewMessage("alice", "bob", "hi", core.MsgText)
	// never signed
	routed, err := h.RouteMessage(context.Background(), msg)
	require.Error(t, err)
	require.False(t, routed)
	var secErr *core.SecurityError
	require.ErrorAs(t, err, &secErr)
}

func TestRouteMessage_RejectsDisallowedMessageType(t *testing.T) {
	h := New(Config{})
	alice := newFakeAgent(t, "alice", []core.InteractionMode{core.ModeAgentToAgent})
	bob := newFakeAgent(t, "bob", []core.InteractionMode{core.ModeAgentToAgent})
	h.RegisterAgent(alice)
	h.RegisterAgent(bob)

	// MsgIgnore is a runtime-internal sentinel, not part of either protocol's
	// allowed set, so it must be rejected by protocol validation rather than
	// delivered.
	msg := signed(t, alice, "bob", "hi", core.MsgIgnore)
	routed, err := h.RouteMessage(context.Background(), msg)
	require.NoError(t, err)
	require.False(t, routed)
	require.Empty(t, bob.received)
}

func TestRouteMessage_RejectsProtocolVersionMismatch(t *testing.T) {
	h := New(Config{})
	alice := newFakeAgent(t, "alice", []core.InteractionMode{core.ModeAgentToAgent})
	bob := newFakeAgent(t, "bob", []core.InteractionMode{core.ModeAgentToAgent})
	h.RegisterAgent(alice)
	h.RegisterAgent(bob)

	msg := core.NewMessage("alice", "bob", "hi", core.MsgText)
	msg.ProtocolVersion = "0.0.1-unsupported"
	require.NoError(t, msg.Sign(alice.identity))

	routed, err := h.RouteMessage(context.Background(), msg)
	require.NoError(t, err)
	require.False(t, routed)
	require.Empty(t, bob.received)
}

func TestRouteMessage_RejectsMismatchedInteractionModes(t *testing.T) {
	h := New(Config{})
	alice := newFakeAgent(t, "alice", []core.InteractionMode{core.ModeHumanToAgent})
	bob := newFakeAgent(t, "bob", []core.InteractionMode{core.ModeAgentToAgent})
	h.RegisterAgent(alice)
	h.RegisterAgent(bob)

	msg := signed(t, alice, "bob", "hi", core.MsgText)
	routed, err := h.RouteMessage(context.Background(), msg)
	require.Error(t, err)
	require.False(t, routed)
	var routingErr *core.RoutingError
	require.ErrorAs(t, err, &routingErr)
}

func TestRouteMessage_CooldownDeliveredOnlyToHuman(t *testing.T) {
	directory := &fakeDirectory{types: map[string]core.AgentType{"bob-ai": core.AgentTypeAI, "bob-human": core.AgentTypeHuman}}
	h := New(Config{Directory: directory})

	alice := newFakeAgent(t, "alice", []core.InteractionMode{core.ModeAgentToAgent})
	aiAgent := newFakeAgent(t, "bob-ai", []core.InteractionMode{core.ModeAgentToAgent})
	humanAgent := newFakeAgent(t, "bob-human", []core.InteractionMode{core.ModeAgentToAgent})
	h.RegisterAgent(alice)
	h.RegisterAgent(aiAgent)
	h.RegisterAgent(humanAgent)

	msg1 := signed(t, alice, "bob-ai", "cool down", core.MsgCooldown)
	routed, err := h.RouteMessage(context.Background(), msg1)
	require.NoError(t, err)
	require.True(t, routed)

	msg2 := signed(t, alice, "bob-human", "cool down", core.MsgCooldown)
	routed, err = h.RouteMessage(context.Background(), msg2)
	require.NoError(t, err)
	require.True(t, routed)

	time.Sleep(20 * time.Millisecond)
	require.Empty(t, aiAgent.received)
	require.Len(t, humanAgent.received, 1)
}

type fakeDirectory struct {
	types map[string]core.AgentType
}

func (f *fakeDirectory) GetAgentType(agentID string) (core.AgentType, bool) {
	t, ok := f.types[agentID]
	return t, ok
}

func TestSendMessageAndWaitResponse_ResolvesOnMatchingResponseTo(t *testing.T) {
	h := New(Config{})
	alice := newFakeAgent(t, "alice", []core.InteractionMode{core.ModeAgentToAgent})
	bob := newFakeAgent(t, "bob", []core.InteractionMode{core.ModeAgentToAgent})
	h.RegisterAgent(alice)
	h.RegisterAgent(bob)

	bob.onMsg = func(msg *core.Message) {
		reqID, ok := msg.RequestID()
		require.True(t, ok)
		reply := core.NewMessage("bob", "alice", "pong", core.MsgCollaborationResponse)
		reply.SetResponseTo(reqID)
		require.NoError(t, reply.Sign(bob.identity))
		go h.RouteMessage(context.Background(), reply)
	}

	resp, err := h.SendMessageAndWaitResponse(context.Background(), "alice", "bob", "ping", core.MsgRequestCollaboration, nil, 2*time.Second)
	require.NoError(t, err)
	require.NotNil(t, resp)
	require.Equal(t, "pong", resp.Content)
}

func TestSendMessageAndWaitResponse_TimesOutThenLateResponseRecoverable(t *testing.T) {
	h := New(Config{LateResponseGrace: 200 * time.Millisecond})
	alice := newFakeAgent(t, "alice", []core.InteractionMode{core.ModeAgentToAgent})
	bob := newFakeAgent(t, "bob", []core.InteractionMode{core.ModeAgentToAgent})
	h.RegisterAgent(alice)
	h.RegisterAgent(bob)

	var capturedReqID string
	bob.onMsg = func(msg *core.Message) {
		reqID, _ := msg.RequestID()
		capturedReqID = reqID
	}

	resp, err := h.SendMessageAndWaitResponse(context.Background(), "alice", "bob", "ping", core.MsgRequestCollaboration, nil, 30*time.Millisecond)
	require.NoError(t, err)
	require.Nil(t, resp)

	require.Eventually(t, func() bool { return capturedReqID != "" }, time.Second, 5*time.Millisecond)

	late := core.NewMessage("bob", "alice", "late pong", core.MsgCollaborationResponse)
	late.SetResponseTo(capturedReqID)
	require.NoError(t, late.Sign(bob.identity))
	routed, err := h.RouteMessage(context.Background(), late)
	require.NoError(t, err)
	require.True(t, routed)

	status, msg := h.CheckCollaborationResult(capturedReqID)
	require.Equal(t, StatusCompletedLate, status)
	require.Equal(t, "late pong", msg.Content)
}

func TestSendCollaborationRequest_RejectsSelfDelegation(t *testing.T) {
	h := New(Config{})
	alice := newFakeAgent(t, "alice", []core.InteractionMode{core.ModeAgentToAgent})
	h.RegisterAgent(alice)

	_, _, err := h.SendCollaborationRequest(context.Background(), "alice", "alice", "task", nil, "", nil)
	require.Error(t, err)
	var chainErr *core.ChainError
	require.ErrorAs(t, err, &chainErr)
}

func TestSendCollaborationRequest_RejectsLoopBackToOriginalSender(t *testing.T) {
	h := New(Config{})
	alice := newFakeAgent(t, "alice", []core.InteractionMode{core.ModeAgentToAgent})
	bob := newFakeAgent(t, "bob", []core.InteractionMode{core.ModeAgentToAgent})
	h.RegisterAgent(alice)
	h.RegisterAgent(bob)

	_, _, err := h.SendCollaborationRequest(context.Background(), "bob", "alice", "task", []string{"alice", "bob"}, "alice", nil)
	require.Error(t, err)
	var chainErr *core.ChainError
	require.ErrorAs(t, err, &chainErr)
}

func TestSendCollaborationRequest_RejectsChainTooLong(t *testing.T) {
	h := New(Config{MaxChainLength: 2})
	alice := newFakeAgent(t, "alice", []core.InteractionMode{core.ModeAgentToAgent})
	carol := newFakeAgent(t, "carol", []core.InteractionMode{core.ModeAgentToAgent})
	h.RegisterAgent(alice)
	h.RegisterAgent(carol)

	_, _, err := h.SendCollaborationRequest(context.Background(), "alice", "carol", "task", []string{"x", "y", "z"}, "x", nil)
	require.Error(t, err)
	var chainErr *core.ChainError
	require.ErrorAs(t, err, &chainErr)
}

func TestAdaptiveCollaborationTimeout_ScalesWithTaskLengthAndCaps(t *testing.T) {
	short := adaptiveCollaborationTimeout("short task")
	require.Equal(t, 60*time.Second, short)

	long := adaptiveCollaborationTimeout(string(make([]byte, 5000)))
	require.Equal(t, 300*time.Second, long)
}

func TestNotifyHandlers_PanickingHandlerIsDropped(t *testing.T) {
	h := New(Config{})
	alice := newFakeAgent(t, "alice", []core.InteractionMode{core.ModeAgentToAgent})
	bob := newFakeAgent(t, "bob", []core.InteractionMode{core.ModeAgentToAgent})
	h.RegisterAgent(alice)
	h.RegisterAgent(bob)

	var calls int
	h.OnGlobal(func(msg *core.Message) { panic("boom") })
	h.OnGlobal(func(msg *core.Message) { calls++ })

	msg := signed(t, alice, "bob", "hi", core.MsgText)
	_, err := h.RouteMessage(context.Background(), msg)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return calls == 1 }, time.Second, 5*time.Millisecond)

	msg2 := signed(t, alice, "bob", "hi again", core.MsgText)
	_, err = h.RouteMessage(context.Background(), msg2)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return calls == 2 }, time.Second, 5*time.Millisecond)
}

func TestUnregisterAgent_RemovesFromActiveSetAndHandlers(t *testing.T) {
	h := New(Config{})
	alice := newFakeAgent(t, "alice", []core.InteractionMode{core.ModeAgentToAgent})
	bob := newFakeAgent(t, "bob", []core.InteractionMode{core.ModeAgentToAgent})
	h.RegisterAgent(alice)
	h.RegisterAgent(bob)
	h.OnAgent("bob", func(msg *core.Message) {})

	h.UnregisterAgent("bob")

	msg := signed(t, alice, "bob", "hi", core.MsgText)
	routed, err := h.RouteMessage(context.Background(), msg)
	require.NoError(t, err)
	require.False(t, routed)
}

func TestCheckCollaborationResult_NotFoundForUnknownRequest(t *testing.T) {
	h := New(Config{})
	status, msg := h.CheckCollaborationResult("nope")
	require.Equal(t, StatusNotFound, status)
	require.Nil(t, msg)
}
