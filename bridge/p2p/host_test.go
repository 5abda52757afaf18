package p2p

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/olserra/agent-semantic-protocol/core"
	"github.com/olserra/agent-semantic-protocol/hub"
	"github.com/stretchr/testify/require"
)

type recordingAgent struct {
	id       string
	identity *core.Identity
	modes    []core.InteractionMode
	received chan *core.Message
}

func newRecordingAgent(t *testing.T, id string) *recordingAgent {
	t.Helper()
	identity, err := core.CreateKeyIdentity()
	require.NoError(t, err)
	return &recordingAgent{
		id:       id,
		identity: identity,
		modes:    []core.InteractionMode{core.ModeAgentToAgent},
		received: make(chan *core.Message, 1),
	}
}

func (a *recordingAgent) ID() string                               { return a.id }
func (a *recordingAgent) Identity() *core.Identity                 { return a.identity }
func (a *recordingAgent) InteractionModes() []core.InteractionMode { return a.modes }
func (a *recordingAgent) ReceiveMessage(msg *core.Message) error {
	a.received <- msg
	return nil
}

func TestBridge_ForwardDeliversIntoRemoteLocalHub(t *testing.T) {
	ctx := context.Background()

	senderHub := hub.New(hub.Config{})
	receiverHub := hub.New(hub.Config{})

	senderBridge, err := NewBridge(ctx, senderHub, nil)
	require.NoError(t, err)
	defer senderBridge.Close()

	receiverBridge, err := NewBridge(ctx, receiverHub, nil)
	require.NoError(t, err)
	defer receiverBridge.Close()

	require.NoError(t, senderBridge.Connect(ctx, receiverBridge.AddrInfo()))

	sender := newRecordingAgent(t, "sender")
	receiver := newRecordingAgent(t, "receiver")
	senderHub.RegisterAgent(sender)
	receiverHub.RegisterAgent(receiver)
	// The receiving Hub verifies the sender's signature against its own
	// registration, so the remote sender must be known there as well.
	receiverHub.RegisterAgent(sender)

	senderBridge.RegisterRemoteAgent("receiver", receiverBridge.PeerID())

	msg := core.NewMessage("sender", "receiver", "hello over the wire", core.MsgText)
	require.NoError(t, msg.Sign(sender.identity))

	require.NoError(t, senderBridge.Forward(ctx, msg))

	select {
	case got := <-receiver.received:
		require.Equal(t, "hello over the wire", got.Content)
		require.Equal(t, "sender", got.SenderID)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message to arrive at receiver's local hub")
	}
}

func TestBridge_ForwardFailsForUnknownRemoteAgent(t *testing.T) {
	ctx := context.Background()
	senderHub := hub.New(hub.Config{})

	senderBridge, err := NewBridge(ctx, senderHub, nil)
	require.NoError(t, err)
	defer senderBridge.Close()

	msg := core.NewMessage("sender", "nobody", "content", core.MsgText)
	err = senderBridge.Forward(ctx, msg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no known remote peer")
}

func TestFramedRoundTrip(t *testing.T) {
	identity, err := core.CreateKeyIdentity()
	require.NoError(t, err)
	msg := core.NewMessage("a", "b", "payload", core.MsgCollaborationResponse)
	msg.SetRequestID("req-123")
	require.NoError(t, msg.Sign(identity))

	var buf bytes.Buffer
	require.NoError(t, writeFramed(&buf, msg))

	got, err := readFramed(&buf)
	require.NoError(t, err)
	require.Equal(t, msg.ID, got.ID)
	require.Equal(t, msg.Content, got.Content)
	require.Equal(t, msg.Signature, got.Signature)
	reqID, ok := got.RequestID()
	require.True(t, ok)
	require.Equal(t, "req-123", reqID)
}
