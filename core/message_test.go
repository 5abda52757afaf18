package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMessageSignVerify_RoundTrip(t *testing.T) {
	sender, err := CreateKeyIdentity()
	require.NoError(t, err)

	msg := NewMessage("alice", "bob", "hi", MsgText)
	require.NoError(t, msg.Sign(sender))
	require.NoError(t, msg.Verify(sender))
}

func TestMessageVerify_TamperingInvalidatesSignature(t *testing.T) {
	sender, err := CreateKeyIdentity()
	require.NoError(t, err)

	cases := map[string]func(*Message){
		"content":    func(m *Message) { m.Content = m.Content + "!" },
		"id":         func(m *Message) { m.ID = m.ID + "x" },
		"sender":     func(m *Message) { m.SenderID = m.SenderID + "x" },
		"receiver":   func(m *Message) { m.ReceiverID = m.ReceiverID + "x" },
		"timestamp":  func(m *Message) { m.Timestamp = m.Timestamp.Add(time.Nanosecond) },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			msg := NewMessage("alice", "bob", "hi", MsgText)
			require.NoError(t, msg.Sign(sender))
			mutate(msg)
			require.Error(t, msg.Verify(sender))
		})
	}
}

func TestMessageVerify_UnverifiedSenderAlwaysErrors(t *testing.T) {
	sender, err := CreateKeyIdentity()
	require.NoError(t, err)
	sender.VerificationStatus = StatusPending

	msg := NewMessage("alice", "bob", "hi", MsgText)
	require.NoError(t, msg.Sign(sender))

	err = msg.Verify(sender)
	require.Error(t, err)
	var secErr *SecurityError
	require.ErrorAs(t, err, &secErr)
}

func TestMessage_SelfSendNotAllowedByConvention(t *testing.T) {
	msg := NewMessage("alice", "alice", "hi", MsgText)
	require.Equal(t, msg.SenderID, msg.ReceiverID)
}

func TestMetadataAccessors(t *testing.T) {
	msg := NewMessage("a", "b", "hi", MsgRequestCollaboration)
	msg.SetRequestID("req-1")
	msg.SetResponseTo("req-0")

	reqID, ok := msg.RequestID()
	require.True(t, ok)
	require.Equal(t, "req-1", reqID)

	respTo, ok := msg.ResponseTo()
	require.True(t, ok)
	require.Equal(t, "req-0", respTo)

	_, ok = msg.OriginalSender()
	require.False(t, ok)
}

func TestMessage_IsSpecial(t *testing.T) {
	require.True(t, (&Message{Type: MsgCooldown}).IsSpecial())
	require.True(t, (&Message{Type: MsgStop}).IsSpecial())
	require.True(t, (&Message{Type: MsgSystem}).IsSpecial())
	require.False(t, (&Message{Type: MsgText}).IsSpecial())
}
