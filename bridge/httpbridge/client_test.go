package httpbridge

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/olserra/agent-semantic-protocol/collab"
	"github.com/olserra/agent-semantic-protocol/core"
	"github.com/olserra/agent-semantic-protocol/hub"
	"github.com/olserra/agent-semantic-protocol/registry"
	"github.com/stretchr/testify/require"
)

type stubCaller struct{ id string }

func (s *stubCaller) ID() string             { return s.id }
func (s *stubCaller) ActivePeers() []string  { return nil }
func (s *stubCaller) PendingPeers() []string { return nil }
func (s *stubCaller) RecentPeers() []string  { return nil }

type stubAgent struct {
	id       string
	identity *core.Identity
	modes    []core.InteractionMode
	onMsg    func(msg *core.Message)
}

func newStubAgent(t *testing.T, id string) *stubAgent {
	t.Helper()
	identity, err := core.CreateKeyIdentity()
	require.NoError(t, err)
	return &stubAgent{id: id, identity: identity, modes: []core.InteractionMode{core.ModeAgentToAgent}}
}

func (a *stubAgent) ID() string                               { return a.id }
func (a *stubAgent) Identity() *core.Identity                 { return a.identity }
func (a *stubAgent) InteractionModes() []core.InteractionMode { return a.modes }
func (a *stubAgent) ReceiveMessage(msg *core.Message) error {
	if a.onMsg != nil {
		a.onMsg(msg)
	}
	return nil
}

func TestServerAndClient_SearchForAgents(t *testing.T) {
	reg := registry.New(nil)
	h := hub.New(hub.Config{})

	caller := newStubAgent(t, "caller")
	target := newStubAgent(t, "target")
	h.RegisterAgent(caller)
	h.RegisterAgent(target)
	require.NoError(t, reg.Register(context.Background(), &registry.Registration{
		AgentID: "target", DID: target.identity.DID, Name: "target",
		AgentType: core.AgentTypeAI, InteractionModes: target.modes,
		Capabilities: []core.Capability{{Name: "summarize", Description: "summarizes text"}},
		Identity:     target.identity,
	}))

	tools := collab.NewTools(h, reg, &stubCaller{id: "caller"}, collab.Config{})
	srv := httptest.NewServer(NewServer(tools, nil).Handler())
	defer srv.Close()

	client := NewClient(srv.URL, WithAgentID("caller"))
	resp, err := client.SearchForAgents(context.Background(), "summarize", 5, 0.1)
	require.NoError(t, err)
	require.Len(t, resp.Matches, 1)
	require.Equal(t, "target", resp.Matches[0].AgentID)
}

func TestServerAndClient_CollaborateRoundTrip(t *testing.T) {
	reg := registry.New(nil)
	h := hub.New(hub.Config{})

	caller := newStubAgent(t, "caller")
	target := newStubAgent(t, "target")
	h.RegisterAgent(caller)
	h.RegisterAgent(target)
	for _, a := range []*stubAgent{caller, target} {
		require.NoError(t, reg.Register(context.Background(), &registry.Registration{
			AgentID: a.id, DID: a.identity.DID, Name: a.id,
			AgentType: core.AgentTypeAI, InteractionModes: a.modes, Identity: a.identity,
		}))
	}

	target.onMsg = func(msg *core.Message) {
		reqID, ok := msg.RequestID()
		require.True(t, ok)
		reply := core.NewMessage("target", "caller", "done", core.MsgCollaborationResponse)
		reply.SetResponseTo(reqID)
		require.NoError(t, reply.Sign(target.identity))
		go h.RouteMessage(context.Background(), reply)
	}

	tools := collab.NewTools(h, reg, &stubCaller{id: "caller"}, collab.Config{})
	srv := httptest.NewServer(NewServer(tools, nil).Handler())
	defer srv.Close()

	client := NewClient(srv.URL, WithAgentID("caller"))
	resp, err := client.SendCollaborationRequest(context.Background(), "target", "short task", 2*time.Second, nil)
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.Equal(t, "done", resp.Response)

	check, err := client.CheckCollaborationResult(context.Background(), resp.RequestID)
	require.NoError(t, err)
	require.Equal(t, string(hub.StatusCompleted), check.Status)
}

func TestServerAndClient_CheckUnknownRequestNotFound(t *testing.T) {
	reg := registry.New(nil)
	h := hub.New(hub.Config{})
	tools := collab.NewTools(h, reg, &stubCaller{id: "caller"}, collab.Config{})
	srv := httptest.NewServer(NewServer(tools, nil).Handler())
	defer srv.Close()

	client := NewClient(srv.URL)
	resp, err := client.CheckCollaborationResult(context.Background(), "nope")
	require.NoError(t, err)
	require.Equal(t, string(hub.StatusNotFound), resp.Status)
}
