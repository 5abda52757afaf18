// Package p2p carries core.Message traffic across a process boundary over
// libp2p, for operators who want to connect two separate in-process Hubs
// over a real network. It sits deliberately outside the core/hub/registry/
// agent dependency graph: the core's own routing contract is in-process
// only (see SPEC_FULL.md's Non-goals), and this package is the bridge that
// lets two such processes talk to each other, not a part of routing itself.
package p2p

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	libp2p "github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"go.uber.org/zap"

	"github.com/olserra/agent-semantic-protocol/core"
	"github.com/olserra/agent-semantic-protocol/hub"
)

// BridgeProtocol is the libp2p protocol identifier this bridge speaks.
const BridgeProtocol protocol.ID = "/agent-semantic-protocol/bridge/1.0.0"

const streamDeadline = 30 * time.Second
const maxFrameBytes = 4 * 1024 * 1024 // 4 MiB

// Bridge wraps a libp2p host and forwards core.Message traffic between a
// local Hub and remote agents reachable over the network. Inbound messages
// are handed to the local Hub's RouteMessage exactly as if they had
// originated from a locally-registered agent; it is the operator's
// responsibility to ensure both the sender and the receiver named in the
// message are registered with the local Hub, since RouteMessage drops
// messages from or to unknown agents and checks the signature against the
// sender's locally registered Identity.
type Bridge struct {
	h        host.Host
	localHub *hub.Hub
	logger   *zap.Logger

	mu    sync.RWMutex
	known map[string]peer.ID // agent_id -> the libp2p peer that carries its traffic
}

// NewBridge creates a libp2p host listening on an available TCP port and
// wires its stream handler to forward traffic into localHub.
func NewBridge(ctx context.Context, localHub *hub.Hub, logger *zap.Logger) (*Bridge, error) {
	h, err := libp2p.New(libp2p.ListenAddrStrings("/ip4/127.0.0.1/tcp/0"))
	if err != nil {
		return nil, fmt.Errorf("bridge/p2p: create host: %w", err)
	}
	if logger == nil {
		logger = core.NopLogger()
	}
	b := &Bridge{
		h:        h,
		localHub: localHub,
		logger:   logger,
		known:    make(map[string]peer.ID),
	}
	h.SetStreamHandler(BridgeProtocol, b.handleStream)
	return b, nil
}

// Close shuts down the underlying libp2p host.
func (b *Bridge) Close() error { return b.h.Close() }

// PeerID returns this bridge's libp2p peer identity.
func (b *Bridge) PeerID() peer.ID { return b.h.ID() }

// AddrInfo returns the address info remote bridges need to connect to this one.
func (b *Bridge) AddrInfo() peer.AddrInfo {
	return peer.AddrInfo{ID: b.h.ID(), Addrs: b.h.Addrs()}
}

// Connect establishes a libp2p connection to a remote bridge.
func (b *Bridge) Connect(ctx context.Context, info peer.AddrInfo) error {
	return b.h.Connect(ctx, info)
}

// RegisterRemoteAgent associates an agent_id with the libp2p peer that
// carries its traffic, so Forward knows where to send messages addressed
// to that agent.
func (b *Bridge) RegisterRemoteAgent(agentID string, pid peer.ID) {
	b.mu.Lock()
	b.known[agentID] = pid
	b.mu.Unlock()
}

// Forward opens a stream to msg.ReceiverID's registered remote peer and
// writes the message. Returns an error if the receiver has no known peer.
func (b *Bridge) Forward(ctx context.Context, msg *core.Message) error {
	b.mu.RLock()
	pid, ok := b.known[msg.ReceiverID]
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("bridge/p2p: no known remote peer for agent %s", msg.ReceiverID)
	}

	stream, err := b.h.NewStream(ctx, pid, BridgeProtocol)
	if err != nil {
		return fmt.Errorf("bridge/p2p: open stream to %s: %w", msg.ReceiverID, err)
	}
	defer stream.Close()

	if err := writeFramed(stream, msg); err != nil {
		return fmt.Errorf("bridge/p2p: send to %s: %w", msg.ReceiverID, err)
	}
	return nil
}

func (b *Bridge) handleStream(s network.Stream) {
	defer s.Close()
	_ = s.SetDeadline(time.Now().Add(streamDeadline))

	msg, err := readFramed(bufio.NewReader(s))
	if err != nil {
		b.logger.Warn("bridge/p2p: failed to read inbound frame", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), streamDeadline)
	defer cancel()
	if _, err := b.localHub.RouteMessage(ctx, msg); err != nil {
		b.logger.Warn("bridge/p2p: local routing of inbound message failed",
			zap.String("message_id", msg.ID), zap.Error(err))
	}
}

// ------------------------------------------------------------------ wire framing
//
// [4-byte big-endian length][N-byte JSON payload]. JSON, not protobuf,
// since SPEC_FULL.md §6 fixes Message's wire format as JSON; the protowire
// framing elsewhere in this module is reserved for the Capability Index's
// on-disk snapshot codec, a distinct concern.

func writeFramed(w io.Writer, msg *core.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if len(payload) > maxFrameBytes {
		return fmt.Errorf("message too large to frame: %d bytes", len(payload))
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

func readFramed(r io.Reader) (*core.Message, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("read frame header: %w", err)
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n == 0 || n > maxFrameBytes {
		return nil, fmt.Errorf("invalid frame length %d", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read frame body: %w", err)
	}
	msg := &core.Message{}
	if err := json.Unmarshal(body, msg); err != nil {
		return nil, fmt.Errorf("decode frame body: %w", err)
	}
	return msg, nil
}
