package core

import "testing"

func TestCapabilitySnapshotEntry_EncodeDecodeRoundTrip(t *testing.T) {
	entry := &CapabilitySnapshotEntry{
		AgentID:        "agent-1",
		CapabilityName: "summarize",
		Description:    "produce concise summaries of text",
		Embedding:      []float32{0.1, -0.2, 0.3},
	}

	data := EncodeCapabilitySnapshotEntry(entry)
	got, err := DecodeCapabilitySnapshotEntry(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.AgentID != entry.AgentID || got.CapabilityName != entry.CapabilityName || got.Description != entry.Description {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, entry)
	}
	if len(got.Embedding) != len(entry.Embedding) {
		t.Fatalf("embedding length mismatch: got %d, want %d", len(got.Embedding), len(entry.Embedding))
	}
	for i := range entry.Embedding {
		if got.Embedding[i] != entry.Embedding[i] {
			t.Fatalf("embedding[%d] mismatch: got %v, want %v", i, got.Embedding[i], entry.Embedding[i])
		}
	}
}

func TestFrameUnframeSnapshotEntry(t *testing.T) {
	payload := EncodeCapabilitySnapshotEntry(&CapabilitySnapshotEntry{AgentID: "a", CapabilityName: "b"})
	buf := FrameSnapshotEntry(payload)
	buf = append(buf, FrameSnapshotEntry(payload)...)

	first, n, err := UnframeSnapshotEntry(buf)
	if err != nil {
		t.Fatalf("unframe first: %v", err)
	}
	second, n2, err := UnframeSnapshotEntry(buf[n:])
	if err != nil {
		t.Fatalf("unframe second: %v", err)
	}
	if len(first) != len(payload) || len(second) != len(payload) {
		t.Fatalf("unexpected payload lengths")
	}
	if n+n2 != len(buf) {
		t.Fatalf("did not consume entire buffer: consumed %d, total %d", n+n2, len(buf))
	}
}
