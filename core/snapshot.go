package core

// snapshot.go — compact binary encoding for Capability Index snapshots.
//
// Live Message traffic is JSON (see message.go and SPEC_FULL.md §6); this
// codec is for the optional on-disk snapshot of the capability index, where
// every entry carries an embedding vector and JSON's per-float overhead adds
// up fast. It reuses the Protobuf wire format via
// google.golang.org/protobuf/encoding/protowire directly, without protoc
// code generation, the same approach the reference architecture used for
// its own message framing.

import (
	"encoding/binary"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// CapabilitySnapshotEntry is one row of a persisted capability index: one
// agent's one capability, plus the embedding vector computed for it (if an
// Embedder was configured when the snapshot was taken).
type CapabilitySnapshotEntry struct {
	AgentID        string
	CapabilityName string
	Description    string
	Embedding      []float32
}

type snapEnc struct{ buf []byte }

func (e *snapEnc) str(field protowire.Number, s string) {
	if s == "" {
		return
	}
	e.buf = protowire.AppendTag(e.buf, field, protowire.BytesType)
	e.buf = protowire.AppendString(e.buf, s)
}

// packedF32 encodes a slice of float32 as a proto3 packed repeated float field.
func (e *snapEnc) packedF32(field protowire.Number, fs []float32) {
	if len(fs) == 0 {
		return
	}
	packed := make([]byte, 0, len(fs)*4)
	for _, f := range fs {
		packed = binary.LittleEndian.AppendUint32(packed, math.Float32bits(f))
	}
	e.buf = protowire.AppendTag(e.buf, field, protowire.BytesType)
	e.buf = protowire.AppendBytes(e.buf, packed)
}

func decodePackedF32(packed []byte) []float32 {
	var out []float32
	for len(packed) >= 4 {
		out = append(out, math.Float32frombits(binary.LittleEndian.Uint32(packed[:4])))
		packed = packed[4:]
	}
	return out
}

// EncodeCapabilitySnapshotEntry serializes one entry to its Protobuf wire bytes.
// Field numbers: 1=agent_id, 2=capability_name, 3=description, 4=embedding (packed float).
func EncodeCapabilitySnapshotEntry(e *CapabilitySnapshotEntry) []byte {
	var enc snapEnc
	enc.str(1, e.AgentID)
	enc.str(2, e.CapabilityName)
	enc.str(3, e.Description)
	enc.packedF32(4, e.Embedding)
	return enc.buf
}

// DecodeCapabilitySnapshotEntry parses bytes produced by
// EncodeCapabilitySnapshotEntry.
func DecodeCapabilitySnapshotEntry(data []byte) (*CapabilitySnapshotEntry, error) {
	e := &CapabilitySnapshotEntry{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("snapshot entry: invalid tag")
		}
		data = data[n:]
		switch num {
		case 1:
			s, n2 := protowire.ConsumeString(data)
			if n2 < 0 {
				return nil, fmt.Errorf("snapshot entry: invalid agent_id")
			}
			e.AgentID = s
			data = data[n2:]
		case 2:
			s, n2 := protowire.ConsumeString(data)
			if n2 < 0 {
				return nil, fmt.Errorf("snapshot entry: invalid capability_name")
			}
			e.CapabilityName = s
			data = data[n2:]
		case 3:
			s, n2 := protowire.ConsumeString(data)
			if n2 < 0 {
				return nil, fmt.Errorf("snapshot entry: invalid description")
			}
			e.Description = s
			data = data[n2:]
		case 4:
			b, n2 := protowire.ConsumeBytes(data)
			if n2 < 0 {
				return nil, fmt.Errorf("snapshot entry: invalid embedding")
			}
			e.Embedding = decodePackedF32(b)
			data = data[n2:]
		default:
			n2 := protowire.ConsumeFieldValue(num, typ, data)
			if n2 < 0 {
				return nil, fmt.Errorf("snapshot entry: invalid field %d", num)
			}
			data = data[n2:]
		}
	}
	return e, nil
}

// FrameSnapshotEntry prefixes payload with a 4-byte big-endian length, the
// same framing scheme the reference architecture used for its network
// messages, repurposed here to sequence entries within one snapshot file.
func FrameSnapshotEntry(payload []byte) []byte {
	frame := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(payload)))
	copy(frame[4:], payload)
	return frame
}

// UnframeSnapshotEntry reads one framed entry from the front of buf,
// returning the payload and the number of bytes consumed.
func UnframeSnapshotEntry(buf []byte) (payload []byte, consumed int, err error) {
	if len(buf) < 4 {
		return nil, 0, fmt.Errorf("snapshot: frame header truncated")
	}
	n := int(binary.BigEndian.Uint32(buf[:4]))
	if len(buf) < 4+n {
		return nil, 0, fmt.Errorf("snapshot: frame body truncated: need %d bytes, have %d", 4+n, len(buf)-4)
	}
	return buf[4 : 4+n], 4 + n, nil
}
