package sync

import "encoding/binary"

// Engine is the pluggable rich-text merge capability. Implementations must
// be commutative, associative and idempotent over the opaque payload type;
// the client relies on those laws for convergence and for order-independent
// coalescing of buffered local edits.
type Engine interface {
	// ApplyRemote merges one committed payload into local state.
	ApplyRemote(payload []byte) error
	// MergePayloads coalesces buffered local deltas into one payload.
	MergePayloads(payloads [][]byte) ([]byte, error)
}

// RelayEngine is the engine used by server-side relay sessions, which never
// materialize document state: ApplyRemote is a no-op and MergePayloads packs
// the deltas into one length-prefixed batch. Consumers unpack the batch with
// UnpackPayloads and merge each chunk; commutativity of the real CRDT makes
// the pack order irrelevant.
type RelayEngine struct{}

func (RelayEngine) ApplyRemote(payload []byte) error { return nil }

func (RelayEngine) MergePayloads(payloads [][]byte) ([]byte, error) {
	if len(payloads) == 1 {
		return payloads[0], nil
	}
	return PackPayloads(payloads), nil
}

// batchMagic marks a packed multi-delta payload. Single deltas pass through
// unwrapped, so payloads that never needed coalescing keep their exact bytes.
var batchMagic = []byte{0xc0, 0x1a, 0xb5, 0x01}

// PackPayloads frames the chunks as magic ++ (uint32-BE length ++ bytes)*.
func PackPayloads(payloads [][]byte) []byte {
	size := len(batchMagic)
	for _, p := range payloads {
		size += 4 + len(p)
	}
	out := make([]byte, 0, size)
	out = append(out, batchMagic...)
	for _, p := range payloads {
		out = binary.BigEndian.AppendUint32(out, uint32(len(p)))
		out = append(out, p...)
	}
	return out
}

// UnpackPayloads reverses PackPayloads. A payload without the batch marker
// is returned as a single chunk unchanged.
func UnpackPayloads(b []byte) [][]byte {
	if len(b) < len(batchMagic) || string(b[:len(batchMagic)]) != string(batchMagic) {
		return [][]byte{b}
	}
	var chunks [][]byte
	rest := b[len(batchMagic):]
	for len(rest) >= 4 {
		n := binary.BigEndian.Uint32(rest[:4])
		rest = rest[4:]
		if uint32(len(rest)) < n {
			break
		}
		chunks = append(chunks, rest[:n:n])
		rest = rest[n:]
	}
	return chunks
}
