package codec

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the MQTT-gateway variant's fixed device audio-packet header:
// 8 bytes reserved, 4-byte big-endian timestamp, 4-byte big-endian length.
const HeaderSize = 16

// DevicePacket is a decoded MQTT-gateway audio packet.
type DevicePacket struct {
	TimestampMS uint32
	Payload     []byte
}

// ParseDevicePacket extracts the timestamp and payload from a 16-byte-header
// device audio packet. B1: a packet shorter than the header, or one whose
// declared length exceeds the remaining bytes, is reported as an error
// rather than panicking; a zero-length payload is valid and returned as such.
func ParseDevicePacket(raw []byte) (DevicePacket, error) {
	if len(raw) < HeaderSize {
		return DevicePacket{}, fmt.Errorf("codec: device packet too short: %d bytes", len(raw))
	}
	ts := binary.BigEndian.Uint32(raw[8:12])
	length := binary.BigEndian.Uint32(raw[12:16])
	rest := raw[HeaderSize:]
	if uint64(length) > uint64(len(rest)) {
		return DevicePacket{}, fmt.Errorf("codec: device packet declares length %d but only %d bytes follow", length, len(rest))
	}
	return DevicePacket{TimestampMS: ts, Payload: rest[:length]}, nil
}

// ReorderBufferCap bounds the per-connection reorder window (spec.md 4.1/9).
const ReorderBufferCap = 20

// ReorderBuffer reassembles out-of-order device audio packets into monotone
// timestamp order before they reach the ASR queue (P4). It is intentionally
// a plain map + explicit eviction, matching the teacher's style of small
// hand-rolled per-connection state rather than pulling in a generic ordered-
// map dependency for a 20-entry bound.
type ReorderBuffer struct {
	entries    map[uint32][]byte
	nextExpect uint32
	haveNext   bool
}

func NewReorderBuffer() *ReorderBuffer {
	return &ReorderBuffer{entries: make(map[uint32][]byte, ReorderBufferCap)}
}

// Push inserts a packet and returns, in monotone timestamp order, every
// payload now ready for delivery to the ASR queue. On overflow (more than
// ReorderBufferCap entries buffered) the oldest buffered entry is flushed to
// the tail of the ready list regardless of ordering, per spec.md's "overflow
// drops to the tail" rule.
//
// The in-order fast path advances nextExpect by codec.FrameDurationMs, the
// device's actual packet cadence (spec.md 4.1/6), not by 1 — device
// timestamps are milliseconds, so a +1 step almost never lands on the next
// packet's exact timestamp and everything would otherwise fall through to
// the slower overflow-eviction path.
func (b *ReorderBuffer) Push(ts uint32, payload []byte) [][]byte {
	if !b.haveNext {
		b.nextExpect = ts
		b.haveNext = true
	}

	b.entries[ts] = payload

	var ready [][]byte
	for {
		if p, ok := b.entries[b.nextExpect]; ok {
			ready = append(ready, p)
			delete(b.entries, b.nextExpect)
			b.nextExpect += FrameDurationMs
			continue
		}
		break
	}

	for len(b.entries) > ReorderBufferCap {
		oldestTS, payload := b.oldest()
		delete(b.entries, oldestTS)
		ready = append(ready, payload)
		if oldestTS >= b.nextExpect {
			b.nextExpect = oldestTS + FrameDurationMs
		}
	}

	return ready
}

func (b *ReorderBuffer) oldest() (uint32, []byte) {
	var oldestTS uint32
	first := true
	for ts := range b.entries {
		if first || ts < oldestTS {
			oldestTS = ts
			first = false
		}
	}
	return oldestTS, b.entries[oldestTS]
}

// Len reports the number of currently buffered (not-yet-ready) packets.
func (b *ReorderBuffer) Len() int {
	return len(b.entries)
}
