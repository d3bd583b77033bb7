package codec

import (
	"encoding/binary"
	"testing"
)

func buildPacket(ts uint32, payload []byte) []byte {
	raw := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(raw[8:12], ts)
	binary.BigEndian.PutUint32(raw[12:16], uint32(len(payload)))
	copy(raw[HeaderSize:], payload)
	return raw
}

func TestParseDevicePacket(t *testing.T) {
	payload := []byte{0xAA, 0xBB, 0xCC}
	raw := buildPacket(1000, payload)

	pkt, err := ParseDevicePacket(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pkt.TimestampMS != 1000 {
		t.Errorf("expected timestamp 1000, got %d", pkt.TimestampMS)
	}
	if string(pkt.Payload) != string(payload) {
		t.Errorf("payload mismatch: got %v", pkt.Payload)
	}
}

func TestParseDevicePacketZeroLength(t *testing.T) {
	raw := buildPacket(1, nil)
	pkt, err := ParseDevicePacket(raw)
	if err != nil {
		t.Fatalf("unexpected error for zero-length payload: %v", err)
	}
	if len(pkt.Payload) != 0 {
		t.Errorf("expected empty payload, got %v", pkt.Payload)
	}
}

func TestParseDevicePacketTooShort(t *testing.T) {
	if _, err := ParseDevicePacket([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for short packet")
	}
}

func TestParseDevicePacketDeclaredLengthOverflow(t *testing.T) {
	raw := buildPacket(1, []byte{1, 2, 3})
	binary.BigEndian.PutUint32(raw[12:16], 999)
	if _, err := ParseDevicePacket(raw); err == nil {
		t.Fatal("expected error when declared length exceeds remaining bytes")
	}
}

func TestReorderBufferInOrderDelivery(t *testing.T) {
	rb := NewReorderBuffer()

	ready := rb.Push(60, []byte("a"))
	if len(ready) != 1 || string(ready[0]) != "a" {
		t.Fatalf("expected immediate delivery of first packet, got %v", ready)
	}

	ready = rb.Push(120, []byte("b"))
	if len(ready) != 1 || string(ready[0]) != "b" {
		t.Fatalf("expected immediate delivery of sequential packet, got %v", ready)
	}
}

func TestReorderBufferOutOfOrder(t *testing.T) {
	rb := NewReorderBuffer()

	// first call establishes nextExpect=300
	if ready := rb.Push(300, []byte("five")); len(ready) != 1 {
		t.Fatalf("expected immediate delivery, got %v", ready)
	}

	// 420 (two frames ahead) arrives before 360: buffered, nothing ready yet
	if ready := rb.Push(420, []byte("seven")); len(ready) != 0 {
		t.Fatalf("expected no ready packets while waiting on 360, got %v", ready)
	}

	// 360 arrives: both 360 and 420 become ready, in order
	ready := rb.Push(360, []byte("six"))
	if len(ready) != 2 || string(ready[0]) != "six" || string(ready[1]) != "seven" {
		t.Fatalf("expected [six seven] in order, got %v", ready)
	}
}

func TestReorderBufferOverflowDropsOldestToTail(t *testing.T) {
	rb := NewReorderBuffer()

	// deliver timestamp 0 so nextExpect advances to 60, then never deliver 60
	// so entries accumulate.
	rb.Push(0, []byte("zero"))
	rb.Push(60000, []byte("skip-ahead")) // far ahead: nextExpect stays unsatisfied

	// Fill buffer with far-future, out-of-order timestamps to force overflow
	// without ever satisfying nextExpect.
	for i := 0; i < ReorderBufferCap+5; i++ {
		rb.Push(uint32(120000+i*FrameDurationMs), []byte{byte(i)})
	}

	if rb.Len() > ReorderBufferCap {
		t.Errorf("expected buffer to stay within cap %d, got %d", ReorderBufferCap, rb.Len())
	}
}
