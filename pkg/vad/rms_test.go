package vad

import (
	"testing"
	"time"
)

func loudFrame() []int16 {
	frame := make([]int16, 160)
	for i := range frame {
		if i%2 == 0 {
			frame[i] = 20000
		} else {
			frame[i] = -20000
		}
	}
	return frame
}

func silentFrame() []int16 {
	return make([]int16, 160)
}

func TestRMSGate_ConfirmsVoiceStartAfterMinFrames(t *testing.T) {
	gate := NewRMSGate(0.1, 50*time.Millisecond, 3)

	for i := 0; i < 2; i++ {
		evt, err := gate.Process(loudFrame())
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
		if evt != nil {
			t.Fatalf("expected no edge before minConfirmed frames, got %v at frame %d", evt, i)
		}
	}

	evt, err := gate.Process(loudFrame())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if evt == nil || evt.Type != VoiceStart {
		t.Fatalf("expected VoiceStart on the confirming frame, got %v", evt)
	}
	if !gate.IsVoice() {
		t.Error("expected IsVoice() true after VoiceStart")
	}
}

func TestRMSGate_SignalsVoiceStopAfterSilenceLimit(t *testing.T) {
	gate := NewRMSGate(0.1, 10*time.Millisecond, 1)

	evt, _ := gate.Process(loudFrame())
	if evt == nil || evt.Type != VoiceStart {
		t.Fatalf("expected VoiceStart, got %v", evt)
	}

	if evt, _ := gate.Process(silentFrame()); evt != nil {
		t.Fatalf("expected no immediate edge on first silent frame, got %v", evt)
	}

	time.Sleep(15 * time.Millisecond)

	evt, err := gate.Process(silentFrame())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if evt == nil || evt.Type != VoiceStop {
		t.Fatalf("expected VoiceStop once the silence limit elapses, got %v", evt)
	}
	if gate.IsVoice() {
		t.Error("expected IsVoice() false after VoiceStop")
	}
}

func TestRMSGate_BelowThresholdBeforeAnyVoiceReportsSilence(t *testing.T) {
	gate := NewRMSGate(0.1, 50*time.Millisecond, 1)

	evt, err := gate.Process(silentFrame())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if evt == nil || evt.Type != Silence {
		t.Fatalf("expected Silence event, got %v", evt)
	}
}

func TestRMSGate_ResetClearsState(t *testing.T) {
	gate := NewRMSGate(0.1, 50*time.Millisecond, 1)
	gate.Process(loudFrame())
	if !gate.IsVoice() {
		t.Fatal("expected IsVoice() true before Reset")
	}

	gate.Reset()
	if gate.IsVoice() {
		t.Error("expected IsVoice() false after Reset")
	}
}

func TestRMSGate_CloneIsIndependent(t *testing.T) {
	gate := NewRMSGate(0.1, 50*time.Millisecond, 1)
	gate.Process(loudFrame())

	clone := gate.Clone()
	clone.Reset()

	if !gate.IsVoice() {
		t.Error("expected the original gate's state to be unaffected by the clone")
	}
}
