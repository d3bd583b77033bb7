// Command devicesim is a malgo-backed microphone/speaker client that talks
// the gateway's WebSocket protocol, standing in for the real ESP32 firmware
// the gateway otherwise only ever sees over the wire. It is the duplex
// audio loop of the teacher's cmd/agent/main.go, adapted from driving an
// in-process orchestrator.ManagedStream to driving a real WebSocket
// connection: the RMS meter, echo-aware VAD threshold and playback buffer
// are unchanged in spirit, but voice edges now become listen.start/stop
// frames and audio moves as Opus-encoded binary WebSocket messages instead
// of direct stream.Write/Events calls.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/gen2brain/malgo"
	"github.com/google/uuid"

	"github.com/xiaozhi-go/gateway/pkg/codec"
)

func main() {
	addr := flag.String("addr", "ws://127.0.0.1:8000/xiaozhi/v1/", "gateway WebSocket URL")
	deviceID := flag.String("device-id", "devicesim-"+uuid.NewString()[:8], "Device-Id header value")
	bearer := flag.String("bearer", os.Getenv("GATEWAY_BEARER_TOKEN"), "bearer token, if the gateway requires one")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	header := http.Header{}
	header.Set("Device-Id", *deviceID)
	header.Set("Client-Id", uuid.NewString())
	if *bearer != "" {
		header.Set("Authorization", "Bearer "+*bearer)
	}

	conn, _, err := websocket.Dial(ctx, *addr, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		log.Fatalf("Error: dialing %s: %v", *addr, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "devicesim exiting")

	if err := sendHello(ctx, conn); err != nil {
		log.Fatalf("Error: sending hello: %v", err)
	}
	sessionID, err := awaitWelcome(ctx, conn)
	if err != nil {
		log.Fatalf("Error: awaiting welcome: %v", err)
	}
	fmt.Printf("Connected. session_id=%s device_id=%s\n", sessionID, *deviceID)

	enc, err := codec.NewEncoder()
	if err != nil {
		log.Fatalf("Error: building encoder: %v", err)
	}
	dec, err := codec.NewDecoder()
	if err != nil {
		log.Fatalf("Error: building decoder: %v", err)
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		log.Fatal(err)
	}
	defer mctx.Uninit()

	sim := &deviceSim{conn: conn, enc: enc, dec: dec}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Duplex)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = codec.Channels
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = codec.Channels
	deviceConfig.SampleRate = codec.SampleRate
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: sim.onSamples,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		log.Fatal(err)
	}

	go sim.meterLoop(ctx)
	go sim.readLoop(ctx)

	fmt.Println("devicesim started. Press Ctrl+C to exit")
	<-ctx.Done()
	fmt.Println("\nShutting down...")
}

// deviceSim owns the duplex audio buffers and the micState/voice-edge
// bookkeeping the teacher's onSamples closure kept as loose local
// variables; bundled into a struct here only because the callback and the
// two background goroutines below all need to share it.
type deviceSim struct {
	conn *websocket.Conn
	enc  *codec.Encoder
	dec  *codec.Decoder

	captureMu  sync.Mutex
	pcmPending []int16 // accumulates raw capture samples until a full codec.FrameSize is available

	playbackMu    sync.Mutex
	playbackBytes []byte

	botMu        sync.Mutex
	lastPlayedAt time.Time

	rmsMu   sync.Mutex
	lastRMS float64

	voiceMu    sync.Mutex
	speaking   bool
	listenOpen bool
}

const micThreshold = 0.02

// onSamples is malgo's duplex callback: pInput holds one buffer's worth of
// captured mic samples, pOutput is where this device's speaker output goes.
// Capture frames are accumulated until a full Opus frame is available, then
// shipped upstream as a binary WebSocket message; playback bytes queued by
// readLoop are drained into pOutput, padding with silence when starved.
func (s *deviceSim) onSamples(pOutput, pInput []byte, frameCount uint32) {
	if pInput != nil {
		pcm := codec.BytesToPCM(pInput)

		var sum float64
		for _, v := range pcm {
			f := float64(v) / 32768.0
			sum += f * f
		}
		rms := math.Sqrt(sum / float64(len(pcm)))
		s.rmsMu.Lock()
		s.lastRMS = rms
		s.rmsMu.Unlock()

		// Same echo-aware threshold bump as the teacher: ignore the mic
		// for 200ms after we last queued playback audio, since that's
		// almost certainly this device picking up its own speaker.
		threshold := micThreshold
		s.botMu.Lock()
		if time.Since(s.lastPlayedAt) < 200*time.Millisecond {
			threshold = 0.15
		}
		s.botMu.Unlock()

		s.updateVoiceState(rms > threshold)

		s.captureMu.Lock()
		s.pcmPending = append(s.pcmPending, pcm...)
		for len(s.pcmPending) >= codec.FrameSize {
			frame := s.pcmPending[:codec.FrameSize]
			s.pcmPending = s.pcmPending[codec.FrameSize:]
			if opusData, err := s.enc.EncodeFrame(frame); err == nil {
				_ = s.conn.Write(context.Background(), websocket.MessageBinary, opusData)
			}
		}
		s.captureMu.Unlock()
	}

	if pOutput != nil {
		s.playbackMu.Lock()
		n := copy(pOutput, s.playbackBytes)
		s.playbackBytes = s.playbackBytes[n:]
		if n > 0 {
			s.botMu.Lock()
			s.lastPlayedAt = time.Now()
			s.botMu.Unlock()
		}
		for i := n; i < len(pOutput); i++ {
			pOutput[i] = 0
		}
		s.playbackMu.Unlock()
	}
}

// updateVoiceState sends listen.start/listen.stop the first time the local
// threshold crossing changes, mirroring the gateway's own edge-triggered
// (not level-triggered) barge-in protocol (spec.md §6 "listen").
func (s *deviceSim) updateVoiceState(voiced bool) {
	s.voiceMu.Lock()
	defer s.voiceMu.Unlock()

	if voiced && !s.speaking {
		s.speaking = true
		if !s.listenOpen {
			s.listenOpen = true
			_ = sendListen(s.conn, "start", "auto")
		}
	} else if !voiced && s.speaking {
		s.speaking = false
		if s.listenOpen {
			s.listenOpen = false
			_ = sendListen(s.conn, "stop", "auto")
		}
	}
}

func (s *deviceSim) meterLoop(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.rmsMu.Lock()
			level := s.lastRMS
			s.rmsMu.Unlock()

			dots := int(level * 500)
			if dots > 40 {
				dots = 40
			}
			meter := ""
			for i := 0; i < dots; i++ {
				meter += "|"
			}
			fmt.Printf("\r[MIC ENERGY: %-40s] RMS: %.5f", meter, level)
		}
	}
}

// readLoop drains the gateway's downstream frames: binary messages are
// Opus-decoded and queued for playback, text messages are the JSON control
// envelopes (tts/stt/llm/server) printed for visibility.
func (s *deviceSim) readLoop(ctx context.Context) {
	for {
		kind, data, err := s.conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				fmt.Printf("\r\033[K[ERROR] read: %v\n", err)
			}
			return
		}

		if kind == websocket.MessageBinary {
			pcm, err := s.dec.DecodeFrame(data)
			if err != nil {
				continue
			}
			s.playbackMu.Lock()
			s.playbackBytes = append(s.playbackBytes, codec.PCMToBytes(pcm)...)
			s.playbackMu.Unlock()
			continue
		}

		var env struct {
			Type      string `json:"type"`
			State     string `json:"state"`
			Text      string `json:"text"`
			Emotion   string `json:"emotion"`
			Status    string `json:"status"`
			SessionID string `json:"session_id"`
		}
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch env.Type {
		case "stt":
			fmt.Printf("\r\033[K[TRANSCRIPT] %s\n", env.Text)
		case "tts":
			switch env.State {
			case "start":
				fmt.Printf("\r\033[K[TTS] speaking...\n")
			case "stop":
				fmt.Printf("\r\033[K[TTS] done\n")
				s.playbackMu.Lock()
				s.playbackBytes = nil
				s.playbackMu.Unlock()
			case "sentence_start":
				if env.Text != "" {
					fmt.Printf("\r\033[K[TTS] %q\n", env.Text)
				}
			}
		case "llm":
			fmt.Printf("\r\033[K[EMOTE] %s %s\n", env.Text, env.Emotion)
		case "server":
			fmt.Printf("\r\033[K[SERVER] status=%s\n", env.Status)
		}
	}
}

func sendHello(ctx context.Context, conn *websocket.Conn) error {
	hello := map[string]interface{}{
		"type": "hello",
		"audio_params": map[string]interface{}{
			"format":         "opus",
			"sample_rate":    codec.SampleRate,
			"channels":       codec.Channels,
			"frame_duration": codec.FrameDurationMs,
		},
		"features": map[string]bool{"mcp": false},
	}
	payload, err := json.Marshal(hello)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, payload)
}

func awaitWelcome(ctx context.Context, conn *websocket.Conn) (string, error) {
	wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	kind, data, err := conn.Read(wctx)
	if err != nil {
		return "", err
	}
	if kind != websocket.MessageText {
		return "", fmt.Errorf("devicesim: expected text welcome, got binary")
	}
	var welcome struct {
		Type      string `json:"type"`
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(data, &welcome); err != nil {
		return "", err
	}
	return welcome.SessionID, nil
}

func sendListen(conn *websocket.Conn, state, mode string) error {
	msg := map[string]string{"type": "listen", "state": state, "mode": mode}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.Write(context.Background(), websocket.MessageText, payload)
}
