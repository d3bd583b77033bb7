package gateway

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/xiaozhi-go/gateway/pkg/asr"
	"github.com/xiaozhi-go/gateway/pkg/codec"
	"github.com/xiaozhi-go/gateway/pkg/config"
	"github.com/xiaozhi-go/gateway/pkg/dialogue"
	"github.com/xiaozhi-go/gateway/pkg/intent"
	"github.com/xiaozhi-go/gateway/pkg/llm"
	"github.com/xiaozhi-go/gateway/pkg/logging"
	"github.com/xiaozhi-go/gateway/pkg/memory"
	"github.com/xiaozhi-go/gateway/pkg/tools"
	devicemcp "github.com/xiaozhi-go/gateway/pkg/tools/mcp"
	"github.com/xiaozhi-go/gateway/pkg/tts"
	"github.com/xiaozhi-go/gateway/pkg/vad"
)

// State is one node of the HANDSHAKE→AUTH→INIT→IDLE↔LISTENING↔THINKING↔
// SPEAKING→CLOSING machine (spec.md §4.8).
type State int32

const (
	StateHandshake State = iota
	StateAuth
	StateInit
	StateIdle
	StateListening
	StateThinking
	StateSpeaking
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateHandshake:
		return "HANDSHAKE"
	case StateAuth:
		return "AUTH"
	case StateInit:
		return "INIT"
	case StateIdle:
		return "IDLE"
	case StateListening:
		return "LISTENING"
	case StateThinking:
		return "THINKING"
	case StateSpeaking:
		return "SPEAKING"
	case StateClosing:
		return "CLOSING"
	default:
		return "UNKNOWN"
	}
}

// MessageKind distinguishes the two WebSocket frame kinds a Transport moves:
// JSON control text and binary audio.
type MessageKind int

const (
	KindText MessageKind = iota
	KindBinary
)

// Transport is the socket-facing seam Connection drives, implemented by
// wsTransport (pkg/gateway/transport.go) over a real *websocket.Conn and by
// fakes in tests.
type Transport interface {
	Read(ctx context.Context) (MessageKind, []byte, error)
	WriteText(ctx context.Context, data []byte) error
	WriteBinary(ctx context.Context, data []byte) error
	Close(reason string) error
	RemoteAddr() string
}

// Providers bundles every provider handle a Connection owns (spec.md §3
// "Connection... owns... VAD/ASR/LLM/TTS/Memory/Intent provider handles").
// Local VAD/ASR models are process-wide and read-only after load; Clone()
// on vad.Gate gives each connection its own per-stream state cheaply
// (spec.md §5 "Shared resources").
type Providers struct {
	VADGate       vad.Gate
	ASRProvider   asr.Provider
	LLMProvider   llm.Provider
	TTSPipeline   *tts.Pipeline
	Memory        memory.Provider
	IntentRouter  *intent.Router
	ToolRegistry  *tools.Registry
	PromptBuilder *dialogue.PromptBuilder
}

// Connection is the per-socket Connection Orchestrator (C8): it owns the
// dialogue, the provider handles, and the state machine, and is driven
// entirely from its own goroutines spawned by Run (single-writer discipline,
// SPEC_FULL.md Open Question decision #2).
type Connection struct {
	ID       string // session_id (opaque UUID)
	DeviceID string
	ClientID string
	RealIP   string

	state int32 // atomic State

	// Protocol flags (spec.md §4.8/§9): promoted to Connection fields with
	// atomic access from the single owning goroutine plus read-only
	// observation from the sender/idle workers, per DESIGN NOTES' "promote
	// per-connection mutable globals to fields with a single owning task".
	speaking    int32 // atomic bool: client_is_speaking
	clientAbort int32 // atomic bool
	listenMode  atomic.Value // string

	closeAfterChat int32 // atomic bool

	AudioFormat string // "opus"|"pcm"

	Dialogue *dialogue.Store
	Tools    *tools.Registry

	providers Providers
	cfg       config.Snapshot
	logger    logging.Logger

	transport Transport

	audioRouter *AudioRouter
	segmenter   *tts.Segmenter
	transducer  *llm.Transducer
	deviceProxy *devicemcp.DeviceProxy

	generation int64 // bumped on barge-in; invalidates stale async sends

	lastActivityMu sync.Mutex
	lastActivity   time.Time

	closeOnce sync.Once
	closed    chan struct{}
}

// New builds a Connection in StateHandshake. The caller (Acceptor) runs
// Authenticate for the device; Run itself moves the connection to INIT and
// on from there. useHeader selects the
// MQTT-gateway 16-byte audio header variant (spec.md §6 "?from=mqtt_gateway").
func New(deviceID, clientID, realIP string, cfg config.Snapshot, providers Providers, transport Transport, logger logging.Logger, useHeader bool) (*Connection, error) {
	c := &Connection{
		ID:         uuid.NewString(),
		DeviceID:   deviceID,
		ClientID:   clientID,
		RealIP:     realIP,
		cfg:        cfg,
		providers:  providers,
		logger:     logger,
		transport:  transport,
		Dialogue:   dialogue.NewStore(),
		Tools:      providers.ToolRegistry,
		segmenter:  tts.NewSegmenter(),
		transducer: llm.NewTransducer(),
		closed:     make(chan struct{}),
	}
	c.listenMode.Store(ListenModeAuto)
	c.setState(StateHandshake)
	c.touchActivity(time.Now())

	decoder, err := codec.NewDecoder()
	if err != nil {
		return nil, err
	}
	gate := providers.VADGate
	if gate != nil {
		gate = gate.Clone()
	}
	asrSession := asr.NewSession(providers.ASRProvider, "")
	c.audioRouter = NewAudioRouter(decoder, gate, asrSession, useHeader)

	return c, nil
}

func (c *Connection) State() State {
	return State(atomic.LoadInt32(&c.state))
}

func (c *Connection) setState(s State) {
	atomic.StoreInt32(&c.state, int32(s))
}

func (c *Connection) isSpeaking() bool {
	return atomic.LoadInt32(&c.speaking) == 1
}

func (c *Connection) setSpeaking(v bool) {
	var i int32
	if v {
		i = 1
	}
	atomic.StoreInt32(&c.speaking, i)
}

func (c *Connection) isClientAbort() bool {
	return atomic.LoadInt32(&c.clientAbort) == 1
}

func (c *Connection) setClientAbort(v bool) {
	var i int32
	if v {
		i = 1
	}
	atomic.StoreInt32(&c.clientAbort, i)
}

func (c *Connection) listenModeStr() string {
	if v, ok := c.listenMode.Load().(string); ok {
		return v
	}
	return ListenModeAuto
}

func (c *Connection) touchActivity(now time.Time) {
	c.lastActivityMu.Lock()
	c.lastActivity = now
	c.lastActivityMu.Unlock()
}

func (c *Connection) idleSince(now time.Time) time.Duration {
	c.lastActivityMu.Lock()
	defer c.lastActivityMu.Unlock()
	return now.Sub(c.lastActivity)
}
