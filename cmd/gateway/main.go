package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/xiaozhi-go/gateway/pkg/asr"
	"github.com/xiaozhi-go/gateway/pkg/codec"
	"github.com/xiaozhi-go/gateway/pkg/config"
	"github.com/xiaozhi-go/gateway/pkg/dialogue"
	"github.com/xiaozhi-go/gateway/pkg/gateway"
	"github.com/xiaozhi-go/gateway/pkg/intent"
	"github.com/xiaozhi-go/gateway/pkg/llm"
	"github.com/xiaozhi-go/gateway/pkg/logging"
	"github.com/xiaozhi-go/gateway/pkg/memory"
	asrProvider "github.com/xiaozhi-go/gateway/pkg/providers/asr"
	llmProvider "github.com/xiaozhi-go/gateway/pkg/providers/llm"
	ttsProvider "github.com/xiaozhi-go/gateway/pkg/providers/tts"
	"github.com/xiaozhi-go/gateway/pkg/tools"
	"github.com/xiaozhi-go/gateway/pkg/tools/mcp"
	"github.com/xiaozhi-go/gateway/pkg/tts"
	"github.com/xiaozhi-go/gateway/pkg/vad"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the gateway's YAML config file")
	dev := flag.Bool("dev", false, "enable development (console) logging")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, using system environment variables")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Error: loading config: %v", err)
	}

	logger, err := logging.New(*dev)
	if err != nil {
		log.Fatalf("Error: building logger: %v", err)
	}

	snapshot := cfg.Snapshot()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	providers, serverMCP, err := buildProviders(ctx, snapshot)
	if err != nil {
		log.Fatalf("Error: building providers: %v", err)
	}
	if serverMCP != nil {
		defer serverMCP.Close()
	}

	acceptor := gateway.NewAcceptor(cfg, providers, logger)

	logger.Info("gateway: listening", "addr", snapshot.ListenAddr)
	if err := acceptor.Serve(ctx); err != nil {
		log.Fatalf("Error: serving: %v", err)
	}
	logger.Info("gateway: shut down cleanly")
}

// buildProviders constructs the process-wide provider handles a Connection
// clones or consults per-socket, selecting each concrete backend from
// cfg.Providers the way the teacher's cmd/agent selects backends from
// STT_PROVIDER/LLM_PROVIDER env vars, generalized to the gateway's YAML
// provider-selection block.
func buildProviders(ctx context.Context, cfg config.Snapshot) (gateway.Providers, *mcp.ServerSet, error) {
	var providers gateway.Providers

	providers.VADGate = vad.NewRMSGate(0.02, 500*time.Millisecond, 7)

	asrProv, err := buildASR(cfg.Providers.ASR)
	if err != nil {
		return providers, nil, err
	}
	providers.ASRProvider = asrProv

	llmDriver, err := buildLLM(cfg.Providers.LLM)
	if err != nil {
		return providers, nil, err
	}
	providers.LLMProvider = llmDriver

	pipeline, err := buildTTS(cfg.Providers.TTS)
	if err != nil {
		return providers, nil, err
	}
	providers.TTSPipeline = pipeline

	mem, err := memory.NewLocalShort(cfg.MemoryPath)
	if err != nil {
		return providers, nil, err
	}
	providers.Memory = mem

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		loc = time.UTC
	}
	providers.ToolRegistry = tools.NewRegistry()
	tools.RegisterGetTime(providers.ToolRegistry, loc)

	serverMCP := buildServerMCP(ctx, cfg.MCPSettings, providers.ToolRegistry)

	providers.ToolRegistry.MarkInitDone()

	providers.PromptBuilder = dialogue.NewPromptBuilder(cfg.BasePrompt)

	if cfg.Providers.Intent != "" && cfg.Providers.Intent != string(intent.ModeNone) {
		var classifier llm.Provider
		if cfg.Providers.Intent == string(intent.ModeIntentLLM) {
			classifier = llmDriver
		}
		providers.IntentRouter = intent.NewRouter(intent.Mode(cfg.Providers.Intent), classifier, intent.NewWakeWordMatcher(nil), 256, cfg.BasePrompt)
	}

	return providers, serverMCP, nil
}

// buildServerMCP connects every server-MCP backend listed in settingsPath
// (config.Snapshot.MCPSettings) and imports their tools into r under
// SourceServerMCP. A server that fails to connect is logged and skipped
// rather than aborting startup, the same non-fatal-fallback posture as
// buildLLM's groq/google fallback below: one broken MCP server shouldn't
// take down the whole gateway.
func buildServerMCP(ctx context.Context, settingsPath string, r *tools.Registry) *mcp.ServerSet {
	if settingsPath == "" {
		return nil
	}
	configs, err := mcp.LoadServerConfigs(settingsPath)
	if err != nil {
		log.Printf("Warning: loading mcp_settings_path %q: %v", settingsPath, err)
		return nil
	}
	if len(configs) == 0 {
		return nil
	}
	servers := mcp.NewServerSet()
	for _, c := range configs {
		if err := servers.Connect(ctx, c, r); err != nil {
			log.Printf("Warning: connecting MCP server %q: %v", c.Name, err)
		}
	}
	return servers
}

func buildASR(name string) (asr.Provider, error) {
	switch name {
	case "openai":
		key := requireEnv("OPENAI_API_KEY")
		model := os.Getenv("OPENAI_ASR_MODEL")
		if model == "" {
			model = "whisper-1"
		}
		return asrProvider.NewOpenAIASR(key, model), nil
	case "deepgram":
		return asrProvider.NewDeepgramASR(requireEnv("DEEPGRAM_API_KEY")), nil
	case "assemblyai":
		return asrProvider.NewAssemblyAIASR(requireEnv("ASSEMBLYAI_API_KEY")), nil
	case "groq", "":
		model := os.Getenv("GROQ_ASR_MODEL")
		if model == "" {
			model = "whisper-large-v3-turbo"
		}
		return asrProvider.NewGroqASR(requireEnv("GROQ_API_KEY"), model), nil
	default:
		log.Fatalf("Error: unknown providers.asr %q", name)
		return nil, nil
	}
}

// buildLLM selects the main-dialogue LLM driver. Only Anthropic and OpenAI
// drivers exist under pkg/providers/llm today (unlike the teacher's
// cmd/agent, which also offers Groq/Google LLM backends); "groq" and
// "google" are accepted as config values but fall back to OpenAI with a
// warning rather than fail the whole process.
func buildLLM(name string) (llm.Provider, error) {
	switch name {
	case "anthropic":
		model := os.Getenv("ANTHROPIC_MODEL")
		if model == "" {
			model = "claude-3-5-sonnet-latest"
		}
		return llmProvider.NewAnthropicDriver(requireEnv("ANTHROPIC_API_KEY"), model), nil
	case "groq", "google":
		log.Printf("Warning: providers.llm %q has no driver yet, falling back to openai", name)
		fallthrough
	case "openai", "":
		model := os.Getenv("OPENAI_MODEL")
		if model == "" {
			model = "gpt-4o-mini"
		}
		return llmProvider.NewOpenAIDriver(requireEnv("OPENAI_API_KEY"), model), nil
	default:
		log.Fatalf("Error: unknown providers.llm %q", name)
		return nil, nil
	}
}

func buildTTS(name string) (*tts.Pipeline, error) {
	enc, err := codec.NewEncoder()
	if err != nil {
		return nil, err
	}
	switch name {
	case "lokutor", "":
		lokutor := ttsProvider.NewLokutorTTS(requireEnv("LOKUTOR_API_KEY"))
		return tts.NewPipelineSingleStream(lokutor, "", "", enc), nil
	default:
		log.Fatalf("Error: unknown providers.tts %q", name)
		return nil, nil
	}
}

func requireEnv(name string) string {
	v := os.Getenv(name)
	if v == "" {
		log.Fatalf("Error: %s must be set", name)
	}
	return v
}
