// Package mcp implements the server-MCP half of the Tool Registry (C5):
// connecting to external MCP servers over stdio or streamable-HTTP using
// the official MCP Go SDK and importing their tool catalogue into a
// tools.Registry, grounded on
// _examples/MrWong99-glyphoxa/internal/mcp/mcphost/host.go's RegisterServer
// pattern.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"gopkg.in/yaml.v3"

	"github.com/xiaozhi-go/gateway/pkg/tools"
)

type Transport string

const (
	TransportStdio          Transport = "stdio"
	TransportStreamableHTTP Transport = "streamable_http"
)

type ServerConfig struct {
	Name      string            `yaml:"name"`
	Transport Transport         `yaml:"transport"`
	Command   string            `yaml:"command,omitempty"` // for TransportStdio: "executable arg1 arg2"
	Env       map[string]string `yaml:"env,omitempty"`     // for TransportStdio
	URL       string            `yaml:"url,omitempty"`     // for TransportStreamableHTTP
}

// ServerSet manages live connections to configured MCP servers and registers
// their discovered tools against a shared tools.Registry.
type ServerSet struct {
	mu       sync.Mutex
	client   *mcpsdk.Client
	sessions map[string]*mcpsdk.ClientSession
}

func NewServerSet() *ServerSet {
	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "xiaozhi-gateway", Version: "1.0.0"}, nil)
	return &ServerSet{client: client, sessions: make(map[string]*mcpsdk.ClientSession)}
}

// Connect dials cfg's server, lists its tools, and registers each one on r
// under SourceServerMCP.
func (s *ServerSet) Connect(ctx context.Context, cfg ServerConfig, r *tools.Registry) error {
	var transport mcpsdk.Transport
	switch cfg.Transport {
	case TransportStdio:
		executable, args := splitCommand(cfg.Command)
		if executable == "" {
			return fmt.Errorf("mcp: stdio server %q requires a non-empty command", cfg.Name)
		}
		cmd := exec.CommandContext(ctx, executable, args...)
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}
	case TransportStreamableHTTP:
		if cfg.URL == "" {
			return fmt.Errorf("mcp: streamable-http server %q requires a non-empty URL", cfg.Name)
		}
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
	default:
		return fmt.Errorf("mcp: unknown transport %q for server %q", cfg.Transport, cfg.Name)
	}

	session, err := s.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("mcp: connect to server %q: %w", cfg.Name, err)
	}

	s.mu.Lock()
	if old, ok := s.sessions[cfg.Name]; ok {
		_ = old.Close()
	}
	s.sessions[cfg.Name] = session
	s.mu.Unlock()

	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return fmt.Errorf("mcp: list tools for server %q: %w", cfg.Name, err)
		}
		registerMCPTool(r, session, *tool)
	}
	return nil
}

func registerMCPTool(r *tools.Registry, session *mcpsdk.ClientSession, tool mcpsdk.Tool) {
	schema := tools.Schema{
		Name:        tool.Name,
		Description: tool.Description,
		Parameters:  schemaToMap(tool.InputSchema),
	}
	r.Register(tools.SourceServerMCP, schema, func(ctx context.Context, args string) (tools.Result, error) {
		var argsMap map[string]any
		if args != "" && args != "{}" {
			if err := json.Unmarshal([]byte(args), &argsMap); err != nil {
				return tools.Result{}, fmt.Errorf("mcp: invalid args for %q: %w", tool.Name, err)
			}
		}
		callResult, err := session.CallTool(ctx, &mcpsdk.CallToolParams{Name: tool.Name, Arguments: argsMap})
		if err != nil {
			return tools.Result{}, fmt.Errorf("mcp: call %q: %w", tool.Name, err)
		}
		var sb strings.Builder
		for _, c := range callResult.Content {
			if tc, ok := c.(*mcpsdk.TextContent); ok {
				sb.WriteString(tc.Text)
			}
		}
		if callResult.IsError {
			return tools.Result{Action: tools.ActionError, Response: sb.String()}, nil
		}
		return tools.Result{Action: tools.ActionReqLLM, Result: sb.String()}, nil
	})
}

func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	return m
}

func splitCommand(command string) (executable string, args []string) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return "", nil
	}
	return parts[0], parts[1:]
}

// settingsDocument is the on-disk shape of config.Config.MCPSettings
// (mcp_settings_path): a flat list of server-MCP backends to connect at
// startup, following the same YAML-file-keyed-by-name convention as
// pkg/config and pkg/memory's on-disk documents.
type settingsDocument struct {
	Servers []ServerConfig `yaml:"servers"`
}

// LoadServerConfigs reads path's YAML server list. A missing file is not an
// error — server-MCP is optional, so a deployment with no MCP servers
// configured simply omits mcp_settings_path or points it at a file that
// doesn't exist yet.
func LoadServerConfigs(path string) ([]ServerConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("mcp: read %s: %w", path, err)
	}
	var doc settingsDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("mcp: parse %s: %w", path, err)
	}
	return doc.Servers, nil
}

// Close shuts down every connected server session.
func (s *ServerSet) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for name, session := range s.sessions {
		if err := session.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("mcp: close server %q: %w", name, err)
		}
	}
	s.sessions = make(map[string]*mcpsdk.ClientSession)
	return firstErr
}
