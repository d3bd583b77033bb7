// Package tools implements the Tool Registry (C5): a uniform dispatch
// surface over plugin, IoT, server-MCP and device-MCP tools. It follows the
// teacher's provider-registry shape (pkg/orchestrator/orchestrator.go
// constructs concrete providers at init time rather than string-keyed
// factories; here the same idea is applied to tool sources) generalized
// to spec.md 9's "interface set per capability" redesign note.
package tools

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"
)

// Action is the disposition the orchestrator should take after a tool call
// returns.
type Action string

const (
	ActionResponse Action = "RESPONSE" // speak result.Response directly
	ActionReqLLM   Action = "REQLLM"   // feed result.Result back to the LLM
	ActionNotFound Action = "NOTFOUND"
	ActionError    Action = "ERROR"
	ActionNone     Action = "NONE"
)

type Call struct {
	ID        string
	Name      string
	Arguments string // JSON-encoded
}

type Result struct {
	Action   Action
	Result   string // fed back to the LLM on REQLLM
	Response string // spoken directly on RESPONSE/NOTFOUND/ERROR
}

// Schema describes one callable tool for the LLM's function-calling surface.
type Schema struct {
	Name        string
	Description string
	Parameters  map[string]interface{} // JSON-schema-shaped parameter spec
}

// Handler executes one tool call and produces a Result.
type Handler func(ctx context.Context, args string) (Result, error)

// Source identifies where a tool came from, used to resolve name collisions
// by source precedence: plugin > IoT > server-MCP > device-MCP.
type Source int

const (
	SourcePlugin Source = iota
	SourceIoT
	SourceServerMCP
	SourceDeviceMCP
)

func (s Source) rank() int { return int(s) }

type entry struct {
	schema  Schema
	handler Handler
	source  Source
}

var sanitizeRe = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// Sanitize maps an arbitrary tool name to the [A-Za-z0-9_-] charset the LLM
// function-calling surface requires (spec.md §3 ToolCall).
func Sanitize(name string) string {
	return sanitizeRe.ReplaceAllString(name, "_")
}

// Registry is the per-connection tool dispatch surface. Plugin tools are
// typically registered once at process startup and shared read-only;
// IoT/MCP tools are registered per connection as descriptors arrive.
type Registry struct {
	mu         sync.RWMutex
	bySanitary map[string]*entry
	original   map[string]string // sanitized -> original name, per source bucket semantics

	initDone chan struct{}
	initOnce sync.Once
}

func NewRegistry() *Registry {
	return &Registry{
		bySanitary: make(map[string]*entry),
		original:   make(map[string]string),
		initDone:   make(chan struct{}),
	}
}

// Register adds one tool. If the sanitized name collides with an existing
// entry from another source, the new entry wins only if its source outranks
// (is earlier in plugin > IoT > server-MCP > device-MCP) the existing one; a
// registration from the same source replaces the existing entry.
func (r *Registry) Register(source Source, schema Schema, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sanitized := Sanitize(schema.Name)
	existing, ok := r.bySanitary[sanitized]
	if ok && existing.source.rank() <= source.rank() && existing.source != source {
		return
	}
	r.bySanitary[sanitized] = &entry{schema: schema, handler: handler, source: source}
	r.original[sanitized] = schema.Name
}

// MarkInitDone signals that asynchronous tool-source initialization (e.g.
// spawning MCP child processes) has completed; handlers registered before
// this point are now safe to call concurrently from multiple turns.
func (r *Registry) MarkInitDone() {
	r.initOnce.Do(func() { close(r.initDone) })
}

// WaitInit blocks until MarkInitDone or the 5-second IoT-handler init
// timeout elapses, whichever comes first (spec.md §4.5).
func (r *Registry) WaitInit(ctx context.Context) error {
	select {
	case <-r.initDone:
		return nil
	case <-time.After(5 * time.Second):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetFunctions returns the schema for every registered tool, for the LLM
// driver's function-calling surface.
func (r *Registry) GetFunctions() []Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Schema, 0, len(r.bySanitary))
	for _, e := range r.bySanitary {
		out = append(out, e.schema)
	}
	return out
}

// HandleLLMFunctionCall dispatches one tool call by its sanitized name.
func (r *Registry) HandleLLMFunctionCall(ctx context.Context, call Call) Result {
	r.mu.RLock()
	e, ok := r.bySanitary[Sanitize(call.Name)]
	r.mu.RUnlock()

	if !ok {
		return Result{Action: ActionNotFound, Response: fmt.Sprintf("no such tool: %s", call.Name)}
	}

	result, err := e.handler(ctx, call.Arguments)
	if err != nil {
		return Result{Action: ActionError, Response: err.Error()}
	}
	return result
}
