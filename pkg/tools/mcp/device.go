package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xiaozhi-go/gateway/pkg/tools"
)

// Request is a JSON-RPC 2.0 request sent to the device over its control
// channel (spec.md §6 "{type:"mcp", payload:<JSON-RPC>}").
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is the device's JSON-RPC reply.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Sender delivers a {type:"mcp",...} JSON-RPC request to the device.
type Sender interface {
	SendMCPRequest(req Request) error
}

type deviceTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// DeviceProxy proxies a device's self-described MCP tools into a
// tools.Registry, registering each under SourceDeviceMCP and dispatching
// calls as JSON-RPC requests over Sender, correlating replies by request id.
type DeviceProxy struct {
	sender Sender
	nextID int64

	mu      sync.Mutex
	pending map[int64]chan Response
}

func NewDeviceProxy(sender Sender) *DeviceProxy {
	return &DeviceProxy{sender: sender, pending: make(map[int64]chan Response)}
}

// HandleResponse routes a device's JSON-RPC reply to the caller awaiting it.
func (p *DeviceProxy) HandleResponse(resp Response) {
	p.mu.Lock()
	ch, ok := p.pending[resp.ID]
	if ok {
		delete(p.pending, resp.ID)
	}
	p.mu.Unlock()
	if ok {
		ch <- resp
	}
}

func (p *DeviceProxy) call(ctx context.Context, method string, params json.RawMessage) (Response, error) {
	id := atomic.AddInt64(&p.nextID, 1)
	ch := make(chan Response, 1)

	p.mu.Lock()
	p.pending[id] = ch
	p.mu.Unlock()

	if err := p.sender.SendMCPRequest(Request{JSONRPC: "2.0", ID: id, Method: method, Params: params}); err != nil {
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
		return Response{}, fmt.Errorf("mcp: send request to device: %w", err)
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
		return Response{}, ctx.Err()
	case <-time.After(10 * time.Second):
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
		return Response{}, fmt.Errorf("mcp: device call %q timed out", method)
	}
}

// Discover asks the device to list its tools and registers each on r under
// SourceDeviceMCP, dispatching calls as tools/call JSON-RPC requests.
func (p *DeviceProxy) Discover(ctx context.Context, r *tools.Registry) error {
	resp, err := p.call(ctx, "tools/list", nil)
	if err != nil {
		return fmt.Errorf("mcp: discover device tools: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("mcp: device tools/list error: %s", resp.Error.Message)
	}

	var listing struct {
		Tools []deviceTool `json:"tools"`
	}
	if err := json.Unmarshal(resp.Result, &listing); err != nil {
		return fmt.Errorf("mcp: parse device tools/list result: %w", err)
	}

	for _, t := range listing.Tools {
		t := t
		r.Register(tools.SourceDeviceMCP, tools.Schema{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  schemaToMap(json.RawMessage(t.InputSchema)),
		}, func(ctx context.Context, args string) (tools.Result, error) {
			params, err := json.Marshal(map[string]json.RawMessage{"name": rawString(t.Name), "arguments": json.RawMessage(args)})
			if err != nil {
				return tools.Result{}, fmt.Errorf("mcp: marshal call params for %q: %w", t.Name, err)
			}
			callResp, err := p.call(ctx, "tools/call", params)
			if err != nil {
				return tools.Result{}, err
			}
			if callResp.Error != nil {
				return tools.Result{Action: tools.ActionError, Response: callResp.Error.Message}, nil
			}
			return tools.Result{Action: tools.ActionReqLLM, Result: string(callResp.Result)}, nil
		})
	}
	return nil
}

func rawString(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}
