package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/xiaozhi-go/gateway/pkg/tools/iot"
	devicemcp "github.com/xiaozhi-go/gateway/pkg/tools/mcp"
)

// SendMCPRequest implements mcp.Sender: it wraps req as a downstream
// {type:"mcp", payload:<JSON-RPC>} message (spec.md §6) and writes it to
// the device. Used by the per-connection devicemcp.DeviceProxy discovered
// at INIT when the client's hello advertises mcp support.
func (c *Connection) SendMCPRequest(req devicemcp.Request) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("gateway: marshaling device mcp request: %w", err)
	}
	envelope := struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}{Type: "mcp", Payload: payload}

	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("gateway: marshaling mcp envelope: %w", err)
	}
	return c.transport.WriteText(context.Background(), data)
}

// downstreamIoTCommand is the {type:"iot", command:{...}} message a
// Connection sends to invoke one device affordance. spec.md §6 defines the
// "iot" upstream shape only for descriptor upload and state sync, with no
// request/response id scheme for commands the way "mcp" has JSON-RPC ids;
// dispatch here is therefore fire-and-forget, and the returned string is a
// send acknowledgement rather than a confirmed device reply.
type downstreamIoTCommand struct {
	Type    string `json:"type"`
	Command struct {
		Device   string `json:"device"`
		Action   string `json:"action"` // invoke|get|set
		Method   string `json:"method,omitempty"`
		Property string `json:"property,omitempty"`
		Value    string `json:"value,omitempty"`
	} `json:"command"`
}

func (c *Connection) sendIoTCommand(ctx context.Context, device, action, method, property, value string) (string, error) {
	msg := downstreamIoTCommand{Type: "iot"}
	msg.Command.Device = device
	msg.Command.Action = action
	msg.Command.Method = method
	msg.Command.Property = property
	msg.Command.Value = value

	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("gateway: marshaling iot command: %w", err)
	}
	if err := c.transport.WriteText(ctx, data); err != nil {
		return "", fmt.Errorf("gateway: sending iot command: %w", err)
	}
	return fmt.Sprintf("%s command sent to %s", action, device), nil
}

// InvokeMethod, GetProperty and SetProperty implement iot.Dispatcher,
// letting the Connection itself serve as the per-device command channel
// iot.RegisterDescriptor's tool handlers call into.
func (c *Connection) InvokeMethod(ctx context.Context, deviceName, method string, args string) (string, error) {
	return c.sendIoTCommand(ctx, deviceName, "invoke", method, "", args)
}

func (c *Connection) GetProperty(ctx context.Context, deviceName, property string) (string, error) {
	return c.sendIoTCommand(ctx, deviceName, "get", "", property, "")
}

func (c *Connection) SetProperty(ctx context.Context, deviceName, property, value string) (string, error) {
	return c.sendIoTCommand(ctx, deviceName, "set", "", property, value)
}

var _ iot.Dispatcher = (*Connection)(nil)
var _ devicemcp.Sender = (*Connection)(nil)

// restartProcess implements spec.md §6 "server.restart": spawn a successor
// process with the same arguments, then exit this one after a short grace
// period so the "ok" acknowledgement and any in-flight writes have time to
// reach the socket.
func (c *Connection) restartProcess() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("gateway: resolving executable for restart: %w", err)
	}

	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("gateway: spawning successor process: %w", err)
	}

	go func() {
		time.Sleep(2 * time.Second)
		os.Exit(0)
	}()
	return nil
}
