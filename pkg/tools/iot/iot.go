// Package iot turns device-uploaded IoT descriptors into tool registrations,
// per spec.md §3 IoTDescriptor / §4.5: each {name, description, properties,
// methods} becomes tools named iot_<name>_<method> and
// iot_<name>_get_<prop>/set_<prop>.
package iot

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xiaozhi-go/gateway/pkg/tools"
)

type Property struct {
	Name        string
	Description string
}

type Method struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

type Descriptor struct {
	Name        string
	Description string
	Properties  []Property
	Methods     []Method
}

// Dispatcher sends a {method|get|set, property?, args?} invocation to the
// device over its control channel and waits for the device's reply. The
// connection layer supplies the concrete implementation (spec.md §6 "iot"
// upstream/downstream messages).
type Dispatcher interface {
	InvokeMethod(ctx context.Context, deviceName, method string, args string) (string, error)
	GetProperty(ctx context.Context, deviceName, property string) (string, error)
	SetProperty(ctx context.Context, deviceName, property string, value string) (string, error)
}

// RegisterDescriptor registers one IoT device's affordances as tools
// against r, using dispatcher to carry out the actual invocation.
func RegisterDescriptor(r *tools.Registry, d Descriptor, dispatcher Dispatcher) {
	for _, m := range d.Methods {
		m := m
		toolName := fmt.Sprintf("iot_%s_%s", d.Name, m.Name)
		r.Register(tools.SourceIoT, tools.Schema{
			Name:        toolName,
			Description: m.Description,
			Parameters:  m.Parameters,
		}, func(ctx context.Context, args string) (tools.Result, error) {
			reply, err := dispatcher.InvokeMethod(ctx, d.Name, m.Name, args)
			if err != nil {
				return tools.Result{}, fmt.Errorf("iot: invoke %s.%s: %w", d.Name, m.Name, err)
			}
			return tools.Result{Action: tools.ActionReqLLM, Result: reply}, nil
		})
	}

	for _, p := range d.Properties {
		p := p

		getName := fmt.Sprintf("iot_%s_get_%s", d.Name, p.Name)
		r.Register(tools.SourceIoT, tools.Schema{
			Name:        getName,
			Description: "Get " + p.Description,
			Parameters:  map[string]interface{}{"type": "object", "properties": map[string]interface{}{}},
		}, func(ctx context.Context, args string) (tools.Result, error) {
			reply, err := dispatcher.GetProperty(ctx, d.Name, p.Name)
			if err != nil {
				return tools.Result{}, fmt.Errorf("iot: get %s.%s: %w", d.Name, p.Name, err)
			}
			return tools.Result{Action: tools.ActionReqLLM, Result: reply}, nil
		})

		setName := fmt.Sprintf("iot_%s_set_%s", d.Name, p.Name)
		r.Register(tools.SourceIoT, tools.Schema{
			Name:        setName,
			Description: "Set " + p.Description,
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"value": map[string]interface{}{"type": "string"},
				},
				"required": []string{"value"},
			},
		}, func(ctx context.Context, args string) (tools.Result, error) {
			var parsed struct {
				Value string `json:"value"`
			}
			if err := json.Unmarshal([]byte(args), &parsed); err != nil {
				return tools.Result{}, fmt.Errorf("iot: parse set %s.%s args: %w", d.Name, p.Name, err)
			}
			reply, err := dispatcher.SetProperty(ctx, d.Name, p.Name, parsed.Value)
			if err != nil {
				return tools.Result{}, fmt.Errorf("iot: set %s.%s: %w", d.Name, p.Name, err)
			}
			return tools.Result{Action: tools.ActionReqLLM, Result: reply}, nil
		})
	}
}
