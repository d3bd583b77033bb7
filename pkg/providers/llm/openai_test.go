package llm

import (
	"testing"

	"github.com/xiaozhi-go/gateway/pkg/dialogue"
	"github.com/xiaozhi-go/gateway/pkg/tools"
)

func TestBuildOpenAIParamsConvertsRoles(t *testing.T) {
	messages := []dialogue.Message{
		{Role: dialogue.RoleSystem, Content: "be helpful"},
		{Role: dialogue.RoleUser, Content: "hi"},
		{Role: dialogue.RoleAssistant, Content: "", ToolCalls: []dialogue.ToolCallRef{{ID: "c1", Name: "get_weather", Arguments: "{}"}}},
		{Role: dialogue.RoleTool, Content: "sunny", ToolCallID: "c1"},
	}

	params, err := buildOpenAIParams("gpt-4o", messages, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(params.Messages) != 4 {
		t.Fatalf("expected 4 converted messages, got %d", len(params.Messages))
	}
	if string(params.Model) != "gpt-4o" {
		t.Errorf("unexpected model: %q", params.Model)
	}
}

func TestBuildOpenAIParamsIncludesTools(t *testing.T) {
	schemas := []tools.Schema{{Name: "get_time", Description: "current time", Parameters: map[string]interface{}{"type": "object"}}}

	params, err := buildOpenAIParams("gpt-4o", nil, schemas)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(params.Tools) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(params.Tools))
	}
	if params.Tools[0].Function.Name != "get_time" {
		t.Errorf("unexpected tool name: %q", params.Tools[0].Function.Name)
	}
}

func TestBuildOpenAIParamsRejectsUnknownRole(t *testing.T) {
	_, err := buildOpenAIParams("gpt-4o", []dialogue.Message{{Role: "bogus", Content: "x"}}, nil)
	if err == nil {
		t.Fatal("expected an error for an unknown message role")
	}
}

func TestOpenAIDriverName(t *testing.T) {
	d := NewOpenAIDriver("test-key", "")
	if d.Name() != "openai" {
		t.Errorf("unexpected driver name: %q", d.Name())
	}
}
