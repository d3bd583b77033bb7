package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// RegisterGetTime registers the one built-in pure tool the registry ships
// with (spec.md §6 supplement): device-local wall clock in the given
// timezone, giving C5 something concrete to dispatch end-to-end in tests
// (R3 requires a pure, replayable tool).
func RegisterGetTime(r *Registry, loc *time.Location) {
	r.Register(SourcePlugin, Schema{
		Name:        "get_time",
		Description: "Returns the current device-local date and time.",
		Parameters:  map[string]interface{}{"type": "object", "properties": map[string]interface{}{}},
	}, func(ctx context.Context, args string) (Result, error) {
		now := time.Now().In(loc)
		payload, err := json.Marshal(map[string]string{
			"iso8601": now.Format(time.RFC3339),
			"display": now.Format("Monday, January 2, 2006 15:04"),
		})
		if err != nil {
			return Result{}, fmt.Errorf("tools: marshal get_time result: %w", err)
		}
		return Result{Action: ActionReqLLM, Result: string(payload)}, nil
	})
}
