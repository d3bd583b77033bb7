// Package memory implements the Memory provider contract (spec.md §3
// "Connection... Memory... provider handles"): a per-device conversation
// summary consulted by Dialogue's memory-augmented view and refreshed by a
// transient background save task after each turn.
//
// Grounded on pkg/config/config.go's YAML loading (same library, same
// file-backed document idea), extended with saving and generalized from one process-wide
// document to a map keyed by device-id (spec.md §6 "Persisted state").
package memory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Provider is implemented by each concrete memory backend.
type Provider interface {
	// GetSummary returns the stored summary for deviceID, or ("", false, nil)
	// if none exists yet.
	GetSummary(ctx context.Context, deviceID string) (string, bool, error)
	// SaveSummary stores (replacing) the summary for deviceID.
	SaveSummary(ctx context.Context, deviceID, summary string) error
	Name() string
}

// document is the on-disk shape of data/.memory.yaml: a flat map from
// device-id to its summary (spec.md §6, "either a free-form summary string
// or a structured JSON string produced by the memory-summarization prompt"
// — both are opaque strings from this package's point of view).
type document struct {
	Summaries map[string]string `yaml:"summaries"`
}

// LocalShort is the local, short-window Memory implementation: an
// in-memory map backed by a YAML file, flushed to disk on every save.
type LocalShort struct {
	path string

	mu        sync.RWMutex
	summaries map[string]string
}

// NewLocalShort loads path if it exists (a missing file is not an error —
// the gateway starts with an empty memory store on first run).
func NewLocalShort(path string) (*LocalShort, error) {
	m := &LocalShort{path: path, summaries: make(map[string]string)}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, fmt.Errorf("memory: read %s: %w", path, err)
	}

	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("memory: parse %s: %w", path, err)
	}
	if doc.Summaries != nil {
		m.summaries = doc.Summaries
	}
	return m, nil
}

func (m *LocalShort) GetSummary(ctx context.Context, deviceID string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	summary, ok := m.summaries[deviceID]
	return summary, ok, nil
}

// SaveSummary updates the in-memory map and synchronously flushes the whole
// document to disk. Callers run this from a transient background task
// (spec.md §5) so a slow disk never blocks the connection's dialogue turn.
func (m *LocalShort) SaveSummary(ctx context.Context, deviceID, summary string) error {
	m.mu.Lock()
	m.summaries[deviceID] = summary
	doc := document{Summaries: make(map[string]string, len(m.summaries))}
	for k, v := range m.summaries {
		doc.Summaries[k] = v
	}
	m.mu.Unlock()

	return m.flush(doc)
}

func (m *LocalShort) flush(doc document) error {
	raw, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("memory: marshal: %w", err)
	}

	if dir := filepath.Dir(m.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("memory: create %s: %w", dir, err)
		}
	}

	if err := os.WriteFile(m.path, raw, 0o644); err != nil {
		return fmt.Errorf("memory: write %s: %w", m.path, err)
	}
	return nil
}

func (m *LocalShort) Name() string {
	return "local_short"
}

// SaveAsync runs SaveSummary on a new goroutine, matching spec.md §5's
// "transient background tasks for memory save" — callers that don't need
// to observe completion (the common case, at end of turn) use this instead
// of blocking the connection's main loop on disk I/O. Errors are reported
// through onError if non-nil.
func SaveAsync(ctx context.Context, p Provider, deviceID, summary string, onError func(error)) {
	go func() {
		if err := p.SaveSummary(ctx, deviceID, summary); err != nil && onError != nil {
			onError(err)
		}
	}()
}
