package processors

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Registry is a thread-safe, name-keyed Tool lookup. It satisfies
// ToolRegistry.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any existing tool of the same name.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Lookup implements ToolRegistry.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// ToolExecConfig bounds a single tool call's execution: a per-call timeout
// and an optional retry with fixed backoff on failure.
type ToolExecConfig struct {
	PerCallTimeout time.Duration // default 30s
	MaxAttempts    int           // default 1 (no retry)
	RetryBackoff   time.Duration
}

// DefaultToolExecConfig returns the defaults applied when a zero-value
// ToolExecConfig is supplied.
func DefaultToolExecConfig() ToolExecConfig {
	return ToolExecConfig{PerCallTimeout: 30 * time.Second, MaxAttempts: 1}
}

func (c ToolExecConfig) withDefaults() ToolExecConfig {
	if c.PerCallTimeout <= 0 {
		c.PerCallTimeout = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	return c
}

// runTool executes tool with cfg's timeout and retry policy, returning the
// last attempt's result. It never returns early on a non-final failed
// attempt — the caller only sees the final outcome.
func runTool(ctx context.Context, tool Tool, cfg ToolExecConfig, execCtx ToolExecContext, input json.RawMessage) (string, error) {
	cfg = cfg.withDefaults()

	var result string
	var err error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, cfg.PerCallTimeout)
		result, err = tool.Execute(callCtx, execCtx, input)
		cancel()

		if err == nil {
			return result, nil
		}
		if callCtx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("tool %q timed out after %s: %w", tool.Name(), cfg.PerCallTimeout, callCtx.Err())
		}
		if attempt < cfg.MaxAttempts && cfg.RetryBackoff > 0 {
			select {
			case <-time.After(cfg.RetryBackoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	return "", err
}
