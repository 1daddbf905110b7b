package processors

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/conclavehq/conclave/pkg/models"
)

// Tool is a named, executable capability a tool-call event can invoke. The
// execution context carries the thread/sender identity and the namespace.
type Tool interface {
	Name() string
	Execute(ctx context.Context, call ToolExecContext, input json.RawMessage) (string, error)
}

// ToolExecContext is what a tool invocation receives: the thread ID, the
// sender ID and the namespace. It carries no database handle, agent
// directory, asset store or namespace-scoped collections.
type ToolExecContext struct {
	ThreadID  string
	SenderID  string
	Namespace string
}

// ToolRegistry looks tools up by name.
type ToolRegistry interface {
	Lookup(name string) (Tool, bool)
}

// BatchTracker records per-batch completion progress so the processor knows
// when every call in a batch has a result. *queue.Store.IncrementBatchProgress
// satisfies this.
type BatchTracker interface {
	IncrementBatchProgress(ctx context.Context, parentEventID string) (completed, size int, err error)
}

// ToolCallPayload is the TOOL_CALL event payload: the single call to
// execute, plus enough of its originating context to route the result and,
// once its batch completes, rebuild the follow-up LLM call.
type ToolCallPayload struct {
	Call            models.ToolCall `json:"call"`
	SenderID        string          `json:"sender_id"` // the agent that requested this call
	SourceMessageID string          `json:"source_message_id"`
}

// ToolCallProcessor implements C7: it executes one tool call, persists the
// result as a NEW_MESSAGE, and — once every call in the call's batch has
// completed — enqueues the follow-up LLM_CALL that lets the agent observe
// the results.
type ToolCallProcessor struct {
	tools   ToolRegistry
	batches BatchTracker
	store   MessageStore
	agents  AgentDirectory
	exec    ToolExecConfig
	idFunc  func() string
	now     func() time.Time
}

// NewToolCallProcessor constructs a ToolCallProcessor. A zero-value
// ToolExecConfig gets DefaultToolExecConfig's timeout/attempts.
func NewToolCallProcessor(tools ToolRegistry, batches BatchTracker, store MessageStore, agents AgentDirectory, exec ToolExecConfig) *ToolCallProcessor {
	return &ToolCallProcessor{
		tools:   tools,
		batches: batches,
		store:   store,
		agents:  agents,
		exec:    exec,
		idFunc:  func() string { return uuid.NewString() },
		now:     time.Now,
	}
}

func (p *ToolCallProcessor) Name() string { return "tool_call" }

// Process implements registry.Processor.
func (p *ToolCallProcessor) Process(ctx context.Context, e *models.Event) ([]*models.Event, error) {
	var payload ToolCallPayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return nil, fmt.Errorf("tool_call: decode payload: %w", err)
	}
	call := payload.Call

	resultContent, isError := p.execute(ctx, e, payload)

	resultPayload, err := json.Marshal(MessagePayload{
		SenderID:   call.Name,
		SenderType: models.SenderTool,
		Content:    resultContent,
		ToolCallID: call.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("tool_call: encode result message: %w", err)
	}

	resultEvent := &models.Event{
		ID:            p.idFunc(),
		ThreadID:      e.ThreadID,
		Namespace:     e.Namespace,
		Type:          models.EventTypeNewMessage,
		Payload:       resultPayload,
		ParentEventID: e.ID,
		TraceID:       e.TraceID,
		Priority:      1, // ahead of the follow-up LLM_CALL below, per dequeue order
		CreatedAt:     p.now(),
		UpdatedAt:     p.now(),
	}

	if isError {
		// §4.7: on error, emit the tool message and terminate the batch —
		// no follow-up LLM_CALL for this call's batch.
		return []*models.Event{resultEvent}, nil
	}

	// The NEW_MESSAGE event that fanned this call out (e.ParentEventID) is
	// where metadata.batch lives; batch completion is tracked there so every
	// sibling call in the batch, however many TOOL_CALL events that produced,
	// converges on the same counter.
	batchComplete, err := p.recordCompletion(ctx, call, e.ParentEventID)
	if err != nil {
		return nil, fmt.Errorf("tool_call: record batch progress: %w", err)
	}
	if !batchComplete {
		return []*models.Event{resultEvent}, nil
	}

	llmCall, err := p.buildFollowUp(ctx, e, payload)
	if err != nil {
		return nil, fmt.Errorf("tool_call: build follow-up llm call: %w", err)
	}

	return []*models.Event{resultEvent, llmCall}, nil
}

func (p *ToolCallProcessor) execute(ctx context.Context, e *models.Event, payload ToolCallPayload) (content string, isError bool) {
	call := payload.Call
	tool, ok := p.tools.Lookup(call.Name)
	if !ok {
		return fmt.Sprintf("tool %q not found", call.Name), true
	}

	result, err := runTool(ctx, tool, p.exec, ToolExecContext{
		ThreadID:  e.ThreadID,
		SenderID:  payload.SenderID,
		Namespace: e.Namespace,
	}, call.Input)
	if err != nil {
		return err.Error(), true
	}
	return result, false
}

// recordCompletion increments the batch's completed counter (or treats an
// un-batched call as its own complete batch of one) and reports whether
// every call in the batch has now completed. parentEventID identifies the
// NEW_MESSAGE event that originated the batch, where metadata.batch lives.
func (p *ToolCallProcessor) recordCompletion(ctx context.Context, call models.ToolCall, parentEventID string) (bool, error) {
	if call.Batch == nil {
		return true, nil
	}
	completed, size, err := p.batches.IncrementBatchProgress(ctx, parentEventID)
	if err != nil {
		return false, err
	}
	if size == 0 {
		size = call.Batch.Size // fall back to the value stamped on the call itself
	}
	return completed >= size, nil
}

// buildFollowUp rebuilds a full LLMCallPayload for the agent that requested
// the batch, now that every tool result in it has been persisted as a
// message: the history the agent sees on its next turn includes its own
// tool-call message and every [Tool Result] that answered it.
func (p *ToolCallProcessor) buildFollowUp(ctx context.Context, e *models.Event, payload ToolCallPayload) (*models.Event, error) {
	agentCfg, ok := p.agents.Lookup(payload.SenderID)
	if !ok {
		return nil, fmt.Errorf("no agent directory entry for %q", payload.SenderID)
	}

	messages, err := p.store.ListMessages(ctx, e.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	history := BuildHistory(messages, agentCfg.Name, p.agents.Names(), true)

	llmPayload := LLMCallPayload{
		AgentID:         payload.SenderID,
		History:         history,
		SourceMessageID: payload.SourceMessageID,
		SourceSenderID:  payload.SenderID,
	}
	payloadJSON, err := json.Marshal(llmPayload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	return &models.Event{
		ID:            p.idFunc(),
		ThreadID:      e.ThreadID,
		Namespace:     e.Namespace,
		Type:          models.EventTypeLLMCall,
		Payload:       payloadJSON,
		ParentEventID: e.ParentEventID,
		TraceID:       e.TraceID,
		CreatedAt:     p.now(),
		UpdatedAt:     p.now(),
	}, nil
}
