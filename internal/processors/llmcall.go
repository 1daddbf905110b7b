package processors

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/conclavehq/conclave/internal/llm"
	"github.com/conclavehq/conclave/pkg/models"
)

// LLMCallPayload is the LLM_CALL event payload assembled by the new-message
// processor (or a prior LLM call's tool-batch completion).
type LLMCallPayload struct {
	AgentID         string        `json:"agent_id"`
	History         []HistoryItem `json:"history"`
	SystemPreamble  string        `json:"system_preamble,omitempty"`
	SourceMessageID string        `json:"source_message_id"`
	SourceSenderID  string        `json:"source_sender_id,omitempty"`
	TargetQueue     []string      `json:"target_queue,omitempty"`
}

// AssetResolver resolves asset:// references in history parts to provider-
// acceptable inline data, per §4.6 step 1. Nil-safe: when unset, asset_ref
// parts are left out of the request (the agent fetches them via a tool),
// as with assetConfig.resolveInLLM=false.
type AssetResolver interface {
	Resolve(ctx context.Context, uri string) (data []byte, mimeType string, err error)
}

// ProviderResolver returns the LLMProvider and model to use for agentID.
type ProviderResolver interface {
	ProviderFor(agentID string) (provider llm.LLMProvider, model string, tools []llm.Tool, ok bool)
}

// TokenSink receives streamed response tokens as the LLM-call processor
// forwards them, per §4.6 step 2. The final call carries done=true and no
// text, mirroring the "isComplete=true" terminal token. Nil-safe.
type TokenSink interface {
	OnToken(ctx context.Context, threadID, agentID, text string, done bool)
}

// LLMCallProcessor implements C6: it invokes the resolved agent's
// ChatProvider with the assembled history, parses the response into an
// answer and/or tool calls, and emits the resulting NEW_MESSAGE event.
type LLMCallProcessor struct {
	providers    ProviderResolver
	agents       AgentDirectory
	assets       AssetResolver
	tokens       TokenSink
	resolveInLLM bool
	idFunc       func() string
	now          func() time.Time
}

// LLMCallProcessorConfig tunes an LLMCallProcessor.
type LLMCallProcessorConfig struct {
	Assets       AssetResolver
	Tokens       TokenSink
	ResolveInLLM bool // assetConfig.resolveInLLM; the zero value leaves asset refs unresolved (cmd/conclaved sets true)
}

// NewLLMCallProcessor constructs an LLMCallProcessor.
func NewLLMCallProcessor(providers ProviderResolver, agents AgentDirectory, cfg LLMCallProcessorConfig) *LLMCallProcessor {
	return &LLMCallProcessor{
		providers:    providers,
		agents:       agents,
		assets:       cfg.Assets,
		tokens:       cfg.Tokens,
		resolveInLLM: cfg.ResolveInLLM,
		idFunc:       func() string { return uuid.NewString() },
		now:          time.Now,
	}
}

func (p *LLMCallProcessor) Name() string { return "llm_call" }

// Process implements registry.Processor.
func (p *LLMCallProcessor) Process(ctx context.Context, e *models.Event) ([]*models.Event, error) {
	var payload LLMCallPayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return nil, fmt.Errorf("llm_call: decode payload: %w", err)
	}

	provider, model, tools, ok := p.providers.ProviderFor(payload.AgentID)
	if !ok {
		return nil, fmt.Errorf("llm_call: no provider configured for agent %q", payload.AgentID)
	}
	agentCfg, _ := p.agents.Lookup(payload.AgentID)

	req := &llm.CompletionRequest{
		Model:    model,
		System:   payload.SystemPreamble,
		Tools:    tools,
		Messages: p.buildMessages(ctx, payload.History),
	}

	chunks, err := provider.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("llm_call: provider complete: %w", err)
	}

	answer, toolCalls, err := p.drainChunks(ctx, e.ThreadID, payload.AgentID, chunks)
	if err != nil {
		return nil, fmt.Errorf("llm_call: stream: %w", err)
	}

	answer = StripSelfPrefix(answer, agentCfg.Name)

	var batchID string
	if len(toolCalls) > 1 {
		batchID = p.idFunc()
		for i := range toolCalls {
			toolCalls[i].Batch = &models.BatchInfo{ID: batchID, Size: len(toolCalls), Index: i}
		}
	}

	targetID, targetQueue := ResolveRouting(answer, payload.TargetQueue, payload.SourceSenderID)

	outPayload := MessagePayload{
		SenderID:   payload.AgentID,
		SenderType: models.SenderAgent,
		SenderName: agentCfg.Name,
		Content:    answer,
		ToolCalls:  toolCalls,
	}
	payloadJSON, err := json.Marshal(outPayload)
	if err != nil {
		return nil, fmt.Errorf("llm_call: encode new message payload: %w", err)
	}

	metadata := map[string]any{"targetId": targetID}
	if len(targetQueue) > 0 {
		metadata["targetQueue"] = targetQueue
	}
	if batchID != "" {
		metadata["batch"] = map[string]any{"id": batchID, "size": len(toolCalls), "completed": 0}
	}

	out := &models.Event{
		ID:            p.idFunc(),
		ThreadID:      e.ThreadID,
		Namespace:     e.Namespace,
		Type:          models.EventTypeNewMessage,
		Payload:       payloadJSON,
		ParentEventID: e.ID,
		TraceID:       e.TraceID,
		Metadata:      metadata,
		CreatedAt:     p.now(),
		UpdatedAt:     p.now(),
	}

	return []*models.Event{out}, nil
}

func (p *LLMCallProcessor) buildMessages(ctx context.Context, history []HistoryItem) []llm.CompletionMessage {
	out := make([]llm.CompletionMessage, 0, len(history))
	for _, item := range history {
		msg := llm.CompletionMessage{Role: item.Role, Content: item.Content}
		for _, part := range item.Parts {
			if part.Kind != "asset_ref" {
				continue
			}
			if !p.resolveInLLM || p.assets == nil {
				continue // agent resolves via a tool instead
			}
			data, mimeType, err := p.assets.Resolve(ctx, part.URI)
			if err != nil {
				continue // best-effort; drop the attachment rather than fail the call
			}
			msg.Attachments = append(msg.Attachments, models.Attachment{URI: part.URI, Data: data, MimeType: mimeType})
		}
		out = append(out, msg)
	}
	return out
}

// drainChunks collects a streaming completion into a final answer and any
// requested tool calls, forwarding text tokens to the configured TokenSink
// as they arrive and a final done=true token on completion, per §4.6
// steps 2-3.
func (p *LLMCallProcessor) drainChunks(ctx context.Context, threadID, agentID string, chunks <-chan *llm.CompletionChunk) (string, []models.ToolCall, error) {
	var answer string
	var toolCalls []models.ToolCall
	for chunk := range chunks {
		if chunk.Error != nil {
			return "", nil, chunk.Error
		}
		if chunk.Text != "" {
			answer += chunk.Text
			if p.tokens != nil {
				p.tokens.OnToken(ctx, threadID, agentID, chunk.Text, false)
			}
		}
		if chunk.ToolCall != nil {
			toolCalls = append(toolCalls, *chunk.ToolCall)
		}
		if chunk.Done {
			break
		}
	}
	if p.tokens != nil {
		p.tokens.OnToken(ctx, threadID, agentID, "", true)
	}
	return answer, toolCalls, nil
}
