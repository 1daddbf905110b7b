package processors

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/conclavehq/conclave/internal/llm"
)

const (
	defaultEntityExtractTokens = 1024
	defaultSameEntityTokens    = 64
)

// LLMEntityExtractor implements EntityExtractor by prompting a ChatProvider
// for a JSON object of the shape {"entities":[{"name","type","description"}]}.
type LLMEntityExtractor struct {
	provider  llm.LLMProvider
	model     string
	maxTokens int
}

// NewLLMEntityExtractor constructs an LLMEntityExtractor.
func NewLLMEntityExtractor(provider llm.LLMProvider, model string) *LLMEntityExtractor {
	return &LLMEntityExtractor{provider: provider, model: model, maxTokens: defaultEntityExtractTokens}
}

func (x *LLMEntityExtractor) ExtractEntities(ctx context.Context, text string) ([]ExtractedEntity, error) {
	req := &llm.CompletionRequest{
		Model: x.model,
		System: "Extract named entities (people, organizations, products, places, concepts) " +
			"mentioned in the user's message. Respond with strict JSON only, no prose, matching " +
			`{"entities":[{"name":"...","type":"...","description":"..."}]}. ` +
			"If there are no entities, respond with {\"entities\":[]}.",
		Messages:  []llm.CompletionMessage{{Role: "user", Content: text}},
		MaxTokens: x.maxTokens,
	}
	raw, err := completeText(ctx, x.provider, req)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Entities []ExtractedEntity `json:"entities"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &parsed); err != nil {
		return nil, fmt.Errorf("entity_extract: parse LLM response: %w", err)
	}
	return parsed.Entities, nil
}

// LLMSameEntityJudge implements SameEntityJudge by asking a ChatProvider a
// strict yes/no question.
type LLMSameEntityJudge struct {
	provider llm.LLMProvider
	model    string
}

// NewLLMSameEntityJudge constructs an LLMSameEntityJudge.
func NewLLMSameEntityJudge(provider llm.LLMProvider, model string) *LLMSameEntityJudge {
	return &LLMSameEntityJudge{provider: provider, model: model}
}

func (j *LLMSameEntityJudge) SameEntity(ctx context.Context, a, b string) (bool, error) {
	req := &llm.CompletionRequest{
		Model: j.model,
		System: "You determine whether two entity descriptions refer to the same real-world " +
			`entity. Respond with strict JSON only: {"same":true} or {"same":false}.`,
		Messages: []llm.CompletionMessage{{
			Role:    "user",
			Content: fmt.Sprintf("Entity A: %s\nEntity B: %s", a, b),
		}},
		MaxTokens: defaultSameEntityTokens,
	}
	raw, err := completeText(ctx, j.provider, req)
	if err != nil {
		return false, err
	}

	var parsed struct {
		Same bool `json:"same"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &parsed); err != nil {
		return false, fmt.Errorf("entity_extract: parse same-entity response: %w", err)
	}
	return parsed.Same, nil
}

// completeText drains a non-streaming-shaped Complete call into its final
// text, rejecting tool calls (entity extraction and judging never need
// them).
func completeText(ctx context.Context, provider llm.LLMProvider, req *llm.CompletionRequest) (string, error) {
	ch, err := provider.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for chunk := range ch {
		if chunk == nil {
			continue
		}
		if chunk.Error != nil {
			return "", chunk.Error
		}
		if chunk.ToolCall != nil {
			return "", fmt.Errorf("entity_extract: provider requested a tool call")
		}
		if chunk.Text != "" {
			sb.WriteString(chunk.Text)
		}
		if chunk.Done {
			break
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

// extractJSONObject trims a leading/trailing markdown code fence and any
// surrounding prose a model might add around the JSON object it was asked
// for, returning the first '{'...'}' span.
func extractJSONObject(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end < start {
		return s
	}
	return s[start : end+1]
}
