package api

import (
	"encoding/json"
	"time"

	"github.com/conclavehq/conclave/internal/processors"
	"github.com/conclavehq/conclave/pkg/models"
)

// toStreamEvent translates a just-dispatched queue Event into the
// StreamEvent a run's caller observes, per spec §6's event vocabulary. A
// non-nil err always yields a StreamError event regardless of the source
// event's type.
func toStreamEvent(threadID string, e *models.Event, err error) *models.StreamEvent {
	if err != nil {
		return &models.StreamEvent{
			Type:     models.StreamError,
			ThreadID: threadID,
			EventID:  e.ID,
			Time:     time.Now(),
			Error:    err,
		}
	}

	out := &models.StreamEvent{
		ThreadID: threadID,
		EventID:  e.ID,
		Time:     time.Now(),
		Metadata: e.Metadata,
	}

	switch e.Type {
	case models.EventTypeNewMessage:
		out.Type = models.StreamNewMessage
		var payload processors.MessagePayload
		if json.Unmarshal(e.Payload, &payload) == nil {
			out.Message = &models.Message{
				ThreadID:    threadID,
				SenderID:    payload.SenderID,
				SenderType:  payload.SenderType,
				Content:     payload.Content,
				ToolCalls:   payload.ToolCalls,
				Attachments: payload.Attachments,
			}
		}

	case models.EventTypeLLMCall:
		out.Type = models.StreamLLMCall
		var payload processors.LLMCallPayload
		if json.Unmarshal(e.Payload, &payload) == nil {
			if out.Metadata == nil {
				out.Metadata = map[string]any{}
			}
			out.Metadata["agent_id"] = payload.AgentID
		}

	case models.EventTypeToolCall:
		out.Type = models.StreamToolCall
		var payload processors.ToolCallPayload
		if json.Unmarshal(e.Payload, &payload) == nil {
			out.ToolCall = &payload.Call
		}

	case models.EventTypeAssetCreated:
		out.Type = models.StreamAssetCreated

	default:
		// RAG_INGEST, ENTITY_EXTRACT, and any future background event types
		// have no dedicated StreamEventType; surface them generically so a
		// caller inspecting Metadata still sees they happened.
		out.Type = models.StreamEventType(e.Type)
	}

	return out
}
