package models

import (
	"encoding/json"
	"time"
)

// SenderType identifies who authored a Message.
type SenderType string

const (
	SenderUser   SenderType = "user"
	SenderAgent  SenderType = "agent"
	SenderSystem SenderType = "system"
	SenderTool   SenderType = "tool"
)

// Message is the durable record of a single piece of conversation content
// within a thread. Every message is also dual-written as a KnowledgeNode of
// type "message" so it participates in graph traversal and semantic search
// alongside chunks and entities.
type Message struct {
	ID         string     `json:"id"`
	ThreadID   string     `json:"thread_id"`
	SenderID   string     `json:"sender_id"`
	SenderType SenderType `json:"sender_type"`
	Content    string     `json:"content"`

	// ToolCalls are present when an agent message requests tool execution.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID links a tool-result message back to the call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`

	Attachments []Attachment   `json:"attachments,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Attachment represents a file or media reference carried on a Message.
// URI may be an asset:// reference, a plain URL, or, for Inline, omitted in
// favor of Data.
type Attachment struct {
	ID       string `json:"id"`
	Type     string `json:"type"` // image, audio, video, document
	URI      string `json:"uri,omitempty"`
	Data     []byte `json:"data,omitempty"`
	Filename string `json:"filename,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// BatchInfo describes an individual tool call's position within a batch of
// tool calls the model requested in a single turn. All calls in a batch
// share BatchID; the batch is considered complete once every index has a
// result, tracked out-of-band in Event.Metadata["batch"].
type BatchInfo struct {
	ID    string `json:"id"`
	Size  int    `json:"size"`
	Index int    `json:"index"`
}

// ToolCall represents a model's request to execute a named tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
	Batch *BatchInfo      `json:"batch,omitempty"`
}

// ToolResult represents the output of executing a ToolCall.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// RoutingTarget captures the next logical recipient(s) of an agent's output,
// derived from @mentions in its content. TargetID is the immediate
// recipient; TargetQueue holds any additional mentioned recipients still
// pending delivery in a multi-agent chain.
type RoutingTarget struct {
	TargetID    string   `json:"target_id,omitempty"`
	TargetQueue []string `json:"target_queue,omitempty"`
}

// User represents a participant identified across threads by a stable key
// (e.g. a channel-qualified handle). Users are upserted as KnowledgeNodes of
// type "entity" so they participate in MENTIONS/RELATED_TO graph edges.
type User struct {
	ID        string    `json:"id"`
	Namespace string    `json:"namespace,omitempty"`
	Name      string    `json:"name"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
