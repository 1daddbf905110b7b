package processors

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/conclavehq/conclave/pkg/models"
)

// MessageStore is the subset of the durable store (C1) the new-message
// processor needs: persisting messages and upserting the sender's user
// record. *queue.Store satisfies this.
type MessageStore interface {
	CreateMessage(ctx context.Context, msg *models.Message) error
	ListMessages(ctx context.Context, threadID string) ([]*models.Message, error)
	UpsertUser(ctx context.Context, u *models.User) error
	LastMessage(ctx context.Context, threadID string) (*models.Message, error)
}

// GraphWriter is the subset of store.GraphStore the new-message processor
// needs to dual-write a persisted message into the knowledge graph.
// *pgvector.Store satisfies this.
type GraphWriter interface {
	CreateNode(ctx context.Context, node *models.KnowledgeNode) error
	CreateEdge(ctx context.Context, edge *models.KnowledgeEdge) error
}

// RAGOptions controls an agent's automatic context retrieval, per §4.5 step 4.
type RAGOptions struct {
	Mode       string // "auto" or "" (off)
	Namespaces []string
	TopK       int
}

// EntityExtractionConfig controls whether persisted messages trigger async
// entity extraction, per §4.5 step 5.
type EntityExtractionConfig struct {
	Enabled bool
}

// AgentConfig is the subset of per-agent configuration the new-message
// processor consults when routing and composing an LLM call.
type AgentConfig struct {
	ID               string
	Name             string
	RAGOptions       RAGOptions
	EntityExtraction EntityExtractionConfig
}

// AgentDirectory resolves agent identities for routing and history
// rendering. A concrete implementation is backed by internal/config once
// adapted; tests and early wiring can use StaticAgentDirectory.
type AgentDirectory interface {
	Lookup(agentID string) (AgentConfig, bool)
	DefaultAgent() (AgentConfig, bool)
	Names() map[string]string // agentID/userID -> display name, for history rendering
}

// StaticAgentDirectory is a fixed, in-memory AgentDirectory.
type StaticAgentDirectory struct {
	Agents  map[string]AgentConfig
	Default string
	NameMap map[string]string
}

func (d *StaticAgentDirectory) Lookup(agentID string) (AgentConfig, bool) {
	a, ok := d.Agents[agentID]
	return a, ok
}

func (d *StaticAgentDirectory) DefaultAgent() (AgentConfig, bool) {
	if d.Default == "" {
		return AgentConfig{}, false
	}
	return d.Lookup(d.Default)
}

func (d *StaticAgentDirectory) Names() map[string]string {
	return d.NameMap
}

// KnowledgeFetcher prefetches context for a ragOptions.mode=auto agent. Left
// optional (nil-safe) until the RAG pipeline (C8) is wired; once it is, an
// adapter over its searchChunks hybrid query implements this.
type KnowledgeFetcher interface {
	SearchChunks(ctx context.Context, namespaces []string, query string, topK int) ([]string, error)
}

// MessagePayload is the NEW_MESSAGE event payload: the message content plus
// sender identity, decoded from Event.Payload.
type MessagePayload struct {
	SenderID    string              `json:"sender_id"`
	SenderType  models.SenderType   `json:"sender_type"`
	SenderName  string              `json:"sender_name,omitempty"`
	Content     string              `json:"content"`
	ToolCalls   []models.ToolCall   `json:"tool_calls,omitempty"`
	ToolCallID  string              `json:"tool_call_id,omitempty"`
	Attachments []models.Attachment `json:"attachments,omitempty"`
}

// NewMessageProcessor implements C5: it persists an inbound or agent-
// produced message, resolves its routing target, and enqueues one LLM_CALL
// event per addressed agent.
type NewMessageProcessor struct {
	store     MessageStore
	agents    AgentDirectory
	knowledge KnowledgeFetcher
	graph     GraphWriter
	gate      *upsertGate
	namespace string
	idFunc    func() string
	now       func() time.Time
}

// NewMessageProcessorConfig tunes a NewMessageProcessor.
type NewMessageProcessorConfig struct {
	Namespace         string
	UserUpsertTTL     time.Duration // default 60s, per spec §9
	Knowledge         KnowledgeFetcher
	Graph             GraphWriter // optional; nil disables the knowledge-graph dual-write
	HistoryIncludeAll bool        // not read: history is always built with includeTargetContext on
}

// NewNewMessageProcessor constructs a NewMessageProcessor.
func NewNewMessageProcessor(store MessageStore, agents AgentDirectory, cfg NewMessageProcessorConfig) *NewMessageProcessor {
	return &NewMessageProcessor{
		store:     store,
		agents:    agents,
		knowledge: cfg.Knowledge,
		graph:     cfg.Graph,
		gate:      newUpsertGate(cfg.UserUpsertTTL),
		namespace: cfg.Namespace,
		idFunc:    func() string { return uuid.NewString() },
		now:       time.Now,
	}
}

func (p *NewMessageProcessor) Name() string { return "new_message" }

// Process implements registry.Processor.
func (p *NewMessageProcessor) Process(ctx context.Context, e *models.Event) ([]*models.Event, error) {
	var payload MessagePayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return nil, fmt.Errorf("new_message: decode payload: %w", err)
	}

	msg := &models.Message{
		ID:          p.idFunc(),
		ThreadID:    e.ThreadID,
		SenderID:    payload.SenderID,
		SenderType:  payload.SenderType,
		Content:     payload.Content,
		ToolCalls:   payload.ToolCalls,
		ToolCallID:  payload.ToolCallID,
		Attachments: payload.Attachments,
		CreatedAt:   p.now(),
	}

	if payload.SenderType == models.SenderUser && p.gate.shouldUpsert(payload.SenderID, msg.CreatedAt) {
		user := &models.User{
			ID:        payload.SenderID,
			Namespace: p.namespace,
			Name:      payload.SenderName,
			UpdatedAt: msg.CreatedAt,
			CreatedAt: msg.CreatedAt,
		}
		if err := p.store.UpsertUser(ctx, user); err != nil {
			// best-effort: a failed upsert never blocks message persistence.
			_ = err
		}
	}

	var prev *models.Message
	if p.graph != nil {
		// Fetch the thread's current last message before inserting msg, so
		// it becomes the REPLIED_BY edge's source once msg is persisted.
		prev, _ = p.store.LastMessage(ctx, e.ThreadID) // best-effort
	}

	if err := p.store.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("new_message: persist message: %w", err)
	}

	if p.graph != nil {
		p.writeMessageNode(ctx, e, msg, prev)
	}

	if payload.SenderType == models.SenderAgent && len(payload.ToolCalls) > 0 {
		// The agent requested tools rather than producing a final answer:
		// fan out one TOOL_CALL per request instead of routing this message
		// anywhere. The batch's eventual completion (§4.7) re-enters here
		// via a follow-up LLM_CALL built directly by the tool-call processor.
		return p.fanOutToolCalls(e, msg, payload), nil
	}

	targetID, targetQueue := p.resolveTarget(ctx, e, payload)

	addressed := dedupeNonEmpty(append([]string{targetID}, targetQueue...))
	if len(addressed) == 0 {
		return nil, nil
	}

	messages, err := p.store.ListMessages(ctx, e.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("new_message: load history: %w", err)
	}

	var followUps []*models.Event
	for _, agentID := range addressed {
		agentCfg, ok := p.agents.Lookup(agentID)
		if !ok {
			continue // not an agent (e.g. a human recipient); no LLM call to enqueue
		}

		history := BuildHistory(messages, agentCfg.Name, p.agents.Names(), true)

		var ragSnippets []string
		if agentCfg.RAGOptions.Mode == "auto" && p.knowledge != nil {
			ragSnippets, err = p.knowledge.SearchChunks(ctx, agentCfg.RAGOptions.Namespaces, payload.Content, agentCfg.RAGOptions.TopK)
			if err != nil {
				ragSnippets = nil // best-effort prefetch; never block the call
			}
		}

		llmPayload := LLMCallPayload{
			AgentID:         agentID,
			History:         history,
			SystemPreamble:  formatPreamble(ragSnippets),
			SourceMessageID: msg.ID,
			TargetQueue:     targetQueue,
		}
		payloadJSON, err := json.Marshal(llmPayload)
		if err != nil {
			return nil, fmt.Errorf("new_message: encode llm call payload: %w", err)
		}

		followUps = append(followUps, &models.Event{
			ID:            p.idFunc(),
			ThreadID:      e.ThreadID,
			Namespace:     e.Namespace,
			Type:          models.EventTypeLLMCall,
			Payload:       payloadJSON,
			ParentEventID: e.ID,
			TraceID:       e.TraceID,
			CreatedAt:     p.now(),
			UpdatedAt:     p.now(),
		})

		if agentCfg.EntityExtraction.Enabled {
			followUps = append(followUps, p.entityExtractEvent(e, msg))
		}
	}

	return followUps, nil
}

func (p *NewMessageProcessor) resolveTarget(ctx context.Context, e *models.Event, payload MessagePayload) (string, []string) {
	if payload.SenderType == models.SenderAgent {
		// The LLM-call processor already computed routing for its own output;
		// C5 is re-entrant here, so just read it back out of event metadata.
		targetID, _ := e.Metadata["targetId"].(string)
		var queue []string
		if raw, ok := e.Metadata["targetQueue"].([]any); ok {
			for _, v := range raw {
				if s, ok := v.(string); ok {
					queue = append(queue, s)
				}
			}
		}
		if targetID != "" {
			return targetID, queue
		}
	}

	if mentions := ExtractMentions(payload.Content); len(mentions) > 0 {
		return mentions[0], mentions[1:]
	}
	if agent, ok := p.agents.DefaultAgent(); ok {
		return agent.ID, nil
	}
	if targetID, ok := e.Metadata["targetId"].(string); ok {
		return targetID, nil
	}
	return "", nil
}

// writeMessageNode dual-writes msg into the knowledge graph as a
// KnowledgeNode, linking it to the thread's previous message (if any) with a
// REPLIED_BY edge. Per §7, side effects like this are best-effort: a failure
// here never poisons message persistence, which has already succeeded.
func (p *NewMessageProcessor) writeMessageNode(ctx context.Context, e *models.Event, msg *models.Message, prev *models.Message) {
	node := &models.KnowledgeNode{
		ID:         msg.ID,
		Namespace:  e.Namespace,
		Type:       "message",
		Name:       string(msg.SenderType) + ":" + msg.SenderID,
		Content:    msg.Content,
		SourceType: "message",
		SourceID:   msg.ID,
	}
	if err := p.graph.CreateNode(ctx, node); err != nil {
		return
	}
	if prev == nil || prev.ID == msg.ID {
		return
	}
	_ = p.graph.CreateEdge(ctx, &models.KnowledgeEdge{
		SourceNodeID: prev.ID,
		TargetNodeID: msg.ID,
		Type:         models.EdgeRepliedBy,
	})
}

func (p *NewMessageProcessor) fanOutToolCalls(e *models.Event, msg *models.Message, payload MessagePayload) []*models.Event {
	out := make([]*models.Event, 0, len(payload.ToolCalls))
	for _, call := range payload.ToolCalls {
		callPayload, err := json.Marshal(ToolCallPayload{
			Call:            call,
			SenderID:        payload.SenderID,
			SourceMessageID: msg.ID,
		})
		if err != nil {
			continue
		}
		out = append(out, &models.Event{
			ID:            p.idFunc(),
			ThreadID:      e.ThreadID,
			Namespace:     e.Namespace,
			Type:          models.EventTypeToolCall,
			Payload:       callPayload,
			ParentEventID: e.ID,
			TraceID:       e.TraceID,
			CreatedAt:     p.now(),
			UpdatedAt:     p.now(),
		})
	}
	return out
}

func (p *NewMessageProcessor) entityExtractEvent(e *models.Event, msg *models.Message) *models.Event {
	payload, _ := json.Marshal(EntityExtractPayload{MessageID: msg.ID, Content: msg.Content})
	return &models.Event{
		ID:            p.idFunc(),
		ThreadID:      e.ThreadID,
		Namespace:     e.Namespace,
		Type:          models.EventTypeEntityExtract,
		Payload:       payload,
		ParentEventID: e.ID,
		TraceID:       e.TraceID,
		Priority:      -1, // background, never ahead of conversational turns
		CreatedAt:     p.now(),
		UpdatedAt:     p.now(),
	}
}

// EntityExtractPayload is the ENTITY_EXTRACT event payload.
type EntityExtractPayload struct {
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
}

func formatPreamble(snippets []string) string {
	if len(snippets) == 0 {
		return ""
	}
	out := "Relevant context:\n"
	for _, s := range snippets {
		out += "- " + s + "\n"
	}
	return out
}

func dedupeNonEmpty(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
