package processors

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/conclavehq/conclave/pkg/models"
)

// ExtractedEntity is one entity an EntityExtractor finds in a message.
type ExtractedEntity struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// EntityExtractor prompts an LLM to extract named entities from text, per
// §4.8's entity-extraction step.
type EntityExtractor interface {
	ExtractEntities(ctx context.Context, text string) ([]ExtractedEntity, error)
}

// SameEntityJudge asks an LLM whether two entity descriptions refer to the
// same real-world entity, used when a candidate match's similarity falls
// between the auto-merge and similarity thresholds.
type SameEntityJudge interface {
	SameEntity(ctx context.Context, a, b string) (bool, error)
}

// EntityEmbedder embeds entity name[: description] strings for nearest-
// neighbor lookup against existing KnowledgeNodes.
type EntityEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EntityGraph is the subset of store.GraphStore the entity-extraction
// processor needs.
type EntityGraph interface {
	CreateNode(ctx context.Context, node *models.KnowledgeNode) error
	CreateEdge(ctx context.Context, edge *models.KnowledgeEdge) error
	SearchNodes(ctx context.Context, req *models.SearchRequest, embedding []float32) ([]*models.SearchResult, error)
}

// EntityExtractConfig tunes the dedup thresholds used when resolving an
// extracted entity against the existing knowledge graph.
type EntityExtractConfig struct {
	Namespace string

	// SimilarityThreshold is the minimum cosine similarity for a candidate
	// to be considered a possible duplicate at all. Default 0.95.
	SimilarityThreshold float32

	// AutoMergeThreshold is the similarity above which a candidate is
	// merged without asking the judge. Default 0.99.
	AutoMergeThreshold float32
}

func (c EntityExtractConfig) withDefaults() EntityExtractConfig {
	if c.SimilarityThreshold <= 0 {
		c.SimilarityThreshold = 0.95
	}
	if c.AutoMergeThreshold <= 0 {
		c.AutoMergeThreshold = 0.99
	}
	return c
}

// EntityExtractProcessor implements C8's entity-extraction pipeline: for
// every ENTITY_EXTRACT event it pulls entities out of the triggering
// message, resolves each against the existing knowledge graph (merge,
// relate, or create), and always links the source message to the resolved
// entity with a MENTIONS edge. It never emits follow-up events — this is a
// background, best-effort leaf in the event graph.
type EntityExtractProcessor struct {
	extractor EntityExtractor
	judge     SameEntityJudge
	embedder  EntityEmbedder
	graph     EntityGraph
	cfg       EntityExtractConfig
}

// NewEntityExtractProcessor constructs an EntityExtractProcessor.
func NewEntityExtractProcessor(extractor EntityExtractor, judge SameEntityJudge, embedder EntityEmbedder, graph EntityGraph, cfg EntityExtractConfig) *EntityExtractProcessor {
	return &EntityExtractProcessor{
		extractor: extractor,
		judge:     judge,
		embedder:  embedder,
		graph:     graph,
		cfg:       cfg.withDefaults(),
	}
}

func (p *EntityExtractProcessor) Name() string { return "entity_extract" }

// Process implements registry.Processor.
func (p *EntityExtractProcessor) Process(ctx context.Context, e *models.Event) ([]*models.Event, error) {
	var payload EntityExtractPayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return nil, fmt.Errorf("entity_extract: decode payload: %w", err)
	}
	if strings.TrimSpace(payload.Content) == "" {
		return nil, nil
	}

	entities, err := p.extractor.ExtractEntities(ctx, payload.Content)
	if err != nil {
		return nil, fmt.Errorf("entity_extract: extract entities: %w", err)
	}

	for _, entity := range entities {
		p.resolveEntity(ctx, e.Namespace, payload, entity)
	}
	return nil, nil
}

// resolveEntity dedups a single extracted entity against the knowledge
// graph and links it to its source message. Every failure here is
// best-effort: one bad entity never aborts the rest of the batch.
func (p *EntityExtractProcessor) resolveEntity(ctx context.Context, namespace string, payload EntityExtractPayload, entity ExtractedEntity) {
	if strings.TrimSpace(entity.Name) == "" {
		return
	}
	embedText := entity.Name
	if entity.Description != "" {
		embedText = entity.Name + ": " + entity.Description
	}
	vec, err := p.embedder.Embed(ctx, embedText)
	if err != nil {
		return
	}

	results, err := p.graph.SearchNodes(ctx, &models.SearchRequest{
		Namespace: namespace,
		Types:     []string{"entity"},
		Limit:     5,
		Threshold: p.cfg.SimilarityThreshold,
	}, vec)
	if err != nil {
		return
	}

	var best *models.SearchResult
	if len(results) > 0 {
		best = results[0]
	}

	var nodeID string
	switch {
	case best != nil && best.Score >= p.cfg.AutoMergeThreshold:
		nodeID = best.Node.ID
		p.merge(ctx, best.Node, entity)

	case best != nil && best.Score >= p.cfg.SimilarityThreshold:
		same, err := p.judge.SameEntity(ctx, embedText, best.Node.Name)
		if err == nil && same {
			nodeID = best.Node.ID
			p.merge(ctx, best.Node, entity)
		} else {
			nodeID = p.createEntity(ctx, namespace, entity, vec)
			if nodeID != "" {
				_ = p.graph.CreateEdge(ctx, &models.KnowledgeEdge{
					SourceNodeID: nodeID,
					TargetNodeID: best.Node.ID,
					Type:         models.EdgeRelatedTo,
				})
			}
		}

	default:
		nodeID = p.createEntity(ctx, namespace, entity, vec)
	}

	if nodeID == "" {
		return
	}
	_ = p.graph.CreateEdge(ctx, &models.KnowledgeEdge{
		SourceNodeID: payload.MessageID,
		TargetNodeID: nodeID,
		Type:         models.EdgeMentions,
		Data: map[string]any{
			"extracted_name": entity.Name,
			"context":        payload.Content,
		},
	})
}

func (p *EntityExtractProcessor) createEntity(ctx context.Context, namespace string, entity ExtractedEntity, vec []float32) string {
	node := &models.KnowledgeNode{
		Namespace:  namespace,
		Type:       "entity",
		Name:       entity.Name,
		Content:    entity.Description,
		Embedding:  vec,
		SourceType: entity.Type,
		Data: map[string]any{
			"aliases":       []string{entity.Name},
			"mention_count": 1,
		},
	}
	if err := p.graph.CreateNode(ctx, node); err != nil {
		return ""
	}
	return node.ID
}

// merge folds a newly-extracted mention into an existing entity node: the
// extracted name is recorded as an alias (if new) and the mention count is
// incremented.
func (p *EntityExtractProcessor) merge(ctx context.Context, node *models.KnowledgeNode, entity ExtractedEntity) {
	if node.Data == nil {
		node.Data = map[string]any{}
	}
	aliases, _ := node.Data["aliases"].([]any)
	aliasStrs := make([]string, 0, len(aliases)+1)
	found := false
	for _, a := range aliases {
		s, _ := a.(string)
		aliasStrs = append(aliasStrs, s)
		if strings.EqualFold(s, entity.Name) {
			found = true
		}
	}
	if !found {
		aliasStrs = append(aliasStrs, entity.Name)
	}
	node.Data["aliases"] = aliasStrs

	count, _ := node.Data["mention_count"].(float64)
	node.Data["mention_count"] = int(count) + 1

	_ = p.graph.CreateNode(ctx, node)
}
