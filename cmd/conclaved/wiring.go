package main

import (
	"context"
	"fmt"
	"os"

	"github.com/conclavehq/conclave/internal/assets"
	"github.com/conclavehq/conclave/internal/embeddings"
	embeddingsollama "github.com/conclavehq/conclave/internal/embeddings/ollama"
	embeddingsopenai "github.com/conclavehq/conclave/internal/embeddings/openai"
	"github.com/conclavehq/conclave/internal/llm"
	"github.com/conclavehq/conclave/internal/llm/providers"
	"github.com/conclavehq/conclave/internal/processors"
	"github.com/conclavehq/conclave/internal/queue"
	"github.com/conclavehq/conclave/internal/rag/store/pgvector"
	"github.com/conclavehq/conclave/internal/registry"
	"github.com/conclavehq/conclave/pkg/models"
)

// system is every long-lived dependency serve/migrate/status build from a
// Config, wired once at startup.
type system struct {
	store      *queue.Store
	graph      *pgvector.Store
	assets     assets.Store
	embedder   embeddings.Provider
	registry   *registry.Registry
	agents     *processors.StaticAgentDirectory
	llmAdapter *staticProviderResolver
}

// buildSystem opens the database, constructs the embedding/LLM providers and
// the asset store, and assembles the processor registry. It does not start
// any goroutines.
func buildSystem(ctx context.Context, cfg Config) (*system, error) {
	store, err := queue.Open(cfg.Database.DSN, queue.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("open queue store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate queue store: %w", err)
	}

	embedder, err := buildEmbeddingProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("build embedding provider: %w", err)
	}

	graph, err := pgvector.New(pgvector.Config{
		DSN:           cfg.Database.DSN,
		Dimension:     embedder.Dimension(),
		RunMigrations: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open graph store: %w", err)
	}

	assetStore, err := buildAssetStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("build asset store: %w", err)
	}

	provider, model, err := buildLLMProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("build llm provider: %w", err)
	}

	agents := &processors.StaticAgentDirectory{
		Agents: map[string]processors.AgentConfig{
			"default": {ID: "default", Name: "assistant"},
		},
		Default: "default",
		NameMap: map[string]string{"default": "assistant"},
	}
	resolver := &staticProviderResolver{provider: provider, model: model}

	reg := registry.New()
	reg.Register(models.EventTypeNewMessage, 0, processors.NewNewMessageProcessor(store, agents, processors.NewMessageProcessorConfig{
		Namespace: cfg.Namespace.Prefix,
		Graph:     graph,
	}))
	reg.Register(models.EventTypeLLMCall, 0, processors.NewLLMCallProcessor(resolver, agents, processors.LLMCallProcessorConfig{
		Assets:       &assetResolverAdapter{store: assetStore},
		ResolveInLLM: true,
	}))
	reg.Register(models.EventTypeToolCall, 0, processors.NewToolCallProcessor(
		processors.NewRegistry(), store, store, agents, processors.DefaultToolExecConfig(),
	))
	reg.Register(models.EventTypeEntityExtract, 0, processors.NewEntityExtractProcessor(
		processors.NewLLMEntityExtractor(provider, model),
		processors.NewLLMSameEntityJudge(provider, model),
		&embeddingEntityEmbedder{embedder: embedder},
		graph,
		processors.EntityExtractConfig{Namespace: cfg.Namespace.Prefix},
	))

	return &system{
		store:      store,
		graph:      graph,
		assets:     assetStore,
		embedder:   embedder,
		registry:   reg,
		agents:     agents,
		llmAdapter: resolver,
	}, nil
}

func (s *system) Close() {
	if s.store != nil {
		s.store.Close()
	}
	if s.graph != nil {
		s.graph.Close()
	}
}

func buildEmbeddingProvider(cfg Config) (embeddings.Provider, error) {
	switch cfg.Embeddings.Provider {
	case "ollama":
		return embeddingsollama.New(embeddingsollama.Config{Model: cfg.Embeddings.Model})
	case "openai", "":
		return embeddingsopenai.New(embeddingsopenai.Config{
			APIKey: os.Getenv("OPENAI_API_KEY"),
			Model:  cfg.Embeddings.Model,
		})
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", cfg.Embeddings.Provider)
	}
}

func buildLLMProvider(cfg Config) (llm.LLMProvider, string, error) {
	switch cfg.LLM.Provider {
	case "openai":
		p := providers.NewOpenAIProvider(os.Getenv("OPENAI_API_KEY"))
		model := cfg.LLM.Model
		if model == "" {
			model = "gpt-4o"
		}
		return p, model, nil
	case "ollama":
		p := providers.NewOllamaProvider(providers.OllamaConfig{DefaultModel: cfg.LLM.Model})
		return p, cfg.LLM.Model, nil
	case "anthropic", "":
		p, err := providers.NewAnthropicProvider(providers.AnthropicConfig{APIKey: os.Getenv("ANTHROPIC_API_KEY")})
		if err != nil {
			return nil, "", err
		}
		model := cfg.LLM.Model
		if model == "" {
			model = "claude-sonnet-4-20250514"
		}
		return p, model, nil
	default:
		return nil, "", fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
}

func buildAssetStore(ctx context.Context, cfg Config) (assets.Store, error) {
	switch cfg.Assets.Backend {
	case "s3":
		s3cfg := assets.DefaultS3StoreConfig()
		s3cfg.Bucket = cfg.Assets.S3.Bucket
		s3cfg.Region = cfg.Assets.S3.Region
		s3cfg.Endpoint = cfg.Assets.S3.Endpoint
		s3cfg.Prefix = cfg.Assets.S3.Prefix
		return assets.NewS3Store(ctx, s3cfg)
	case "filesystem", "":
		return assets.NewFilesystemStore(cfg.Assets.Path)
	default:
		return nil, fmt.Errorf("unknown assets backend %q", cfg.Assets.Backend)
	}
}

// staticProviderResolver routes every agent to the single configured LLM
// provider/model, satisfying processors.ProviderResolver until per-agent
// routing configuration exists.
type staticProviderResolver struct {
	provider llm.LLMProvider
	model    string
	tools    []llm.Tool
}

func (r *staticProviderResolver) ProviderFor(agentID string) (llm.LLMProvider, string, []llm.Tool, bool) {
	if r.provider == nil {
		return nil, "", nil, false
	}
	return r.provider, r.model, r.tools, true
}

// assetResolverAdapter satisfies processors.AssetResolver over an
// assets.Store, so an LLM call that doesn't inline attachment bytes can
// still fetch them by asset:// reference.
type assetResolverAdapter struct {
	store assets.Store
}

func (a *assetResolverAdapter) Resolve(ctx context.Context, uri string) ([]byte, string, error) {
	_, assetID, ok := assets.ParseAssetRef(uri)
	if !ok {
		return nil, "", fmt.Errorf("assets: not an asset reference: %q", uri)
	}
	asset, err := a.store.Get(ctx, assetID)
	if err != nil {
		return nil, "", err
	}
	return asset.Data, asset.MimeType, nil
}

// embeddingEntityEmbedder adapts embeddings.Provider to
// processors.EntityEmbedder.
type embeddingEntityEmbedder struct {
	embedder embeddings.Provider
}

func (e *embeddingEntityEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.embedder.Embed(ctx, text)
}
