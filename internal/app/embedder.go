package app

import (
	"context"

	"claridoc/internal/ai"
	"claridoc/internal/retrieval"
)

// aiEmbedder adapts the OpenAI-compatible client to the retrieval package's
// Embedder port, translating the retrieval intent into the wire-level
// input_type tag.
type aiEmbedder struct {
	client *ai.OpenAICompatibleClient
	cfg    ai.EmbeddingConfig
}

func NewEmbedder(client *ai.OpenAICompatibleClient, cfg ai.EmbeddingConfig) retrieval.Embedder {
	return &aiEmbedder{client: client, cfg: cfg}
}

func (e *aiEmbedder) EmbedBatch(ctx context.Context, texts []string, intent retrieval.Intent) ([][]float32, error) {
	return e.client.EmbedBatch(ctx, e.cfg, texts, string(intent))
}
