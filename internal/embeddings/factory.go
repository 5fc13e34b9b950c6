package embeddings

import (
	"fmt"

	"github.com/pincrawl/pincrawl/internal/config"
)

// New builds the embedder selected by the configuration. The openai
// provider reuses the extractor's OpenAI credentials.
func New(cfg config.EmbeddingsConfig, openai config.OpenAIConfig) (Embedder, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIEmbedder(openai.BaseURL, openai.APIKey, cfg.Model, cfg.Dimension), nil
	case "ollama":
		return NewOllamaEmbedder(cfg.BaseURL, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unknown embeddings provider: %s", cfg.Provider)
	}
}
