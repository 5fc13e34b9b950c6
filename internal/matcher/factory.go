package matcher

import (
	"fmt"
	"log/slog"

	"github.com/pincrawl/pincrawl/internal/config"
	"github.com/pincrawl/pincrawl/internal/embeddings"
	"github.com/pincrawl/pincrawl/internal/store"
)

// New builds the matcher selected by the configuration.
func New(cfg config.MatcherConfig, openai config.OpenAIConfig, st store.Store, logger *slog.Logger) (Matcher, error) {
	embedder, err := embeddings.New(cfg.Embeddings, openai)
	if err != nil {
		return nil, err
	}
	switch cfg.Provider {
	case "pinecone":
		return NewPineconeMatcher(cfg.Pinecone.IndexHost, cfg.Pinecone.APIKey, embedder, logger), nil
	case "local":
		return NewLocalMatcher(st, embedder, logger), nil
	default:
		return nil, fmt.Errorf("unknown matcher provider: %s", cfg.Provider)
	}
}
