package extractor

import (
	"fmt"
	"log/slog"

	"github.com/pincrawl/pincrawl/internal/config"
)

// New builds the extractor selected by the configuration.
func New(cfg config.ExtractorConfig, logger *slog.Logger) (Extractor, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIExtractor(cfg.OpenAI.BaseURL, cfg.OpenAI.APIKey, cfg.OpenAI.Model, logger), nil
	case "jsonpath":
		return NewJSONPathExtractor(cfg.MapFile)
	default:
		return nil, fmt.Errorf("unknown extractor provider: %s", cfg.Provider)
	}
}
