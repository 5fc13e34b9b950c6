package matcher

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pincrawl/pincrawl/internal/embeddings"
	"github.com/pincrawl/pincrawl/internal/store"
	"github.com/pincrawl/pincrawl/pkg/models"
)

// LocalMatcher scans catalog embeddings held in Postgres and picks the
// cosine-nearest product. Suits self-hosted deployments where the catalog
// (~10k products) is small enough for a linear scan.
type LocalMatcher struct {
	store    store.Store
	embedder embeddings.Embedder
	logger   *slog.Logger
}

func NewLocalMatcher(st store.Store, embedder embeddings.Embedder, logger *slog.Logger) *LocalMatcher {
	return &LocalMatcher{store: st, embedder: embedder, logger: logger}
}

func (m *LocalMatcher) Match(ctx context.Context, info models.ProductInfo) (models.ProductInfo, error) {
	queryVec, err := m.embedder.Embed(ctx, info.EmbeddingText())
	if err != nil {
		return info, fmt.Errorf("embedding candidate: %w", err)
	}

	products, err := m.store.ListProductsWithEmbeddings(ctx)
	if err != nil {
		return info, fmt.Errorf("loading catalog embeddings: %w", err)
	}

	var best *models.Product
	bestScore := -2.0
	for _, p := range products {
		vec, err := embeddings.Deserialize(p.Embedding)
		if err != nil {
			m.logger.Warn("skipping product with bad embedding", "opdb_id", p.OpdbID, "error", err)
			continue
		}
		score, err := embeddings.CosineSimilarity(queryVec, vec)
		if err != nil {
			m.logger.Warn("skipping product with mismatched embedding", "opdb_id", p.OpdbID, "error", err)
			continue
		}
		if score > bestScore {
			bestScore = score
			best = p
		}
	}
	if best == nil {
		return info, nil
	}

	m.logger.Debug("catalog match", "opdb_id", best.OpdbID, "score", bestScore)
	return applyCatalogHit(info, models.ProductInfo{
		Name:         best.Name,
		Shortname:    best.Shortname,
		Manufacturer: best.Manufacturer,
		Year:         best.Year,
		OpdbID:       &best.OpdbID,
	}), nil
}
