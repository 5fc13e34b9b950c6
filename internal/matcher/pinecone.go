package matcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/pincrawl/pincrawl/internal/embeddings"
	"github.com/pincrawl/pincrawl/pkg/models"
)

// PineconeMatcher queries a managed Pinecone index for the nearest catalog
// product. Vector ids are opdb ids; canonical fields travel in metadata.
type PineconeMatcher struct {
	indexHost string
	apiKey    string
	embedder  embeddings.Embedder
	client    *http.Client
	logger    *slog.Logger
}

func NewPineconeMatcher(indexHost, apiKey string, embedder embeddings.Embedder, logger *slog.Logger) *PineconeMatcher {
	return &PineconeMatcher{
		indexHost: indexHost,
		apiKey:    apiKey,
		embedder:  embedder,
		client:    &http.Client{Timeout: 30 * time.Second},
		logger:    logger,
	}
}

type pineconeQuery struct {
	Vector          []float32 `json:"vector"`
	TopK            int       `json:"topK"`
	IncludeMetadata bool      `json:"includeMetadata"`
}

type pineconeResponse struct {
	Matches []struct {
		ID       string  `json:"id"`
		Score    float64 `json:"score"`
		Metadata struct {
			Name         string `json:"name"`
			Shortname    string `json:"shortname"`
			Manufacturer string `json:"manufacturer"`
			Year         string `json:"year"`
		} `json:"metadata"`
	} `json:"matches"`
}

func (m *PineconeMatcher) Match(ctx context.Context, info models.ProductInfo) (models.ProductInfo, error) {
	vec, err := m.embedder.Embed(ctx, info.EmbeddingText())
	if err != nil {
		return info, fmt.Errorf("embedding candidate: %w", err)
	}

	payload, err := json.Marshal(pineconeQuery{Vector: vec, TopK: 1, IncludeMetadata: true})
	if err != nil {
		return info, fmt.Errorf("encoding query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.indexHost+"/query", bytes.NewReader(payload))
	if err != nil {
		return info, fmt.Errorf("building query request: %w", err)
	}
	req.Header.Set("Api-Key", m.apiKey)
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := m.client.Do(req)
	if err != nil {
		return info, fmt.Errorf("querying index: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return info, fmt.Errorf("reading query response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return info, fmt.Errorf("index query status %d: %s", httpResp.StatusCode, string(body))
	}

	var resp pineconeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return info, fmt.Errorf("decoding query response: %w", err)
	}
	if len(resp.Matches) == 0 {
		return info, nil
	}

	match := resp.Matches[0]
	m.logger.Debug("catalog match", "opdb_id", match.ID, "score", match.Score)

	hit := models.ProductInfo{Name: match.Metadata.Name, OpdbID: &match.ID}
	if match.Metadata.Shortname != "" {
		hit.Shortname = &match.Metadata.Shortname
	}
	if match.Metadata.Manufacturer != "" {
		hit.Manufacturer = &match.Metadata.Manufacturer
	}
	if match.Metadata.Year != "" {
		hit.Year = &match.Metadata.Year
	}
	return applyCatalogHit(info, hit), nil
}
