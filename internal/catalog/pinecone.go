package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// PineconeUpserter pushes catalog vectors to a Pinecone index so the
// pinecone matcher can query them.
type PineconeUpserter struct {
	indexHost string
	apiKey    string
	client    *http.Client
}

func NewPineconeUpserter(indexHost, apiKey string) *PineconeUpserter {
	return &PineconeUpserter{
		indexHost: indexHost,
		apiKey:    apiKey,
		client:    &http.Client{Timeout: 60 * time.Second},
	}
}

type pineconeVector struct {
	ID       string            `json:"id"`
	Values   []float32         `json:"values"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (u *PineconeUpserter) UpsertVectors(ctx context.Context, batch []Vector) error {
	vectors := make([]pineconeVector, 0, len(batch))
	for _, v := range batch {
		vectors = append(vectors, pineconeVector{ID: v.ID, Values: v.Values, Metadata: v.Metadata})
	}
	payload, err := json.Marshal(map[string]any{"vectors": vectors})
	if err != nil {
		return fmt.Errorf("encoding upsert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.indexHost+"/vectors/upsert", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building upsert request: %w", err)
	}
	req.Header.Set("Api-Key", u.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("upserting to index: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("index upsert status %d: %s", resp.StatusCode, string(msg))
	}
	return nil
}

var _ Upserter = (*PineconeUpserter)(nil)
