// Package mock provides a configurable extractor for tests.
package mock

import (
	"context"

	"github.com/pincrawl/pincrawl/internal/extractor"
)

// Extractor returns canned results and records calls.
type Extractor struct {
	ExtractFunc func(ctx context.Context, content string) (*extractor.Result, error)
	Calls       []string
}

func (m *Extractor) Extract(ctx context.Context, content string) (*extractor.Result, error) {
	m.Calls = append(m.Calls, content)
	if m.ExtractFunc != nil {
		return m.ExtractFunc(ctx, content)
	}
	return &extractor.Result{}, nil
}

var _ extractor.Extractor = (*Extractor)(nil)
