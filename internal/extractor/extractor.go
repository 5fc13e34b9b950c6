// Package extractor turns retrieved page content into structured ad and
// product attributes.
package extractor

import (
	"context"
	"errors"

	"github.com/pincrawl/pincrawl/pkg/models"
)

var (
	// ErrEmptyResponse is returned when the provider answered but produced
	// no usable output.
	ErrEmptyResponse = errors.New("extractor returned empty response")
	// ErrInvalidResponse is returned when the provider output could not be
	// parsed into the expected structure.
	ErrInvalidResponse = errors.New("extractor returned invalid response")
	// ErrUnavailable is returned when the provider could not be reached.
	ErrUnavailable = errors.New("extractor unavailable")
)

// Result is a single extraction outcome. Product is nil when the content
// names no identifiable product.
type Result struct {
	Ad      models.AdInfo
	Product *models.ProductInfo
}

// Extractor derives structured fields from raw listing content.
type Extractor interface {
	Extract(ctx context.Context, content string) (*Result, error)
}
