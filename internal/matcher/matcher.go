// Package matcher confirms extracted product candidates against the
// catalog via embedding similarity.
package matcher

import (
	"context"

	"github.com/pincrawl/pincrawl/pkg/models"
)

// Matcher resolves a product candidate to its canonical catalog entry.
type Matcher interface {
	// Match looks up the nearest catalog product for the candidate. On a
	// hit the returned info carries the catalog's canonical name,
	// manufacturer and year with OpdbID set. On a miss the candidate is
	// returned unchanged with OpdbID nil.
	Match(ctx context.Context, info models.ProductInfo) (models.ProductInfo, error)
}

func applyCatalogHit(info models.ProductInfo, p models.ProductInfo) models.ProductInfo {
	// Canonical catalog values replace whatever extraction guessed.
	info.Name = p.Name
	info.Shortname = p.Shortname
	info.Manufacturer = p.Manufacturer
	info.Year = p.Year
	info.OpdbID = p.OpdbID
	return info
}
