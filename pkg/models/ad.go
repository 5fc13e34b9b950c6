// Package models contains shared data models used across the pincrawl codebase.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Ad represents one scraped marketplace listing. The URL is the natural key:
// discovery creates at most one Ad per URL, and all updates are upserts by URL.
type Ad struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	URL       string    `db:"url"        json:"url"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`

	// Retrieval lifecycle.
	ScrapedAt *time.Time `db:"scraped_at" json:"scraped_at,omitempty"`
	Content   *string    `db:"content"    json:"content,omitempty"`
	ScrapeID  *string    `db:"scrape_id"  json:"scrape_id,omitempty"`

	// Extracted ad attributes. Absent fields stay nil — extraction never guesses.
	Title       *string `db:"title"       json:"title,omitempty"`
	Description *string `db:"description" json:"description,omitempty"`
	Amount      *int    `db:"amount"      json:"amount,omitempty"` // minor currency units
	Currency    *string `db:"currency"    json:"currency,omitempty"`
	City        *string `db:"city"        json:"city,omitempty"`
	Zipcode     *string `db:"zipcode"     json:"zipcode,omitempty"`
	Seller      *string `db:"seller"      json:"seller,omitempty"`
	SellerURL   *string `db:"seller_url"  json:"seller_url,omitempty"`

	// Matched product attributes. OpdbID nil means the candidate product was
	// named by extraction but never confirmed against the catalog.
	IdentifiedAt *time.Time `db:"identified_at" json:"identified_at,omitempty"`
	Product      *string    `db:"product"       json:"product,omitempty"`
	Manufacturer *string    `db:"manufacturer"  json:"manufacturer,omitempty"`
	Year         *string    `db:"year"          json:"year,omitempty"`
	OpdbID       *string    `db:"opdb_id"       json:"opdb_id,omitempty"`

	// Control flags.
	Ignored bool `db:"ignored" json:"ignored"`
	Retries int  `db:"retries" json:"retries"`

	// PreviousID links to the most recent earlier Ad sharing the same
	// (seller_url, opdb_id) pair, forming a per-seller price-history chain.
	PreviousID *uuid.UUID `db:"previous_id" json:"previous_id,omitempty"`
}

// Scraped reports whether the ad content has been retrieved.
func (a *Ad) Scraped() bool { return a.ScrapedAt != nil }

// Identified reports whether extraction succeeded for this ad.
func (a *Ad) Identified() bool { return a.IdentifiedAt != nil }

// Confirmed reports whether the ad was tied to a canonical catalog entry.
func (a *Ad) Confirmed() bool { return a.OpdbID != nil }
