package models

import "strings"

// AdInfo carries the ad attributes an extractor pulled out of retrieved
// content. Every field is optional: an extractor omits what it cannot find
// rather than guessing.
type AdInfo struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Amount      *int    `json:"amount,omitempty"`
	Currency    *string `json:"currency,omitempty"`
	City        *string `json:"city,omitempty"`
	Zipcode     *string `json:"zipcode,omitempty"`
	Seller      *string `json:"seller,omitempty"`
	SellerURL   *string `json:"seller_url,omitempty"`
}

// ProductInfo names a candidate product as extraction believes it, before
// catalog confirmation. After a successful match the fields hold the
// catalog's canonical values and OpdbID is set.
type ProductInfo struct {
	Name         string  `json:"name"`
	Shortname    *string `json:"shortname,omitempty"`
	Manufacturer *string `json:"manufacturer,omitempty"`
	Year         *string `json:"year,omitempty"`
	OpdbID       *string `json:"opdb_id,omitempty"`
}

// EmbeddingText renders the similarity key used for nearest-neighbor lookup:
// "name [shortname] by manufacturer from year", skipping absent parts.
func (p ProductInfo) EmbeddingText() string {
	parts := []string{}
	if p.Name != "" {
		parts = append(parts, p.Name)
	}
	if p.Shortname != nil && *p.Shortname != "" {
		parts = append(parts, *p.Shortname)
	}
	if p.Manufacturer != nil && *p.Manufacturer != "" {
		parts = append(parts, "by "+*p.Manufacturer)
	}
	if p.Year != nil && *p.Year != "" {
		parts = append(parts, "from "+*p.Year)
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

// ApplyTo copies extracted ad attributes onto an Ad record. Only present
// fields are written, so partial extractions never erase earlier data.
func (i AdInfo) ApplyTo(ad *Ad) {
	if i.Title != nil {
		ad.Title = i.Title
	}
	if i.Description != nil {
		ad.Description = i.Description
	}
	if i.Amount != nil {
		ad.Amount = i.Amount
	}
	if i.Currency != nil {
		ad.Currency = i.Currency
	}
	if i.City != nil {
		ad.City = i.City
	}
	if i.Zipcode != nil {
		ad.Zipcode = i.Zipcode
	}
	if i.Seller != nil {
		ad.Seller = i.Seller
	}
	if i.SellerURL != nil {
		ad.SellerURL = i.SellerURL
	}
}
