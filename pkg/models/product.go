package models

import "time"

// Product is a canonical catalog entry from the Open Pinball Database.
// Populated by a one-time load job and read-only from the pipeline's
// perspective except for matching lookups.
type Product struct {
	OpdbID       string    `db:"opdb_id"      json:"opdb_id"`
	IpdbID       *int      `db:"ipdb_id"      json:"ipdb_id,omitempty"`
	Name         string    `db:"name"         json:"name"`
	Shortname    *string   `db:"shortname"    json:"shortname,omitempty"`
	Manufacturer *string   `db:"manufacturer" json:"manufacturer,omitempty"`
	Type         *string   `db:"type"         json:"type,omitempty"`
	Year         *string   `db:"year"         json:"year,omitempty"`
	CreatedAt    time.Time `db:"created_at"   json:"created_at"`

	// Embedding is the little-endian float32 vector used by the local
	// matcher. Empty until the catalog has been indexed.
	Embedding []byte `db:"embedding" json:"-"`
}

// EmbeddingText builds the text the catalog embedding is generated from.
// The same format is used at query time so index and query vectors live in
// the same space.
func (p *Product) EmbeddingText() string {
	info := ProductInfo{Name: p.Name, Manufacturer: p.Manufacturer, Year: p.Year}
	if p.Shortname != nil && *p.Shortname != p.Name {
		info.Shortname = p.Shortname
	}
	return info.EmbeddingText()
}
