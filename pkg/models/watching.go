package models

import (
	"time"

	"github.com/google/uuid"
)

// Watching is a watch subscription: one account interested in one catalog
// product. The (account_id, opdb_id) pair is unique. Rows are written by the
// account-facing surface and read-only here.
type Watching struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	AccountID uuid.UUID `db:"account_id" json:"account_id"`
	OpdbID    string    `db:"opdb_id"    json:"opdb_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
