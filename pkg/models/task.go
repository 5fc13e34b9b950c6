package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	TaskStatusInProgress = "IN_PROGRESS"
	TaskStatusSuccess    = "SUCCESS"
	TaskStatusFail       = "FAIL"
)

// Task is one append-only run record of a named recurring job. The latest
// row per name acts both as the single-flight token (IN_PROGRESS blocks new
// runs) and, once SUCCESS, as the watermark for "new since last time"
// queries. created_at is never updated in place.
type Task struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	Name      string    `db:"name"       json:"name"`
	Status    string    `db:"status"     json:"status"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// InProgress reports whether the run has not reached a terminal status.
func (t *Task) InProgress() bool { return t.Status == TaskStatusInProgress }
