package app

import (
	"time"

	"github.com/google/uuid"
)

// Operation identifies one CLI invocation in the log. IDs sort by start
// time; the uuid suffix separates invocations started in the same second.
type Operation struct {
	ID        string
	Name      string
	StartedAt time.Time
	Status    string // "success" or "error"
}

// NewOperation creates an operation started at now.
func NewOperation(name string, now time.Time) *Operation {
	return &Operation{
		ID:        now.UTC().Format("20060102T150405Z") + "-" + uuid.NewString()[:8],
		Name:      name,
		StartedAt: now,
		Status:    "success",
	}
}

// Fail marks the operation as failed. Callers report the error itself.
func (op *Operation) Fail() {
	op.Status = "error"
}
