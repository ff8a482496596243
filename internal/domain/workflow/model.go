package workflow

import (
	"time"

	"github.com/google/uuid"
)

// Submission is one attempt to create a record on the exchange server.
type Submission struct {
	ID           uuid.UUID `db:"id" json:"id"`
	SessionID    string    `db:"session_id" json:"session_id"`
	PatientID    string    `db:"patient_id" json:"patient_id"`
	Kind         string    `db:"kind" json:"kind"`
	ResourceType string    `db:"resource_type" json:"resource_type"`
	ResourceID   string    `db:"resource_id" json:"resource_id,omitempty"`
	Success      bool      `db:"success" json:"success"`
	Error        string    `db:"error" json:"error,omitempty"`
	SubmittedBy  string    `db:"submitted_by" json:"submitted_by,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
