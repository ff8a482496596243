package workflow

import (
	"context"
)

type Repository interface {
	Create(ctx context.Context, s *Submission) error
	ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Submission, int, error)
}
