package workflow

import "errors"

var (
	ErrNoSubject            = errors.New("no subject selected")
	ErrInvalidTransition    = errors.New("action not allowed in the current screening state")
	ErrStaleSubject         = errors.New("subject changed before the request completed")
	ErrUnknownSmokingCode   = errors.New("unknown smoking status code")
	ErrGateClosed           = errors.New("subject does not need a qualifying encounter")
	ErrSessionNotFound      = errors.New("session not found")
	ErrSubmissionFailed     = errors.New("submission failed")
	ErrSubmissionPending    = errors.New("a submission is already in progress")
	ErrInvalidReferenceDate = errors.New("reference date must be YYYY-MM-DD")
)
