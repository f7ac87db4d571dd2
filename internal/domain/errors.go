package domain

import "errors"

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation error")
	ErrConflict   = errors.New("conflict")

	// ErrAlreadySent is returned when a second sent entry is recorded for a ledger key.
	ErrAlreadySent = errors.New("notification already sent")
)
