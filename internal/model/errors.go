package model

import "errors"

var (
	ErrForbiddenTransition       = errors.New("forbidden transition")
	ErrConflict                  = errors.New("version conflict")
	ErrInvalidPayload            = errors.New("invalid command payload")
	ErrPaymentAdapterUnavailable = errors.New("payment adapter unavailable")
	ErrNotFound                  = errors.New("not found")
)
