package services

import (
	"errors"
	"fmt"
)

var (
	ErrForbidden  = errors.New("forbidden")
	ErrValidation = errors.New("validation failed")
	ErrAttachment = errors.New("attachment rejected")
	ErrNotFound   = errors.New("not found")
	// ErrPersistence marks failures of the message store. Callers may retry.
	ErrPersistence = errors.New("persistence failed")

	ErrAttachmentTooLarge      = fmt.Errorf("%w: too large", ErrAttachment)
	ErrStorageUnavailable      = fmt.Errorf("%w: storage service is not configured", ErrAttachment)
	ErrAppointmentNotConfirmed = fmt.Errorf("%w: appointment is not confirmed", ErrValidation)
	ErrAppointmentNotFound     = fmt.Errorf("%w: appointment not found", ErrValidation)
	ErrMessageNotFound         = fmt.Errorf("%w: message", ErrNotFound)
)

func validationError(reason string) error {
	return fmt.Errorf("%w: %s", ErrValidation, reason)
}

func persistenceError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}
