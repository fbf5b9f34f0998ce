package audit

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidReviewStatus is returned for review targets outside reviewed/approved/flagged.
	ErrInvalidReviewStatus = errors.New("invalid review status")
	// ErrArchivedImmutable is returned when an update would un-archive a record.
	ErrArchivedImmutable = errors.New("archived flag cannot be cleared")
	// ErrStoreClosed is returned by engines after Close.
	ErrStoreClosed = errors.New("event store closed")
)

// NotFoundError is returned when no record exists for an id.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("audit record '%s' not found", e.ID)
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// ValidationError describes malformed caller input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// IsValidation checks if an error is caused by invalid input.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) || errors.Is(err, ErrInvalidReviewStatus)
}
