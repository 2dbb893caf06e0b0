package model

import (
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
)

// ErrorKind classifies a row-level failure.
type ErrorKind string

const (
	ErrorKindPrediction ErrorKind = "prediction"
	ErrorKindTimeout    ErrorKind = "timeout"
	ErrorKindCancelled  ErrorKind = "cancelled"
)

// Sentinels for errors.Is matching against a RowError. A timeout is a
// prediction failure raised by the scheduler, so it matches both
// ErrTimeout and ErrPrediction.
var (
	ErrPrediction = eris.New("prediction failed")
	ErrTimeout    = eris.New("prediction timed out")
	ErrCancelled  = eris.New("batch cancelled")
)

// RowError is the terminal error recorded on a failed BatchResult.
type RowError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// NewRowError builds a RowError of the given kind from an underlying error.
func NewRowError(kind ErrorKind, err error) *RowError {
	msg := string(kind)
	if err != nil {
		msg = err.Error()
	}
	return &RowError{Kind: kind, Message: msg}
}

func (e *RowError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is reports whether target is the sentinel for this error's kind.
func (e *RowError) Is(target error) bool {
	switch target {
	case ErrPrediction:
		return e.Kind == ErrorKindPrediction || e.Kind == ErrorKindTimeout
	case ErrTimeout:
		return e.Kind == ErrorKindTimeout
	case ErrCancelled:
		return e.Kind == ErrorKindCancelled
	}
	return false
}

// AsRowError extracts a RowError from err's chain.
func AsRowError(err error) (*RowError, bool) {
	var re *RowError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// ValidationError is a row-level input defect found before a row is enqueued.
// Row is the 1-based data row index in the source; 0 means file level.
type ValidationError struct {
	Row     int    `json:"row"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	switch {
	case e.Row == 0 && e.Field == "":
		return e.Message
	case e.Row == 0:
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	case e.Field == "":
		return fmt.Sprintf("row %d: %s", e.Row, e.Message)
	default:
		return fmt.Sprintf("row %d: %s: %s", e.Row, e.Field, e.Message)
	}
}

// ValidationWarning is a non-fatal note about an input row.
type ValidationWarning struct {
	Row     int    `json:"row"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (w ValidationWarning) String() string {
	return ValidationError(w).Error()
}
