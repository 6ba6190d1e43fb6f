package rag

import (
	"errors"
	"fmt"
)

var (
	ErrQuestionTooShort = errors.New("question must be at least 5 characters long")
	ErrQuestionTooLong  = errors.New("question must be less than 1000 characters")
	ErrMissingOwner     = errors.New("owner id is required")
	ErrMissingDocument  = errors.New("document id is required")
)

// ValidationError rejects a request before any index access.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

// IndexingError leaves the document IndexFailed; reprocessing retries it.
type IndexingError struct {
	DocumentID string
	Err        error
}

func (e *IndexingError) Error() string {
	return fmt.Sprintf("index document %s failed: %v", e.DocumentID, e.Err)
}
func (e *IndexingError) Unwrap() error { return e.Err }

// GenerationError is returned after a degraded session has been persisted.
type GenerationError struct {
	SessionID string
	Err       error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generate answer failed: %v", e.Err)
}
func (e *GenerationError) Unwrap() error { return e.Err }

type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}
func (e *StoreError) Unwrap() error { return e.Err }
