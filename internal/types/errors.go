package types

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyDocument is returned when extraction and chunking yield zero chunks.
	ErrEmptyDocument = errors.New("document produced no chunks")

	// ErrPreconditionViolated marks internal misuse, such as retrieving from an absent index.
	ErrPreconditionViolated = errors.New("precondition violated")
)

// UnsupportedFormatError rejects an upload whose extension has no reader.
// Extension keeps the leading dot, or is empty when the name has none.
type UnsupportedFormatError struct {
	Extension string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported document format %q", e.Extension)
}

// EmbeddingProviderError wraps a failed embedding call.
type EmbeddingProviderError struct {
	Err error
}

func (e *EmbeddingProviderError) Error() string {
	return fmt.Sprintf("embedding provider: %v", e.Err)
}

func (e *EmbeddingProviderError) Unwrap() error { return e.Err }

// GenerationProviderError wraps a failed condensation or answer generation call.
type GenerationProviderError struct {
	Err error
}

func (e *GenerationProviderError) Error() string {
	return fmt.Sprintf("generation provider: %v", e.Err)
}

func (e *GenerationProviderError) Unwrap() error { return e.Err }
