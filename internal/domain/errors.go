package domain

import "errors"

// Sentinel errors for pipeline resources.
var (
	// ErrSourceNotFound signals a missing source.
	ErrSourceNotFound = errors.New("source not found")
	// ErrUploadNotFound signals that no upload payload is pending for a source.
	ErrUploadNotFound = errors.New("upload payload not found")
)

// ErrorKind classifies pipeline failures. Kinds, not concrete error types,
// drive the retry decision: the retry framework checks the kind of a surfaced
// error against its retryable set.
type ErrorKind string

// Pipeline error kinds.
const (
	KindMissingUpload          ErrorKind = "missing-upload"
	KindExtractionFailed       ErrorKind = "extraction-failed"
	KindEmbeddingCountMismatch ErrorKind = "embedding-count-mismatch"
	KindEmbeddingQuotaExceeded ErrorKind = "embedding-quota-exceeded"
	KindEmbeddingAuthFailed    ErrorKind = "embedding-auth-failed"
	KindEmbeddingUnavailable   ErrorKind = "embedding-service-unavailable"
	KindGenerationFailed       ErrorKind = "generation-failed"
	KindSummaryMalformed       ErrorKind = "summary-malformed"
	KindPersistenceBatchFailed ErrorKind = "persistence-batch-failed"
	KindStreamTransport        ErrorKind = "stream-transport-error"
)

// PipelineError tags an underlying error with its taxonomy kind.
// The causal error is always preserved via Unwrap.
type PipelineError struct {
	Kind ErrorKind
	Err  error
}

func (e *PipelineError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *PipelineError) Unwrap() error { return e.Err }

// NewPipelineError wraps err with a taxonomy kind.
func NewPipelineError(kind ErrorKind, err error) error {
	return &PipelineError{Kind: kind, Err: err}
}

// KindOf extracts the taxonomy kind from an error chain.
func KindOf(err error) (ErrorKind, bool) {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return "", false
}
