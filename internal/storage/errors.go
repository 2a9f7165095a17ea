package storage

import (
	"fmt"

	"github.com/rohmanhakim/site-archiver/internal/metadata"
	"github.com/rohmanhakim/site-archiver/pkg/failure"
)

type StorageErrorCause string

const (
	ErrCauseInvalidPath           StorageErrorCause = "invalid entry path"
	ErrCauseDiskFull              StorageErrorCause = "disk is full"
	ErrCauseWriteFailure          StorageErrorCause = "write failed"
	ErrCauseSpoolFailure          StorageErrorCause = "spool unavailable"
	ErrCauseArchiveFailure        StorageErrorCause = "archive packaging failed"
	ErrCauseHashComputationFailed StorageErrorCause = "hash computation failed"
	ErrCauseFinalized             StorageErrorCause = "archive already finalized"
)

type StorageError struct {
	Message   string
	Retryable bool
	Cause     StorageErrorCause
	Path      string
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error: %s, %s", e.Cause, e.Message)
}

func (e *StorageError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

// mapStorageErrorToMetadataCause maps storage-local error semantics
// to the canonical metadata.ErrorCause table.
//
// This mapping is observational only and MUST NOT be used
// to derive control-flow decisions.
func mapStorageErrorToMetadataCause(err *StorageError) metadata.ErrorCause {
	switch err.Cause {
	case ErrCauseDiskFull, ErrCauseWriteFailure, ErrCauseSpoolFailure, ErrCauseArchiveFailure:
		return metadata.CauseStorageFailure
	case ErrCauseInvalidPath, ErrCauseFinalized:
		return metadata.CauseInvariantViolation
	default:
		return metadata.CauseUnknown
	}
}
