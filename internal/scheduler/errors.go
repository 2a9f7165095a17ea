package scheduler

import (
	"fmt"

	"github.com/rohmanhakim/site-archiver/internal/metadata"
	"github.com/rohmanhakim/site-archiver/pkg/failure"
)

type CrawlErrorCause string

const (
	ErrCauseInvalidInput     CrawlErrorCause = "invalid input"
	ErrCauseRootFetchFailure CrawlErrorCause = "root fetch failure"
	ErrCauseCancelled        CrawlErrorCause = "cancelled"
	ErrCauseArchiveFailure   CrawlErrorCause = "archive failure"
)

// CrawlError aborts a crawl. No archive is produced when one is returned.
type CrawlError struct {
	Message   string
	Retryable bool
	Cause     CrawlErrorCause
	Err       error
}

func (e *CrawlError) Error() string {
	return fmt.Sprintf("crawl error: %s, %s", e.Cause, e.Message)
}

func (e *CrawlError) Severity() failure.Severity {
	return failure.SeverityFatal
}

func (e *CrawlError) Unwrap() error {
	return e.Err
}

// mapCrawlErrorToMetadataCause maps scheduler-local error semantics
// to the canonical metadata.ErrorCause table.
//
// This mapping is observational only and MUST NOT be used
// to derive control-flow decisions.
func mapCrawlErrorToMetadataCause(err *CrawlError) metadata.ErrorCause {
	switch err.Cause {
	case ErrCauseInvalidInput:
		return metadata.CauseInvariantViolation
	case ErrCauseRootFetchFailure:
		return metadata.CauseNetworkFailure
	case ErrCauseArchiveFailure:
		return metadata.CauseStorageFailure
	default:
		return metadata.CauseUnknown
	}
}
