package assets

import (
	"fmt"

	"github.com/rohmanhakim/site-archiver/internal/metadata"
	"github.com/rohmanhakim/site-archiver/pkg/failure"
)

type AssetsErrorCause string

const (
	ErrCauseAssetFetchFailure AssetsErrorCause = "failed to fetch asset"
	ErrCauseDecodeFailure     AssetsErrorCause = "failed to decode data uri"
	ErrCauseEmptyPath         AssetsErrorCause = "asset url has no file name"
	ErrCauseArchiveWrite      AssetsErrorCause = "failed to add asset to archive"
)

type AssetsError struct {
	Message   string
	Retryable bool
	Cause     AssetsErrorCause
	// Reference is the asset URL, or a shortened data URI.
	Reference string
	Err       error
}

func (e *AssetsError) Error() string {
	return fmt.Sprintf("assets error: %s, %s", e.Cause, e.Message)
}

// Severity is recoverable for per-reference problems; only archive write
// failures abort the crawl.
func (e *AssetsError) Severity() failure.Severity {
	if e.Cause == ErrCauseArchiveWrite {
		return failure.SeverityFatal
	}
	return failure.SeverityRecoverable
}

func (e *AssetsError) Unwrap() error {
	return e.Err
}

// mapAssetsErrorToMetadataCause maps assets-local error semantics
// to the canonical metadata.ErrorCause table.
//
// This mapping is observational only and MUST NOT be used
// to derive control-flow decisions.
func mapAssetsErrorToMetadataCause(err *AssetsError) metadata.ErrorCause {
	switch err.Cause {
	case ErrCauseAssetFetchFailure:
		return metadata.CauseNetworkFailure
	case ErrCauseDecodeFailure, ErrCauseEmptyPath:
		return metadata.CauseContentInvalid
	case ErrCauseArchiveWrite:
		return metadata.CauseStorageFailure
	default:
		return metadata.CauseUnknown
	}
}

// shortReference keeps data URIs readable in logs and warnings.
func shortReference(ref string) string {
	const maxLen = 64
	if len(ref) <= maxLen {
		return ref
	}
	return ref[:maxLen] + "..."
}
