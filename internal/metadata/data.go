package metadata

import (
	"time"
)

type FetchEvent struct {
	fetchUrl    string
	httpStatus  int
	duration    time.Duration
	contentType string
	retryCount  int
	crawlDepth  int
}

/*
crawlStats
  - Represents a terminal, derived summary of a completed crawl
  - Contains only aggregate counts and durations
  - Is computed by the scheduler after crawl termination
  - Is recorded exactly once per crawl
  - Must not influence scheduling, retries, or crawl termination
*/
type crawlStats struct {
	totalPages  int
	totalErrors int
	totalAssets int
	durationMs  int64
}

/*
ErrorCause is a closed, canonical classification used exclusively for
observability (logging, metrics, reporting).

Rules:
  - ErrorCause MUST NOT influence control flow.
  - ErrorCause MUST NOT be used for retry, continuation, or abort decisions.
  - Pipeline packages MAY map their local errors to ErrorCause,
    but MUST NOT invent new meanings.

If a failure does not clearly match a defined cause, CauseUnknown MUST be used.
*/
type ErrorCause int

/*
Canonical ErrorCause Table

# CauseUnknown
  - The failure does not map cleanly to any known category.

# CauseNetworkFailure
  - Network transport or remote availability: timeouts, DNS, resets, 5xx.

# CausePolicyDisallow
  - The remote refused access: HTTP 401 / 403.

# CauseContentInvalid
  - Content was fetched but could not be processed: non-HTML pages,
    malformed data URIs, unparseable references, empty asset paths.

# CauseStorageFailure
  - Failure while spooling or packaging archive entries.

# CauseInvariantViolation
  - A system-level invariant was violated: invalid crawl input, unsafe
    archive paths.

# CauseRetryFailure
  - All retry attempts for a retryable operation were exhausted.
*/
const (
	CauseUnknown ErrorCause = iota
	CauseNetworkFailure
	CausePolicyDisallow
	CauseContentInvalid
	CauseStorageFailure
	CauseInvariantViolation
	CauseRetryFailure
)

func (c ErrorCause) String() string {
	switch c {
	case CauseNetworkFailure:
		return "network_failure"
	case CausePolicyDisallow:
		return "policy_disallow"
	case CauseContentInvalid:
		return "content_invalid"
	case CauseStorageFailure:
		return "storage_failure"
	case CauseInvariantViolation:
		return "invariant_violation"
	case CauseRetryFailure:
		return "retry_failure"
	default:
		return "unknown"
	}
}

// ArtifactKind identifies what was written into the archive.
type ArtifactKind string

const (
	ArtifactPage    ArtifactKind = "page"
	ArtifactAsset   ArtifactKind = "asset"
	ArtifactArchive ArtifactKind = "archive"
)

type ErrorRecord struct {
	packageName string
	action      string
	cause       ErrorCause
	errorString string
	observedAt  time.Time
	attrs       []Attribute
}

type Attribute struct {
	Key   AttributeKey
	Value string
}

func NewAttr(key AttributeKey, val string) Attribute {
	return Attribute{
		Key:   key,
		Value: val,
	}
}

type AttributeKey string

const (
	AttrTime        AttributeKey = "time"
	AttrURL         AttributeKey = "url"
	AttrHost        AttributeKey = "host"
	AttrPath        AttributeKey = "path"
	AttrDepth       AttributeKey = "depth"
	AttrField       AttributeKey = "field"
	AttrHTTPStatus  AttributeKey = "http_status"
	AttrAssetURL    AttributeKey = "asset_url"
	AttrArchivePath AttributeKey = "archive_path"
	AttrContentHash AttributeKey = "content_hash"
	AttrSize        AttributeKey = "size"
	AttrMessage     AttributeKey = "message"
	AttrOverwritten AttributeKey = "overwritten"
)
