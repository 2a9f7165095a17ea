package storage

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rohmanhakim/site-archiver/internal/metadata"
	"github.com/rohmanhakim/site-archiver/pkg/failure"
	"github.com/rohmanhakim/site-archiver/pkg/fileutil"
	"github.com/rohmanhakim/site-archiver/pkg/hashutil"
)

/*
Responsibilities
- Accept archive entries by relative path
- Keep entries out of memory by spooling them to a private directory
- Resolve duplicate paths last-write-wins, reporting the overwrite
- Package all entries into a single deflate-compressed zip

Output Characteristics
- Entries are written in sorted path order
- Every entry path is relative, forward-slash separated and free of ".."
- The spool directory is removed on Finalize or Close
*/
type ZipArchive struct {
	mu           sync.Mutex
	metadataSink metadata.MetadataSink
	hashAlgo     hashutil.HashAlgo
	spoolDir     string
	entries      map[string]spoolEntry
	seq          int
	createdAt    time.Time
	closed       bool
}

// NewZipArchive creates an empty archive spooling under spoolRoot.
// An empty spoolRoot uses the OS temp directory.
func NewZipArchive(
	metadataSink metadata.MetadataSink,
	spoolRoot string,
	hashAlgo hashutil.HashAlgo,
) (*ZipArchive, failure.ClassifiedError) {
	if metadataSink == nil {
		metadataSink = &metadata.NoopSink{}
	}
	if !hashutil.IsSupported(hashAlgo) {
		return nil, &StorageError{
			Message:   fmt.Sprintf("unsupported hash algorithm %q", hashAlgo),
			Retryable: false,
			Cause:     ErrCauseHashComputationFailed,
		}
	}
	if spoolRoot != "" {
		if err := fileutil.EnsureDir(spoolRoot); err != nil {
			return nil, &StorageError{
				Message:   err.Error(),
				Retryable: false,
				Cause:     ErrCauseSpoolFailure,
				Path:      spoolRoot,
			}
		}
	}
	spoolDir, err := os.MkdirTemp(spoolRoot, "site-archiver-*")
	if err != nil {
		return nil, &StorageError{
			Message:   err.Error(),
			Retryable: false,
			Cause:     ErrCauseSpoolFailure,
			Path:      spoolRoot,
		}
	}
	return &ZipArchive{
		metadataSink: metadataSink,
		hashAlgo:     hashAlgo,
		spoolDir:     spoolDir,
		entries:      make(map[string]spoolEntry),
		createdAt:    time.Now(),
	}, nil
}

// Add stores data under entryPath, replacing any earlier entry with the same path.
func (z *ZipArchive) Add(entryPath string, data []byte) (WriteResult, failure.ClassifiedError) {
	result, err := z.add(entryPath, data)
	if err != nil {
		z.recordError("ZipArchive.Add", err)
		return WriteResult{}, err
	}

	attrs := []metadata.Attribute{
		metadata.NewAttr(metadata.AttrArchivePath, result.Path()),
		metadata.NewAttr(metadata.AttrContentHash, result.ContentHash()),
		metadata.NewAttr(metadata.AttrSize, fmt.Sprint(result.Size())),
	}
	if result.Overwritten() {
		attrs = append(attrs, metadata.NewAttr(metadata.AttrOverwritten, "true"))
	}
	z.metadataSink.RecordArtifact(artifactKind(entryPath), entryPath, attrs)
	return result, nil
}

func (z *ZipArchive) add(entryPath string, data []byte) (WriteResult, *StorageError) {
	if err := ValidateEntryPath(entryPath); err != nil {
		return WriteResult{}, err
	}

	contentHash, hashErr := hashutil.HashBytes(data, z.hashAlgo)
	if hashErr != nil {
		return WriteResult{}, &StorageError{
			Message:   hashErr.Error(),
			Retryable: false,
			Cause:     ErrCauseHashComputationFailed,
			Path:      entryPath,
		}
	}

	z.mu.Lock()
	defer z.mu.Unlock()

	if z.closed {
		return WriteResult{}, &StorageError{
			Message:   "cannot add entries after finalize or close",
			Retryable: false,
			Cause:     ErrCauseFinalized,
			Path:      entryPath,
		}
	}

	z.seq++
	spoolFile := filepath.Join(z.spoolDir, fmt.Sprintf("%08d.entry", z.seq))
	if err := fileutil.WriteFile(spoolFile, data); err != nil {
		return WriteResult{}, mapFileError(err, entryPath)
	}

	previous, overwritten := z.entries[entryPath]
	if overwritten {
		_ = os.Remove(previous.file)
	}
	z.entries[entryPath] = spoolEntry{
		file:        spoolFile,
		size:        int64(len(data)),
		contentHash: contentHash,
	}

	return NewWriteResult(entryPath, contentHash, int64(len(data)), overwritten), nil
}

// Len returns the number of distinct entry paths.
func (z *ZipArchive) Len() int {
	z.mu.Lock()
	defer z.mu.Unlock()
	return len(z.entries)
}

// Finalize packages every entry into zip bytes and releases the spool.
func (z *ZipArchive) Finalize() ([]byte, failure.ClassifiedError) {
	var buf bytes.Buffer
	if err := z.FinalizeTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// FinalizeTo streams the zip to w and releases the spool.
func (z *ZipArchive) FinalizeTo(w io.Writer) failure.ClassifiedError {
	z.mu.Lock()
	defer z.mu.Unlock()

	if z.closed {
		err := &StorageError{
			Message:   "archive already finalized or closed",
			Retryable: false,
			Cause:     ErrCauseFinalized,
		}
		z.recordError("ZipArchive.Finalize", err)
		return err
	}
	defer z.release()

	counter := &countingWriter{w: w}
	if err := z.writeZip(counter); err != nil {
		z.recordError("ZipArchive.Finalize", err)
		return err
	}

	z.metadataSink.RecordArtifact(metadata.ArtifactArchive, "", []metadata.Attribute{
		metadata.NewAttr(metadata.AttrSize, fmt.Sprint(counter.n)),
		metadata.NewAttr(metadata.AttrField, fmt.Sprintf("entries=%d", len(z.entries))),
	})
	return nil
}

func (z *ZipArchive) writeZip(w io.Writer) *StorageError {
	paths := make([]string, 0, len(z.entries))
	for p := range z.entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	zw := zip.NewWriter(w)
	for _, p := range paths {
		if err := z.writeZipEntry(zw, p, z.entries[p]); err != nil {
			return &StorageError{
				Message:   err.Error(),
				Retryable: false,
				Cause:     ErrCauseArchiveFailure,
				Path:      p,
			}
		}
	}
	if err := zw.Close(); err != nil {
		return &StorageError{
			Message:   err.Error(),
			Retryable: false,
			Cause:     ErrCauseArchiveFailure,
		}
	}
	return nil
}

func (z *ZipArchive) writeZipEntry(zw *zip.Writer, entryPath string, entry spoolEntry) error {
	header := &zip.FileHeader{
		Name:     entryPath,
		Method:   zip.Deflate,
		Modified: z.createdAt,
	}
	dst, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	src, err := os.Open(entry.file)
	if err != nil {
		return err
	}
	defer src.Close()
	_, err = io.Copy(dst, src)
	return err
}

// Close discards the spool. It is safe to call after Finalize and more than once.
func (z *ZipArchive) Close() error {
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.closed {
		return nil
	}
	return z.release()
}

// release must be called with mu held.
func (z *ZipArchive) release() error {
	z.closed = true
	return os.RemoveAll(z.spoolDir)
}

func (z *ZipArchive) recordError(action string, err *StorageError) {
	z.metadataSink.RecordError(
		time.Now(),
		"storage",
		action,
		mapStorageErrorToMetadataCause(err),
		err.Error(),
		[]metadata.Attribute{
			metadata.NewAttr(metadata.AttrArchivePath, err.Path),
		},
	)
}

// ValidateEntryPath rejects empty, absolute, backslash-separated and
// non-normalized paths, including any ".." segment.
func ValidateEntryPath(entryPath string) *StorageError {
	invalid := func(reason string) *StorageError {
		return &StorageError{
			Message:   fmt.Sprintf("%s: %q", reason, entryPath),
			Retryable: false,
			Cause:     ErrCauseInvalidPath,
			Path:      entryPath,
		}
	}
	switch {
	case entryPath == "":
		return invalid("empty path")
	case strings.HasPrefix(entryPath, "/"):
		return invalid("leading separator")
	case strings.Contains(entryPath, "\\"):
		return invalid("backslash separator")
	case strings.HasSuffix(entryPath, "/"):
		return invalid("directory path")
	}
	for _, segment := range strings.Split(entryPath, "/") {
		if segment == ".." {
			return invalid("parent segment")
		}
	}
	if path.Clean(entryPath) != entryPath {
		return invalid("path is not normalized")
	}
	return nil
}

func mapFileError(err failure.ClassifiedError, entryPath string) *StorageError {
	var fileErr *fileutil.FileError
	if errors.As(err, &fileErr) && fileErr.Cause == fileutil.ErrCauseDiskFull {
		return &StorageError{
			Message:   err.Error(),
			Retryable: fileErr.Retryable,
			Cause:     ErrCauseDiskFull,
			Path:      entryPath,
		}
	}
	return &StorageError{
		Message:   err.Error(),
		Retryable: false,
		Cause:     ErrCauseWriteFailure,
		Path:      entryPath,
	}
}

func artifactKind(entryPath string) metadata.ArtifactKind {
	if strings.HasPrefix(entryPath, "html/") {
		return metadata.ArtifactPage
	}
	return metadata.ArtifactAsset
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
