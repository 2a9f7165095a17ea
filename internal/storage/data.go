package storage

// WriteResult describes an entry accepted by the archive.
type WriteResult struct {
	path        string
	contentHash string
	size        int64
	overwritten bool
}

func NewWriteResult(
	path string,
	contentHash string,
	size int64,
	overwritten bool,
) WriteResult {
	return WriteResult{
		path:        path,
		contentHash: contentHash,
		size:        size,
		overwritten: overwritten,
	}
}

func (w *WriteResult) Path() string {
	return w.path
}

func (w *WriteResult) ContentHash() string {
	return w.contentHash
}

func (w *WriteResult) Size() int64 {
	return w.size
}

// Overwritten reports whether an earlier entry with the same path was replaced.
func (w *WriteResult) Overwritten() bool {
	return w.overwritten
}

// spoolEntry locates an entry's bytes on disk until the archive is finalized.
type spoolEntry struct {
	file        string
	size        int64
	contentHash string
}
