package storage

import (
	"io"

	"github.com/rohmanhakim/site-archiver/pkg/failure"
)

// Sink accepts archive entries. Implementations must be safe for
// concurrent use.
type Sink interface {
	Add(entryPath string, data []byte) (WriteResult, failure.ClassifiedError)
}

// Archive is a Sink that can be packaged once all entries are in.
type Archive interface {
	Sink
	Finalize() ([]byte, failure.ClassifiedError)
	FinalizeTo(w io.Writer) failure.ClassifiedError
	Len() int
	Close() error
}
