package fileutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/rohmanhakim/site-archiver/pkg/failure"
)

// EnsureDir check if a given directory plus the following path exist, then create one if not
func EnsureDir(dir string, path ...string) failure.ClassifiedError {
	targetPath := append([]string{dir}, path...)
	fullPath := filepath.Join(targetPath...)
	if err := os.MkdirAll(fullPath, 0755); err != nil {
		return &FileError{
			Message:   fmt.Sprintf("%v", err),
			Retryable: false,
			Cause:     ErrCausePathError,
			Path:      fullPath,
		}
	}
	return nil
}

// WriteFile writes data to filePath, creating parent directories as needed.
// A full disk is reported as recoverable; every other failure is fatal.
func WriteFile(filePath string, data []byte) failure.ClassifiedError {
	if err := EnsureDir(filepath.Dir(filePath)); err != nil {
		return err
	}
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		if errors.Is(err, syscall.ENOSPC) {
			return &FileError{
				Message:   fmt.Sprintf("%v", err),
				Retryable: true,
				Cause:     ErrCauseDiskFull,
				Path:      filePath,
			}
		}
		return &FileError{
			Message:   fmt.Sprintf("%v", err),
			Retryable: false,
			Cause:     ErrCauseWriteFailure,
			Path:      filePath,
		}
	}
	return nil
}
