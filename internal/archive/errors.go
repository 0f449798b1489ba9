package archive

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsafePath is returned when a member name would escape the destination directory.
	ErrUnsafePath = errors.New("unsafe member path")

	// ErrWorkersInvalid is returned when a pool size below one is requested.
	ErrWorkersInvalid = errors.New("workers must be at least 1")
)

// ExtractionError reports a failure to extract one archive.
type ExtractionError struct {
	Archive string
	Member  string // empty when the archive itself could not be read
	Err     error
}

func (e *ExtractionError) Error() string {
	if e.Member != "" {
		return fmt.Sprintf("extract %s (member %s): %v", e.Archive, e.Member, e.Err)
	}
	return fmt.Sprintf("extract %s: %v", e.Archive, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }
