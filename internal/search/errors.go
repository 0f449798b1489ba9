package search

import (
	"errors"
	"fmt"
)

// ErrWorkersInvalid is returned when a pool size below one is requested.
var ErrWorkersInvalid = errors.New("workers must be at least 1")

// TaskError reports a file that could not be searched. The file contributes no matches.
type TaskError struct {
	File string
	Err  error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("search %s: %v", e.File, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }
