package finder

import (
	"errors"
	"fmt"

	"github.com/unijord/timeseek/pkg/position"
)

// ErrConcurrentFind rejects a find issued while another one is running on
// the same finder.
var ErrConcurrentFind = errors.New("last find is still running")

// SearchFailedError reports a search that could not complete.
type SearchFailedError struct {
	Cause error
	// LastExamined is the last position read before the failure, if any.
	LastExamined *position.Position
}

func (e *SearchFailedError) Error() string {
	if e.LastExamined == nil {
		return fmt.Sprintf("find entry failed: %v", e.Cause)
	}
	return fmt.Sprintf("find entry failed at %s: %v", e.LastExamined, e.Cause)
}

func (e *SearchFailedError) Unwrap() error {
	return e.Cause
}
