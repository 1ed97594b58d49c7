package runner

import (
	"errors"
	"fmt"
)

// TransientError is a store failure that aborted a cycle. The next cycle may
// succeed; the runner itself does not retry.
type TransientError struct {
	Op  string // read_bar, read_state, write_intents
	Key string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("runner %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsRetryable is always true for a TransientError.
func (e *TransientError) IsRetryable() bool {
	return true
}

// IsRetryable reports whether err carries a retryable failure.
func IsRetryable(err error) bool {
	var r interface{ IsRetryable() bool }
	return errors.As(err, &r) && r.IsRetryable()
}
