package bridge

import (
	"errors"
	"fmt"
)

var (
	ErrMissingField = errors.New("missing required field")
	ErrBadValue     = errors.New("malformed field value")
	ErrEmptyRecord  = errors.New("record not present")
)

// DecodeError reports why a bridge record was rejected. The whole record is
// discarded; nothing is partially applied.
type DecodeError struct {
	Record string // "bar", "state", "intent", "order"
	Field  string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("decode %s: %v", e.Record, e.Err)
	}
	return fmt.Sprintf("decode %s field %q: %v", e.Record, e.Field, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func missing(record, field string) error {
	return &DecodeError{Record: record, Field: field, Err: ErrMissingField}
}

func badValue(record, field string, err error) error {
	return &DecodeError{Record: record, Field: field, Err: fmt.Errorf("%w: %v", ErrBadValue, err)}
}
