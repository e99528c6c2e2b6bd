package fpl

import (
	"errors"
	"fmt"
)

// ErrProviderUnavailable is returned when the FPL API cannot be reached,
// times out, or answers with a non-success status.
var ErrProviderUnavailable = errors.New("fpl provider unavailable")

// ParseError indicates the provider answered with a payload we could not
// understand.
type ParseError struct {
	Endpoint string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("fpl: malformed %s response: %v", e.Endpoint, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// IsParseError reports whether err wraps a ParseError
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}
