package executor

import (
	"errors"
	"fmt"
)

// ErrNoProviderAvailable is returned when the registry is empty.
var ErrNoProviderAvailable = errors.New("executor: no provider available")

// errProviderExhausted is the identity target for ExhaustedError.
var errProviderExhausted = errors.New("executor: all providers exhausted")

// ExhaustedError reports that every adapter in the registry failed for one
// execute call. It carries the last adapter error as its cause and matches
// IsProviderExhausted.
type ExhaustedError struct {
	Attempts int
	LastErr  error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("executor: all %d providers exhausted, last error: %v", e.Attempts, e.LastErr)
}

func (e *ExhaustedError) Unwrap() error {
	return e.LastErr
}

func (e *ExhaustedError) Is(target error) bool {
	return target == errProviderExhausted
}

// IsProviderExhausted reports whether err is a provider-exhaustion failure.
func IsProviderExhausted(err error) bool {
	return errors.Is(err, errProviderExhausted)
}
