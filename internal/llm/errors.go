package llm

import (
	"errors"
	"fmt"
)

// UpstreamError reports a failed call to a model provider. StatusCode
// is zero when no HTTP response arrived.
type UpstreamError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("%s: upstream error %d: %s", e.Provider, e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: upstream error %d", e.Provider, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s: request failed: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("%s: request failed: %s", e.Provider, e.Message)
}

// Unwrap returns the underlying transport error, if any.
func (e *UpstreamError) Unwrap() error { return e.Err }

// IsUpstream reports whether err came from a model provider.
func IsUpstream(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue)
}
