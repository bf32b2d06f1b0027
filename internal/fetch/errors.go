package fetch

import (
	"fmt"
	"strings"
)

// FailureKind classifies why a provider could not produce a page.
type FailureKind string

// Failure kinds.
const (
	KindTimeout    FailureKind = "timeout"
	KindHTTPError  FailureKind = "http_error"
	KindParseError FailureKind = "parse_error"
	KindBlocked    FailureKind = "blocked"
)

// specificity ranks kinds when choosing which failure best explains an
// exhausted chain. A block says more about the page than a generic
// HTTP status, which says more than an empty body or a slow server.
var specificity = map[FailureKind]int{
	KindBlocked:    4,
	KindHTTPError:  3,
	KindParseError: 2,
	KindTimeout:    1,
}

// FetchError is a classified failure from one provider.
type FetchError struct {
	Source     Source
	Kind       FailureKind
	StatusCode int
	Paywall    bool
	Err        error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Source, e.Kind)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.StatusCode)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *FetchError) Unwrap() error { return e.Err }

func failure(src Source, kind FailureKind, status int, format string, args ...any) *FetchError {
	return &FetchError{
		Source:     src,
		Kind:       kind,
		StatusCode: status,
		Err:        fmt.Errorf(format, args...),
	}
}

// ChainError reports that every provider failed for URL.
type ChainError struct {
	URL      string
	Failures []*FetchError
}

// Error implements the error interface. A paywall seen by any provider
// takes precedence, since retrying will not help and the user should
// be told why.
func (e *ChainError) Error() string {
	if e.Paywalled() {
		return fmt.Sprintf("%s appears to be behind a paywall; no provider could retrieve the content", e.URL)
	}
	if best := e.MostSpecific(); best != nil {
		return fmt.Sprintf("could not fetch %s: %v", e.URL, best)
	}
	return fmt.Sprintf("could not fetch %s", e.URL)
}

// Unwrap exposes every provider failure to errors.Is and errors.As.
func (e *ChainError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

// Kind returns the kind of the most specific failure.
func (e *ChainError) Kind() FailureKind {
	if best := e.MostSpecific(); best != nil {
		return best.Kind
	}
	return ""
}

// Paywalled reports whether any provider saw a paywall.
func (e *ChainError) Paywalled() bool {
	for _, f := range e.Failures {
		if f.Paywall {
			return true
		}
	}
	return false
}

// MostSpecific returns the failure that best explains the outcome:
// the highest-ranked kind, earliest provider on ties.
func (e *ChainError) MostSpecific() *FetchError {
	var best *FetchError
	for _, f := range e.Failures {
		if best == nil || specificity[f.Kind] > specificity[best.Kind] {
			best = f
		}
	}
	return best
}
