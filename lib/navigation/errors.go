package navigation

import (
	"errors"
	"fmt"
	"time"
)

// ErrWaitTimeout is returned when a bounded wait loses the race against its
// timer.
var ErrWaitTimeout = errors.New("wait timed out")

// TimeoutError means the completion check never reported the page as done.
// It is not fatal: the page is treated as partially loaded.
type TimeoutError struct {
	URL  string
	Wait time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("page complete check for %s did not finish within %s", e.URL, e.Wait)
}

func (e *TimeoutError) Unwrap() error { return ErrWaitTimeout }

// NeverNavigatedError means the document URI stayed at its starting value
// through every attempt.
type NeverNavigatedError struct {
	URL       string
	StartURI  string
	Attempts  int
	TotalWait time.Duration
}

func (e *NeverNavigatedError) Error() string {
	return fmt.Sprintf("could not load %s: document stayed at %q after %d attempts and %s of waiting",
		e.URL, e.StartURI, e.Attempts, e.TotalWait)
}

// ScriptError is an exception thrown by an in-page script, either the
// completion check or instrumentation.
type ScriptError struct {
	URL    string
	Script string
	Err    error
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("in-page script failed on %s: %v", e.URL, e.Err)
}

func (e *ScriptError) Unwrap() error { return e.Err }

// BrowserErrorPageError means the browser showed its own error page instead
// of the requested document.
type BrowserErrorPageError struct {
	URL         string
	DocumentURI string
}

func (e *BrowserErrorPageError) Error() string {
	return fmt.Sprintf("browser error page %q while loading %s", e.DocumentURI, e.URL)
}

// DriverError wraps a failed driver round-trip.
type DriverError struct {
	Op  string
	Err error
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("driver %s: %v", e.Op, e.Err)
}

func (e *DriverError) Unwrap() error { return e.Err }
