package iteration

import "fmt"

// BrowserStartError means no browser session could be opened for an
// iteration. It belongs to no URL.
type BrowserStartError struct {
	Err error
}

func (e *BrowserStartError) Error() string {
	return fmt.Sprintf("browser failed to start: %v", e.Err)
}

func (e *BrowserStartError) Unwrap() error { return e.Err }

// PageError is a failure while measuring one page of a script.
type PageError struct {
	URL   string
	Alias string
	Err   error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("%s: %v", e.URL, e.Err)
}

func (e *PageError) Unwrap() error { return e.Err }
