package navigation

// outcome is the result of one navigate-and-wait attempt. The retry loop
// switches on its concrete type.
type outcome interface {
	isOutcome()
}

// completed ends the loop successfully.
type completed struct {
	documentURI string
	// timedOut is set when the completion check ran out of time; the page
	// is used as it is.
	timedOut bool
}

// retryableFailure means the browser never left the start document.
type retryableFailure struct {
	documentURI string
}

// fatalFailure ends the loop with err.
type fatalFailure struct {
	err error
}

func (completed) isOutcome()        {}
func (retryableFailure) isOutcome() {}
func (fatalFailure) isOutcome()     {}
