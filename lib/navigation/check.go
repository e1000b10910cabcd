package navigation

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Driver is the part of a browser driver the controller needs.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	CurrentDocumentURI(ctx context.Context) (string, error)
	// Evaluate runs script as the body of a function in the page and returns
	// its JSON-decoded return value.
	Evaluate(ctx context.Context, script string, budget time.Duration) (any, error)
	TakeScreenshot(ctx context.Context) ([]byte, error)
}

// CompletionCheck decides whether a page load is finished. It is polled until
// it reports true or the completion timeout fires. An error is an in-page
// failure and ends the navigation.
type CompletionCheck interface {
	Done(ctx context.Context, d Driver) (bool, error)
}

// CheckFunc adapts a function to CompletionCheck.
type CheckFunc func(ctx context.Context, d Driver) (bool, error)

func (f CheckFunc) Done(ctx context.Context, d Driver) (bool, error) { return f(ctx, d) }

// resetter is implemented by checks that keep state across polls.
type resetter interface {
	Reset()
}

// DefaultPageCompleteScript reports completion once the load event has ended
// and the page has been quiet for two more seconds.
const DefaultPageCompleteScript = `
var nav = performance.getEntriesByType('navigation')[0];
if (!nav) {
  var t = window.performance.timing;
  return t.loadEventEnd > 0 && performance.now() > (t.loadEventEnd - t.navigationStart) + 2000;
}
return nav.loadEventEnd > 0 && performance.now() > nav.loadEventEnd + 2000;
`

// ScriptCheck evaluates Script and treats a true result as complete.
type ScriptCheck struct {
	Script string
	// Budget bounds each evaluation inside the page.
	Budget time.Duration
}

func (s ScriptCheck) Done(ctx context.Context, d Driver) (bool, error) {
	script := s.Script
	if script == "" {
		script = DefaultPageCompleteScript
	}
	v, err := d.Evaluate(ctx, script, s.Budget)
	if err != nil {
		return false, err
	}
	done, _ := v.(bool)
	return done, nil
}

const resourceCountScript = `
if (document.readyState !== 'complete') { return -1; }
return performance.getEntriesByType('resource').length;
`

// NetworkIdleCheck treats the page as complete once the document has loaded
// and no new resource has started for Idle.
type NetworkIdleCheck struct {
	Idle time.Duration
	now  func() time.Time

	mu         sync.Mutex
	seen       bool
	lastCount  float64
	lastChange time.Time
}

func NewNetworkIdleCheck(idle time.Duration) *NetworkIdleCheck {
	return &NetworkIdleCheck{Idle: idle, now: time.Now}
}

func (n *NetworkIdleCheck) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seen = false
	n.lastCount = 0
	n.lastChange = time.Time{}
}

func (n *NetworkIdleCheck) Done(ctx context.Context, d Driver) (bool, error) {
	v, err := d.Evaluate(ctx, resourceCountScript, 0)
	if err != nil {
		return false, err
	}
	count, ok := v.(float64)
	if !ok {
		return false, fmt.Errorf("unexpected resource count %v (%T)", v, v)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	now := n.now()
	if count < 0 {
		n.seen = false
		return false, nil
	}
	if !n.seen || count != n.lastCount {
		n.seen = true
		n.lastCount = count
		n.lastChange = now
		return false, nil
	}
	return now.Sub(n.lastChange) >= n.Idle, nil
}
