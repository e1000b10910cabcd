package navigation

import (
	"encoding/json"
	"fmt"
	"time"
)

// Strategy selects how a navigation is issued.
type Strategy string

const (
	// StrategyNative asks the driver to load the URL.
	StrategyNative Strategy = "native"
	// StrategyLocation assigns window.location from inside the page after two
	// animation frames.
	StrategyLocation Strategy = "location"
)

// Options configures a Controller. Zero durations disable the matching wait.
type Options struct {
	Strategy Strategy
	// Retries is the number of navigation attempts before giving up.
	Retries int
	// RetryWaitTime is scaled by the attempt number to get each backoff.
	RetryWaitTime time.Duration
	SettleDelay   time.Duration
	// BlockingSettleDelay replaces SettleDelay when the driver's load
	// strategy already blocks until the document is ready.
	BlockingSettleDelay  time.Duration
	BlockingLoadStrategy bool
	NavigationTimeout    time.Duration
	CompletionTimeout    time.Duration
	PollInterval         time.Duration
	// SPA accepts an unchanged document URI as a completed navigation.
	SPA bool
	// URIReadDelay separates attempts to read the start document URI.
	URIReadDelay time.Duration
}

func DefaultOptions() Options {
	return Options{
		Strategy:            StrategyNative,
		Retries:             5,
		RetryWaitTime:       10 * time.Second,
		SettleDelay:         2 * time.Second,
		BlockingSettleDelay: 500 * time.Millisecond,
		NavigationTimeout:   5 * time.Minute,
		CompletionTimeout:   5 * time.Minute,
		PollInterval:        1500 * time.Millisecond,
		URIReadDelay:        time.Second,
	}
}

func (o Options) settleDelay() time.Duration {
	if o.BlockingLoadStrategy {
		return o.BlockingSettleDelay
	}
	return o.SettleDelay
}

// ParseStrategy maps a configuration value to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "", StrategyNative:
		return StrategyNative, nil
	case StrategyLocation:
		return StrategyLocation, nil
	default:
		return "", fmt.Errorf("unknown navigation strategy %q", s)
	}
}

func locationScript(url string) string {
	quoted, _ := json.Marshal(url)
	return fmt.Sprintf(`window.requestAnimationFrame(function() {
  window.requestAnimationFrame(function() { window.location = %s; });
});
return true;`, quoted)
}
