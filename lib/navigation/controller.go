// Package navigation loads a URL in a browser and waits until the page is
// complete, retrying when the browser never leaves its starting document.
package navigation

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	retry "github.com/avast/retry-go/v5"
)

const startURIAttempts = 5

var errNoDocumentURI = errors.New("driver reported no document URI")

// Result describes a completed navigation.
type Result struct {
	URL         string
	StartURI    string
	DocumentURI string
	Attempts    int
	TotalWait   time.Duration
	// TimedOut is set when the completion check never reported the page as
	// done; the page was used as it was.
	TimedOut bool
}

// Controller drives one browser through navigations. It is not safe for
// concurrent use; navigations on a shared browser must be sequential.
type Controller struct {
	logger *slog.Logger
	driver Driver
	check  CompletionCheck
	opts   Options

	// wait is used for settle delays and retry backoff.
	wait func(ctx context.Context, d time.Duration) error
}

func NewController(logger *slog.Logger, driver Driver, check CompletionCheck, opts Options) *Controller {
	if check == nil {
		check = ScriptCheck{Script: DefaultPageCompleteScript}
	}
	if opts.Retries < 1 {
		opts.Retries = 1
	}
	if opts.Strategy == "" {
		opts.Strategy = StrategyNative
	}
	return &Controller{
		logger: logger,
		driver: driver,
		check:  check,
		opts:   opts,
		wait:   sleepCtx,
	}
}

// Driver returns the driver the controller navigates with.
func (c *Controller) Driver() Driver { return c.driver }

// Navigate loads rawURL and waits for the completion check. A completion
// timeout is not an error; Result.TimedOut reports it. The browser is sent
// rawURL as given; the normalized form is only used for comparisons and as
// Result.URL.
func (c *Controller) Navigate(ctx context.Context, rawURL string) (*Result, error) {
	requested := strings.TrimSpace(rawURL)
	target := NormalizeURL(requested)
	startURI := c.startURI(ctx)
	res := &Result{URL: target, StartURI: startURI}
	log := c.logger.With("url", target)

	for attempt := 1; attempt <= c.opts.Retries; attempt++ {
		res.Attempts = attempt
		switch o := c.attempt(ctx, requested, target, startURI).(type) {
		case completed:
			res.DocumentURI = o.documentURI
			res.TimedOut = o.timedOut
			log.Info("navigation complete", "document", o.documentURI, "attempts", attempt, "timedOut", o.timedOut)
			return res, nil
		case fatalFailure:
			return res, o.err
		case retryableFailure:
			backoff := c.opts.RetryWaitTime * time.Duration(attempt)
			log.Warn("browser did not navigate", "document", o.documentURI, "attempt", attempt, "backoff", backoff)
			if err := c.pause(ctx, backoff); err != nil {
				return res, err
			}
			res.TotalWait += backoff
		}
	}
	return res, &NeverNavigatedError{
		URL:       target,
		StartURI:  startURI,
		Attempts:  res.Attempts,
		TotalWait: res.TotalWait,
	}
}

// startURI reads the document URI before navigating. A fresh browser may not
// have a document yet, so empty answers are retried.
func (c *Controller) startURI(ctx context.Context) string {
	var uri string
	err := retry.New(
		retry.Attempts(startURIAttempts),
		retry.Delay(c.opts.URIReadDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	).Do(func() error {
		u, err := c.driver.CurrentDocumentURI(ctx)
		if err != nil {
			return err
		}
		if u == "" {
			return errNoDocumentURI
		}
		uri = u
		return nil
	})
	if err != nil {
		c.logger.Warn("could not read start document URI", "err", err)
	}
	return uri
}

func (c *Controller) attempt(ctx context.Context, requested, target, startURI string) outcome {
	if err := c.issue(ctx, requested); err != nil {
		if !errors.Is(err, ErrWaitTimeout) {
			return fatalFailure{err: &DriverError{Op: "navigate", Err: err}}
		}
		c.logger.Warn("navigation call did not return in time", "url", target, "err", err)
	}

	if err := c.pause(ctx, c.opts.settleDelay()); err != nil {
		return fatalFailure{err: err}
	}

	timedOut, err := c.awaitCompletion(ctx, target)
	if err != nil {
		return fatalFailure{err: err}
	}

	uri, err := race(ctx, c.opts.NavigationTimeout, c.driver.CurrentDocumentURI)
	if err != nil {
		return fatalFailure{err: &DriverError{Op: "read document URI", Err: err}}
	}
	if isBrowserErrorPage(uri) {
		return fatalFailure{err: &BrowserErrorPageError{URL: target, DocumentURI: uri}}
	}

	switch {
	case NormalizeURL(uri) != NormalizeURL(startURI),
		c.opts.SPA,
		isDataURI(target),
		target == NormalizeURL(startURI):
		return completed{documentURI: uri, timedOut: timedOut}
	}
	return retryableFailure{documentURI: uri}
}

func (c *Controller) issue(ctx context.Context, requested string) error {
	_, err := race(ctx, c.opts.NavigationTimeout, func(ctx context.Context) (struct{}, error) {
		if c.opts.Strategy == StrategyLocation {
			_, err := c.driver.Evaluate(ctx, locationScript(requested), c.opts.NavigationTimeout)
			return struct{}{}, err
		}
		return struct{}{}, c.driver.Navigate(ctx, requested)
	})
	return err
}

// awaitCompletion polls the completion check until it reports done or the
// completion timeout fires. The timeout is reported as timedOut, not as an
// error.
func (c *Controller) awaitCompletion(ctx context.Context, target string) (bool, error) {
	if r, ok := c.check.(resetter); ok {
		r.Reset()
	}
	_, err := race(ctx, c.opts.CompletionTimeout, func(ctx context.Context) (struct{}, error) {
		for {
			done, err := c.check.Done(ctx, c.driver)
			if err != nil {
				if ctx.Err() != nil {
					return struct{}{}, ctx.Err()
				}
				return struct{}{}, &ScriptError{URL: target, Script: "page complete check", Err: err}
			}
			if done {
				return struct{}{}, nil
			}
			if err := sleepCtx(ctx, c.opts.PollInterval); err != nil {
				return struct{}{}, err
			}
		}
	})
	if errors.Is(err, ErrWaitTimeout) {
		terr := &TimeoutError{URL: target, Wait: c.opts.CompletionTimeout}
		c.logger.Warn("page did not complete, using it as loaded", "err", terr)
		return true, nil
	}
	return false, err
}

func (c *Controller) pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	return c.wait(ctx, d)
}
