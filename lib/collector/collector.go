// Package collector reconciles per-iteration page results into one record and
// one set of statistics per logical URL.
package collector

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/onkernel/pageperf/lib/har"
	"github.com/onkernel/pageperf/lib/metrics"
)

// Options configure a Collector.
type Options struct {
	RunID        string
	Browser      string
	Connectivity string
	Summary      metrics.SummaryOptions
}

// Collector owns one Record and one Accumulator per logical URL. All methods
// are safe for concurrent use; mutations are serialized.
type Collector struct {
	logger *slog.Logger
	opts   Options
	now    func() time.Time

	aliases *AliasResolver
	actual  *ActualURLMap

	mu            sync.Mutex
	order         []string
	records       map[string]*Record
	stats         map[string]*metrics.Accumulator
	sessionErrors []SessionError
}

func New(logger *slog.Logger, opts Options) *Collector {
	return &Collector{
		logger:  logger,
		opts:    opts,
		now:     time.Now,
		aliases: NewAliasResolver(),
		actual:  NewActualURLMap(),
		records: make(map[string]*Record),
		stats:   make(map[string]*metrics.Accumulator),
	}
}

// recordLocked returns the record for key, creating it on first use.
func (c *Collector) recordLocked(key, alias string, page *PageResult) (*Record, *metrics.Accumulator) {
	rec, ok := c.records[key]
	if !ok {
		rec = &Record{
			Info: Info{
				URL:          key,
				Alias:        alias,
				Connectivity: c.opts.Connectivity,
				Browser:      c.opts.Browser,
				RunID:        c.opts.RunID,
			},
			FailureMessages: []string{},
		}
		if page != nil {
			rec.Info.Timestamp = page.Timestamp
		}
		c.records[key] = rec
		c.stats[key] = metrics.NewAccumulator()
		c.order = append(c.order, key)
	}
	if rec.Info.Timestamp.IsZero() && page != nil {
		rec.Info.Timestamp = page.Timestamp
	}
	return rec, c.stats[key]
}

// Absorb merges one iteration into the records of the pages it visited.
// A malformed MetricTree is reported as a *metrics.TypeError; pages before it
// in the payload stay absorbed.
func (c *Collector) Absorb(payload IterationPayload) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range payload.Pages {
		page := &payload.Pages[i]
		key := c.aliases.Resolve(page.Alias, page.URL)
		c.actual.Remember(page.ActualURL, key)

		rec, acc := c.recordLocked(key, page.Alias, page)
		// Statistics go first so a malformed tree leaves the per-iteration
		// arrays untouched.
		if err := acc.AddDeep(metricTree(page), flattenLists); err != nil {
			return fmt.Errorf("iteration %d %s: %w", payload.Iteration, key, err)
		}
		appendPage(rec, payload.Iteration, page)

		c.logger.Debug("absorbed page", "iteration", payload.Iteration, "url", key, "actual_url", page.ActualURL)
	}
	return nil
}

func appendPage(rec *Record, iteration int, page *PageResult) {
	rec.Iterations = append(rec.Iterations, iteration)
	rec.Timestamps = append(rec.Timestamps, page.Timestamp)

	scripts := page.BrowserScripts
	if scripts == nil {
		scripts = map[string]any{}
	}
	rec.BrowserScripts = append(rec.BrowserScripts, scripts)
	if page.VisualMetrics != nil {
		rec.VisualMetrics = append(rec.VisualMetrics, page.VisualMetrics)
	}
	if page.CPU != nil {
		rec.CPU = append(rec.CPU, page.CPU)
	}
	if page.Power != nil {
		rec.Power = append(rec.Power, *page.Power)
	}
	if page.Memory != nil {
		rec.Memory = append(rec.Memory, *page.Memory)
	}

	if page.Artifacts.Video != "" {
		rec.Videos = append(rec.Videos, page.Artifacts.Video)
	}
	if len(page.Artifacts.Screenshots) > 0 {
		rec.Screenshots = append(rec.Screenshots, page.Artifacts.Screenshots)
	}
	if page.Artifacts.Trace != "" {
		rec.Traces = append(rec.Traces, page.Artifacts.Trace)
	}

	errs := page.Errors
	if errs == nil {
		errs = []string{}
	}
	rec.Errors = append(rec.Errors, errs)

	if page.MarkedAsFailure {
		rec.MarkedAsFailure = 1
		rec.FailureMessages = append(rec.FailureMessages, page.FailureMessages...)
	}
}

// RecordFailure attaches an iteration error to the record of the URL the
// iteration was trying to load, creating the record if needed so every
// attempted URL appears in the result.
func (c *Collector) RecordFailure(iteration int, url, alias string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key, ok := c.aliases.Lookup(alias)
	if !ok {
		key = c.actual.Canonical(url)
	}
	rec, _ := c.recordLocked(key, alias, nil)
	// every per-iteration slice gets an entry so positions stay aligned
	rec.Iterations = append(rec.Iterations, iteration)
	rec.Timestamps = append(rec.Timestamps, c.now())
	rec.BrowserScripts = append(rec.BrowserScripts, map[string]any{})
	rec.Errors = append(rec.Errors, []string{err.Error()})
	rec.MarkedAsFailure = 1
	rec.FailureMessages = append(rec.FailureMessages, err.Error())

	c.logger.Error("iteration failed", "iteration", iteration, "url", key, "err", err)
}

// AddSessionError records an iteration error that belongs to no URL.
func (c *Collector) AddSessionError(iteration int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionErrors = append(c.sessionErrors, SessionError{Iteration: iteration, Error: err.Error()})
	c.logger.Error("iteration failed before any page loaded", "iteration", iteration, "err", err)
}

// BackFill attributes whole-session metrics derived from the merged traffic
// log to the records they belong to. Entries are keyed by the URL the browser
// navigated to. It returns the number of entries that matched no record.
func (c *Collector) BackFill(fullyLoaded []har.PageFullyLoaded, mainDocuments []har.PageMainDocument) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	missed := 0
	for _, f := range fullyLoaded {
		key := c.actual.Canonical(f.URL)
		rec, ok := c.records[key]
		if !ok {
			c.logger.Warn("no statistics bucket for fully loaded time", "url", f.URL, "key", key)
			missed++
			continue
		}
		rec.FullyLoaded = append(rec.FullyLoaded, f.FullyLoaded)
		if err := c.stats[key].Add([]string{"timings", "fullyLoaded"}, f.FullyLoaded); err != nil {
			c.logger.Warn("skipping fully loaded time", "url", key, "err", err)
		}
	}
	for _, d := range mainDocuments {
		key := c.actual.Canonical(d.URL)
		rec, ok := c.records[key]
		if !ok {
			c.logger.Warn("no statistics bucket for main document timings", "url", d.URL, "key", key)
			missed++
			continue
		}
		timings := d.Timings.Map()
		rec.MainDocumentTimings = append(rec.MainDocumentTimings, timings)
		tree := map[string]any{"timings": map[string]any{"mainDocumentTimings": timings}}
		if err := c.stats[key].AddDeep(tree, nil); err != nil {
			c.logger.Warn("skipping main document timings", "url", key, "err", err)
		}
	}
	return missed
}

// Finalize summarizes every record and returns them in first-seen order.
func (c *Collector) Finalize() []*Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*Record, 0, len(c.order))
	for _, key := range c.order {
		rec := c.records[key]
		rec.Statistics = c.stats[key].Summarize(c.opts.Summary)
		out = append(out, rec)
	}
	return out
}

// SessionErrors returns errors that belong to no URL.
func (c *Collector) SessionErrors() []SessionError {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]SessionError(nil), c.sessionErrors...)
}

// HasFailures reports whether any iteration failed or was marked as failed.
func (c *Collector) HasFailures() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sessionErrors) > 0 {
		return true
	}
	for _, rec := range c.records {
		if rec.HasErrors() {
			return true
		}
	}
	return false
}

// URLs returns the logical URLs seen so far in first-seen order.
func (c *Collector) URLs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.order...)
}

// Overview is a point-in-time view of one record that shares no state with
// the collector.
type Overview struct {
	URL             string          `json:"url"`
	Alias           string          `json:"alias,omitempty"`
	Iterations      int             `json:"iterations"`
	MarkedAsFailure int             `json:"markedAsFailure"`
	Statistics      metrics.Summary `json:"statistics"`
}

// Snapshot summarizes the records absorbed so far. It is safe to call while
// iterations are still running.
func (c *Collector) Snapshot() []Overview {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Overview, 0, len(c.order))
	for _, key := range c.order {
		rec := c.records[key]
		out = append(out, Overview{
			URL:             rec.Info.URL,
			Alias:           rec.Info.Alias,
			Iterations:      len(rec.Iterations),
			MarkedAsFailure: rec.MarkedAsFailure,
			Statistics:      c.stats[key].Summarize(c.opts.Summary),
		})
	}
	return out
}
