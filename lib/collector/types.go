package collector

import (
	"time"

	"github.com/onkernel/pageperf/lib/metrics"
)

// IterationPayload is everything one iteration produced. A script can visit
// several URLs, so it carries one PageResult per visited page.
type IterationPayload struct {
	Iteration int
	Pages     []PageResult
}

// Artifacts are file paths relative to the result directory.
type Artifacts struct {
	Video       string   `json:"video,omitempty"`
	Screenshots []string `json:"screenshots,omitempty"`
	Trace       string   `json:"trace,omitempty"`
}

// PageResult is the raw data for one page of one iteration.
type PageResult struct {
	// URL is the URL the script asked for.
	URL string
	// Alias optionally names the page so later iterations fold into the
	// same record even if they end up elsewhere.
	Alias string
	// ActualURL is the URL the browser reported after navigation.
	ActualURL string
	Timestamp time.Time

	// BrowserScripts is the MetricTree produced by the in-page scripts.
	BrowserScripts map[string]any
	VisualMetrics  map[string]any
	CPU            map[string]any
	Power          *float64
	Memory         *float64
	Artifacts      Artifacts

	Errors          []string
	MarkedAsFailure bool
	FailureMessages []string
}

// Info identifies a record.
type Info struct {
	URL          string    `json:"url"`
	Alias        string    `json:"alias,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	Connectivity string    `json:"connectivity"`
	Browser      string    `json:"browser"`
	RunID        string    `json:"runId,omitempty"`
}

// Record is the result for one logical URL. Per-iteration slices are
// appended in iteration order and may be shorter than the number of
// iterations if the URL was not reached every time.
type Record struct {
	Info       Info            `json:"info"`
	Statistics metrics.Summary `json:"statistics"`
	Iterations []int           `json:"iterations"`
	Timestamps []time.Time     `json:"timestamps"`

	BrowserScripts      []map[string]any `json:"browserScripts"`
	VisualMetrics       []map[string]any `json:"visualMetrics,omitempty"`
	CPU                 []map[string]any `json:"cpu,omitempty"`
	Power               []float64        `json:"power,omitempty"`
	Memory              []float64        `json:"memory,omitempty"`
	FullyLoaded         []float64        `json:"fullyLoaded,omitempty"`
	MainDocumentTimings []map[string]any `json:"mainDocumentTimings,omitempty"`

	Videos      []string   `json:"videos,omitempty"`
	Screenshots [][]string `json:"screenshots,omitempty"`
	Traces      []string   `json:"traces,omitempty"`

	Errors          [][]string `json:"errors"`
	MarkedAsFailure int        `json:"markedAsFailure"`
	FailureMessages []string   `json:"failureMessages"`
}

// SessionError is an iteration error that belongs to no URL, e.g. the
// browser never started.
type SessionError struct {
	Iteration int    `json:"iteration"`
	Error     string `json:"error"`
}

// HasErrors reports whether any iteration of the record failed.
func (r *Record) HasErrors() bool {
	if r.MarkedAsFailure != 0 {
		return true
	}
	for _, errs := range r.Errors {
		if len(errs) > 0 {
			return true
		}
	}
	return false
}
