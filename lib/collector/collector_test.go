package collector

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onkernel/pageperf/lib/har"
	"github.com/onkernel/pageperf/lib/metrics"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCollector() *Collector {
	return New(silentLogger(), Options{Browser: "chrome", Connectivity: "native", RunID: "run-1"})
}

func backEnd(v float64) map[string]any {
	return map[string]any{"timings": map[string]any{"pageTimings": map[string]any{"backEndTime": v}}}
}

var ts = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestAliasResolver(t *testing.T) {
	r := NewAliasResolver()
	assert.Equal(t, "https://a.com/x", r.Resolve("", "https://a.com/x"))
	_, ok := r.Lookup("home")
	assert.False(t, ok)

	assert.Equal(t, "https://a.com/x", r.Resolve("home", "https://a.com/x"))
	assert.Equal(t, "https://a.com/x", r.Resolve("home", "https://a.com/y"))
	assert.Equal(t, "https://b.com/", r.Resolve("other", "https://b.com/"))

	bound, ok := r.Lookup("home")
	assert.True(t, ok)
	assert.Equal(t, "https://a.com/x", bound)
}

func TestAbsorb_AliasFirstSeenWins(t *testing.T) {
	c := newTestCollector()
	require.NoError(t, c.Absorb(IterationPayload{Iteration: 1, Pages: []PageResult{
		{URL: "https://a.com/x", Alias: "home", Timestamp: ts, BrowserScripts: backEnd(100)},
	}}))
	require.NoError(t, c.Absorb(IterationPayload{Iteration: 2, Pages: []PageResult{
		{URL: "https://a.com/y", Alias: "home", Timestamp: ts.Add(time.Minute), BrowserScripts: backEnd(200)},
	}}))

	records := c.Finalize()
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, "https://a.com/x", rec.Info.URL)
	assert.Equal(t, "home", rec.Info.Alias)
	assert.Equal(t, []int{1, 2}, rec.Iterations)
	assert.Len(t, rec.Timestamps, 2)
	assert.Equal(t, ts, rec.Info.Timestamp)
}

func TestAbsorb_TwoIterationStatistics(t *testing.T) {
	c := newTestCollector()
	for i, v := range []float64{100, 200} {
		require.NoError(t, c.Absorb(IterationPayload{Iteration: i + 1, Pages: []PageResult{
			{URL: "https://a.com/", Timestamp: ts, BrowserScripts: backEnd(v)},
		}}))
	}

	records := c.Finalize()
	require.Len(t, records, 1)
	st, ok := records[0].Statistics.Lookup("timings", "pageTimings", "backEndTime")
	require.True(t, ok)
	assert.Equal(t, 150.0, st.Mean)
	assert.Equal(t, 100.0, st.Median)
	assert.Equal(t, 100.0, st.Percentiles["min"])
	assert.Equal(t, 200.0, st.Percentiles["max"])
	assert.Equal(t, "chrome", records[0].Info.Browser)
	assert.Equal(t, "native", records[0].Info.Connectivity)
	assert.Equal(t, [][]string{{}, {}}, records[0].Errors)
	assert.False(t, records[0].HasErrors())
}

func TestAbsorb_MarkedAsFailureKeepsEarlierMetrics(t *testing.T) {
	c := newTestCollector()
	require.NoError(t, c.Absorb(IterationPayload{Iteration: 1, Pages: []PageResult{
		{URL: "https://a.com/", Timestamp: ts, BrowserScripts: backEnd(100)},
	}}))
	require.NoError(t, c.Absorb(IterationPayload{Iteration: 2, Pages: []PageResult{
		{URL: "https://a.com/", Timestamp: ts, BrowserScripts: backEnd(300), MarkedAsFailure: true, FailureMessages: []string{"x"}},
	}}))

	rec := c.Finalize()[0]
	assert.Equal(t, 1, rec.MarkedAsFailure)
	assert.Equal(t, []string{"x"}, rec.FailureMessages)
	st, ok := rec.Statistics.Lookup("timings", "pageTimings", "backEndTime")
	require.True(t, ok)
	assert.Equal(t, 2, st.Count)
	assert.True(t, c.HasFailures())
}

func TestAbsorb_MalformedTree(t *testing.T) {
	c := newTestCollector()
	require.NoError(t, c.Absorb(IterationPayload{Iteration: 1, Pages: []PageResult{
		{URL: "https://a.com/", Timestamp: ts, BrowserScripts: backEnd(100)},
	}}))

	err := c.Absorb(IterationPayload{Iteration: 2, Pages: []PageResult{
		{URL: "https://a.com/", Timestamp: ts, BrowserScripts: map[string]any{"timings": map[string]any{"bad": struct{}{}}}},
	}})
	var typeErr *metrics.TypeError
	require.True(t, errors.As(err, &typeErr), "got %v", err)

	rec := c.Finalize()[0]
	assert.Len(t, rec.Timestamps, 1)
	assert.Len(t, rec.BrowserScripts, 1)
}

func TestAbsorb_ListsAreFlattened(t *testing.T) {
	c := newTestCollector()
	require.NoError(t, c.Absorb(IterationPayload{Iteration: 1, Pages: []PageResult{{
		URL:       "https://a.com/",
		Timestamp: ts,
		BrowserScripts: map[string]any{
			"timings": map[string]any{
				"userTimings": map[string]any{
					"marks":    []any{map[string]any{"name": "hero", "startTime": 420.0}},
					"measures": []any{map[string]any{"name": "boot", "duration": 33.0}},
				},
			},
			"pageinfo": map[string]any{"resources": []any{3.0, 4.0}},
		},
	}}}))

	s := c.Finalize()[0].Statistics
	_, ok := s.Lookup("timings", "userTimings", "marks", "hero")
	assert.True(t, ok)
	_, ok = s.Lookup("timings", "userTimings", "measures", "boot")
	assert.True(t, ok)
	_, ok = s.Lookup("pageinfo", "resources", "1")
	assert.True(t, ok)
}

func TestAbsorb_DeltaToTTFB(t *testing.T) {
	c := newTestCollector()
	require.NoError(t, c.Absorb(IterationPayload{Iteration: 1, Pages: []PageResult{{
		URL:       "https://a.com/",
		Timestamp: ts,
		BrowserScripts: map[string]any{
			"timings": map[string]any{
				"ttfb":                   120.0,
				"paintTiming":            map[string]any{"first-contentful-paint": 500.0},
				"largestContentfulPaint": map[string]any{"renderTime": 0.0, "loadTime": 900.0},
			},
		},
		VisualMetrics: map[string]any{"FirstVisualChange": 600, "LastVisualChange": 1500},
	}}}))

	s := c.Finalize()[0].Statistics
	for name, want := range map[string]float64{
		"firstContentfulPaint":   380,
		"largestContentfulPaint": 780,
		"firstVisualChange":      480,
		"lastVisualChange":       1380,
	} {
		st, ok := s.Lookup("deltaToTTFB", name)
		require.True(t, ok, name)
		assert.Equal(t, want, st.Median, name)
	}
	_, ok := s.Lookup("visualMetrics", "FirstVisualChange")
	assert.True(t, ok)
}

func TestAbsorb_NoTTFBNoDeltas(t *testing.T) {
	c := newTestCollector()
	require.NoError(t, c.Absorb(IterationPayload{Iteration: 1, Pages: []PageResult{{
		URL: "https://a.com/", Timestamp: ts, VisualMetrics: map[string]any{"FirstVisualChange": 600},
	}}}))
	_, ok := c.Finalize()[0].Statistics["deltaToTTFB"]
	assert.False(t, ok)
}

func TestAbsorb_Extras(t *testing.T) {
	power, memory := 1.5, 2048.0
	c := newTestCollector()
	require.NoError(t, c.Absorb(IterationPayload{Iteration: 1, Pages: []PageResult{{
		URL:       "https://a.com/",
		Timestamp: ts,
		CPU:       map[string]any{"hostPercent": 40.0},
		Power:     &power,
		Memory:    &memory,
		Artifacts: Artifacts{Screenshots: []string{"screenshots/1/0.png"}, Video: "video/1.mp4"},
	}}}))

	rec := c.Finalize()[0]
	assert.Equal(t, []float64{1.5}, rec.Power)
	assert.Equal(t, []float64{2048}, rec.Memory)
	assert.Equal(t, [][]string{{"screenshots/1/0.png"}}, rec.Screenshots)
	assert.Equal(t, []string{"video/1.mp4"}, rec.Videos)
	_, ok := rec.Statistics.Lookup("cpu", "hostPercent")
	assert.True(t, ok)
	_, ok = rec.Statistics.Lookup("memory")
	assert.True(t, ok)
}

func TestAbsorb_UnevenIterationsPerURL(t *testing.T) {
	c := newTestCollector()
	require.NoError(t, c.Absorb(IterationPayload{Iteration: 1, Pages: []PageResult{
		{URL: "https://a.com/", Timestamp: ts, BrowserScripts: backEnd(100)},
	}}))
	require.NoError(t, c.Absorb(IterationPayload{Iteration: 2, Pages: []PageResult{
		{URL: "https://a.com/", Timestamp: ts, BrowserScripts: backEnd(110)},
		{URL: "https://b.com/", Timestamp: ts, BrowserScripts: backEnd(50)},
	}}))

	records := c.Finalize()
	require.Len(t, records, 2)
	assert.Equal(t, []string{"https://a.com/", "https://b.com/"}, c.URLs())
	assert.Len(t, records[0].Timestamps, 2)
	assert.Len(t, records[1].Timestamps, 1)
	assert.Equal(t, []int{2}, records[1].Iterations)
}

func TestRecordFailure(t *testing.T) {
	c := newTestCollector()
	require.NoError(t, c.Absorb(IterationPayload{Iteration: 1, Pages: []PageResult{
		{URL: "https://a.com/x", Alias: "home", Timestamp: ts, BrowserScripts: backEnd(100)},
	}}))

	c.RecordFailure(2, "https://a.com/other", "home", errors.New("never navigated"))
	c.RecordFailure(2, "https://down.example/", "", errors.New("net::ERR_NAME_NOT_RESOLVED"))

	records := c.Finalize()
	require.Len(t, records, 2)

	home := records[0]
	assert.Equal(t, "https://a.com/x", home.Info.URL)
	assert.Equal(t, [][]string{{}, {"never navigated"}}, home.Errors)
	assert.Equal(t, 1, home.MarkedAsFailure)
	_, ok := home.Statistics.Lookup("timings", "pageTimings", "backEndTime")
	assert.True(t, ok)

	down := records[1]
	assert.Equal(t, "https://down.example/", down.Info.URL)
	assert.Empty(t, down.Statistics)
	assert.Equal(t, []int{2}, down.Iterations)
	assert.Len(t, down.Timestamps, 1)
	assert.True(t, down.HasErrors())
}

func TestRecordFailure_KeepsIterationsAligned(t *testing.T) {
	c := newTestCollector()
	failedAt := ts.Add(time.Minute)
	c.now = func() time.Time { return failedAt }

	require.NoError(t, c.Absorb(IterationPayload{Iteration: 1, Pages: []PageResult{
		{URL: "https://a.com/x", Timestamp: ts, BrowserScripts: backEnd(100)},
	}}))
	c.RecordFailure(2, "https://a.com/x", "", errors.New("never navigated"))
	require.NoError(t, c.Absorb(IterationPayload{Iteration: 3, Pages: []PageResult{
		{URL: "https://a.com/x", Timestamp: ts.Add(2 * time.Minute), BrowserScripts: backEnd(300)},
	}}))

	records := c.Finalize()
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, []int{1, 2, 3}, rec.Iterations)
	assert.Equal(t, []time.Time{ts, failedAt, ts.Add(2 * time.Minute)}, rec.Timestamps)
	assert.Equal(t, [][]string{{}, {"never navigated"}, {}}, rec.Errors)
	require.Len(t, rec.BrowserScripts, 3)
	assert.Empty(t, rec.BrowserScripts[1])
	assert.Equal(t, backEnd(300), rec.BrowserScripts[2])

	st, ok := rec.Statistics.Lookup("timings", "pageTimings", "backEndTime")
	require.True(t, ok)
	assert.Equal(t, 2, st.Count)
}

func TestSessionErrors(t *testing.T) {
	c := newTestCollector()
	assert.False(t, c.HasFailures())
	c.AddSessionError(1, errors.New("browser did not start"))
	assert.True(t, c.HasFailures())
	assert.Equal(t, []SessionError{{Iteration: 1, Error: "browser did not start"}}, c.SessionErrors())
	assert.Empty(t, c.Finalize())
}

func TestBackFill(t *testing.T) {
	c := newTestCollector()
	for i := 1; i <= 2; i++ {
		require.NoError(t, c.Absorb(IterationPayload{Iteration: i, Pages: []PageResult{
			{URL: "https://a.com", ActualURL: "https://a.com/home", Timestamp: ts, BrowserScripts: backEnd(100)},
		}}))
	}

	missed := c.BackFill(
		[]har.PageFullyLoaded{
			{URL: "https://a.com/home", FullyLoaded: 1000},
			{URL: "https://a.com/home", FullyLoaded: 1400},
			{URL: "https://unknown.com/", FullyLoaded: 10},
		},
		[]har.PageMainDocument{
			{URL: "https://a.com/home", Timings: har.Timings{Wait: 80, Receive: 5, DNS: -1}},
		},
	)
	assert.Equal(t, 1, missed)

	rec := c.Finalize()[0]
	assert.Equal(t, []float64{1000, 1400}, rec.FullyLoaded)
	require.Len(t, rec.MainDocumentTimings, 1)
	assert.NotContains(t, rec.MainDocumentTimings[0], "dns")

	st, ok := rec.Statistics.Lookup("timings", "fullyLoaded")
	require.True(t, ok)
	assert.Equal(t, 1200.0, st.Mean)
	wait, ok := rec.Statistics.Lookup("timings", "mainDocumentTimings", "wait")
	require.True(t, ok)
	assert.Equal(t, 80.0, wait.Median)
}

func TestSnapshot(t *testing.T) {
	c := newTestCollector()
	assert.Empty(t, c.Snapshot())

	require.NoError(t, c.Absorb(IterationPayload{Iteration: 1, Pages: []PageResult{
		{URL: "https://a.com/", Alias: "home", Timestamp: ts, BrowserScripts: backEnd(100)},
	}}))
	c.RecordFailure(2, "https://a.com/", "home", errors.New("boom"))

	snap := c.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "https://a.com/", snap[0].URL)
	assert.Equal(t, "home", snap[0].Alias)
	assert.Equal(t, 2, snap[0].Iterations)
	assert.Equal(t, 1, snap[0].MarkedAsFailure)
	st, ok := snap[0].Statistics.Lookup("timings", "pageTimings", "backEndTime")
	require.True(t, ok)
	assert.Equal(t, 100.0, st.Median)
}
