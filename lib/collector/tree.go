package collector

import (
	"github.com/onkernel/pageperf/lib/metrics"
)

// metricTree assembles the numeric-bearing parts of a page result into the
// tree fed to the accumulator. Browser script categories sit at the root.
func metricTree(page *PageResult) map[string]any {
	tree := make(map[string]any, len(page.BrowserScripts)+5)
	for k, v := range page.BrowserScripts {
		tree[k] = v
	}
	if page.VisualMetrics != nil {
		tree["visualMetrics"] = page.VisualMetrics
	}
	if page.CPU != nil {
		tree["cpu"] = page.CPU
	}
	if page.Power != nil {
		tree["power"] = *page.Power
	}
	if page.Memory != nil {
		tree["memory"] = *page.Memory
	}
	if deltas := deltaToTTFB(page); len(deltas) > 0 {
		tree["deltaToTTFB"] = deltas
	}
	return tree
}

// deltaToTTFB subtracts time to first byte from the paint and visual change
// metrics that are present.
func deltaToTTFB(page *PageResult) map[string]any {
	ttfb, ok := metrics.At(page.BrowserScripts, "timings", "ttfb")
	if !ok {
		return nil
	}

	deltas := map[string]any{}
	if fcp, ok := metrics.At(page.BrowserScripts, "timings", "paintTiming", "first-contentful-paint"); ok {
		deltas["firstContentfulPaint"] = fcp - ttfb
	}
	lcp, ok := metrics.At(page.BrowserScripts, "timings", "largestContentfulPaint", "renderTime")
	if !ok || lcp == 0 {
		lcp, ok = metrics.At(page.BrowserScripts, "timings", "largestContentfulPaint", "loadTime")
	}
	if ok {
		deltas["largestContentfulPaint"] = lcp - ttfb
	}
	if fvc, ok := metrics.At(page.VisualMetrics, "FirstVisualChange"); ok {
		deltas["firstVisualChange"] = fvc - ttfb
	}
	if lvc, ok := metrics.At(page.VisualMetrics, "LastVisualChange"); ok {
		deltas["lastVisualChange"] = lvc - ttfb
	}
	return deltas
}

// flattenLists turns lists into records the accumulator can descend: user
// timing marks and measures are keyed by name, other lists by index.
func flattenLists(path []string, value any) any {
	list, ok := value.([]any)
	if !ok {
		return value
	}
	field := ""
	switch path[len(path)-1] {
	case "marks":
		field = "startTime"
	case "measures":
		field = "duration"
	}
	if field == "" {
		return metrics.IndexedList(list)
	}

	named := make(map[string]any, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name, _ := m["name"].(string)
		if name == "" {
			continue
		}
		named[name] = m[field]
	}
	return named
}
