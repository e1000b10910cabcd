package iteration

import (
	"sort"
	"strings"
)

// BrowserScripts maps a category to named in-page scripts. Each script is a
// function body whose return value becomes the metric at category.name. A
// dotted category nests, e.g. "timings.custom".
type BrowserScripts map[string]map[string]string

// Merge returns a copy of b with the scripts of other added, replacing
// scripts of the same name.
func (b BrowserScripts) Merge(other BrowserScripts) BrowserScripts {
	out := make(BrowserScripts, len(b)+len(other))
	for _, src := range []BrowserScripts{b, other} {
		for category, scripts := range src {
			if out[category] == nil {
				out[category] = make(map[string]string, len(scripts))
			}
			for name, script := range scripts {
				out[category][name] = script
			}
		}
	}
	return out
}

type namedScript struct {
	path   []string
	script string
}

// ordered lists the scripts sorted by category then name.
func (b BrowserScripts) ordered() []namedScript {
	categories := make([]string, 0, len(b))
	for c := range b {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	var out []namedScript
	for _, c := range categories {
		names := make([]string, 0, len(b[c]))
		for n := range b[c] {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			path := append(strings.Split(c, "."), n)
			out = append(out, namedScript{path: path, script: b[c][n]})
		}
	}
	return out
}

// setPath stores v in tree under path, creating intermediate maps.
func setPath(tree map[string]any, path []string, v any) {
	for _, key := range path[:len(path)-1] {
		next, ok := tree[key].(map[string]any)
		if !ok {
			next = map[string]any{}
			tree[key] = next
		}
		tree = next
	}
	tree[path[len(path)-1]] = v
}

// DefaultBrowserScripts collect navigation, paint and user timings plus a
// few page facts.
var DefaultBrowserScripts = BrowserScripts{
	"timings": {
		"pageTimings": `
var t = window.performance.timing;
return {
  backEndTime: t.responseStart - t.navigationStart,
  domContentLoadedTime: t.domContentLoadedEventStart - t.navigationStart,
  domInteractiveTime: t.domInteractive - t.navigationStart,
  frontEndTime: t.loadEventStart - t.responseEnd,
  pageDownloadTime: t.responseEnd - t.responseStart,
  pageLoadTime: t.loadEventStart - t.navigationStart,
  redirectionTime: t.fetchStart - t.navigationStart,
  serverResponseTime: t.responseStart - t.requestStart
};`,
		"ttfb": `
var nav = performance.getEntriesByType('navigation')[0];
if (nav) { return nav.responseStart; }
var t = window.performance.timing;
return t.responseStart - t.navigationStart;`,
		"paintTiming": `
var out = {};
performance.getEntriesByType('paint').forEach(function(p) { out[p.name] = p.startTime; });
return out;`,
		"largestContentfulPaint": `
return new Promise(function(resolve) {
  if (!window.PerformanceObserver || PerformanceObserver.supportedEntryTypes.indexOf('largest-contentful-paint') < 0) {
    resolve(null);
    return;
  }
  var observer = new PerformanceObserver(function(list) {
    var entries = list.getEntries();
    var last = entries[entries.length - 1];
    observer.disconnect();
    resolve(last ? {renderTime: last.renderTime, loadTime: last.loadTime, size: last.size} : null);
  });
  observer.observe({type: 'largest-contentful-paint', buffered: true});
  setTimeout(function() { observer.disconnect(); resolve(null); }, 1000);
});`,
		"userTimings": `
return {
  marks: performance.getEntriesByType('mark').map(function(m) { return {name: m.name, startTime: m.startTime}; }),
  measures: performance.getEntriesByType('measure').map(function(m) { return {name: m.name, duration: m.duration}; })
};`,
	},
	"pageinfo": {
		"documentHeight": `return document.documentElement.scrollHeight;`,
		"domElements":    `return document.getElementsByTagName('*').length;`,
		"resources":      `return performance.getEntriesByType('resource').length;`,
		"transferSize": `
return performance.getEntriesByType('resource').reduce(function(sum, r) { return sum + (r.transferSize || 0); }, 0);`,
	},
}

const (
	actualURLScript = `return document.URL;`
	memoryScript    = `return window.performance.memory ? window.performance.memory.usedJSHeapSize : null;`
	// failureScript reads the marker a page sets to fail its own run:
	// window.__pageperfFailure = {messages: ["..."]}.
	failureScript = `return window.__pageperfFailure || null;`
)
