package har

import (
	"fmt"
	"sort"
	"time"
)

// PageFullyLoaded is the time in ms from page start to the end of the last
// response that belongs to the page.
type PageFullyLoaded struct {
	URL         string  `json:"url"`
	FullyLoaded float64 `json:"fullyLoaded"`
}

// PageMainDocument holds the timings of the first request of a page.
type PageMainDocument struct {
	URL     string  `json:"url"`
	Timings Timings `json:"timings"`
}

// Merge concatenates the pages and entries of every log in order. Page ids are
// rewritten as page_1..page_n so pages from different iterations never
// collide; entry pagerefs follow their page.
func Merge(logs ...*HAR) *HAR {
	merged := &HAR{Log: Log{Version: "1.2"}}
	n := 0
	for _, h := range logs {
		if h == nil {
			continue
		}
		if merged.Log.Creator.Name == "" {
			merged.Log.Creator = h.Log.Creator
			merged.Log.Browser = h.Log.Browser
		}
		ids := make(map[string]string, len(h.Log.Pages))
		for _, p := range h.Log.Pages {
			n++
			id := fmt.Sprintf("page_%d", n)
			ids[p.ID] = id
			p.ID = id
			merged.Log.Pages = append(merged.Log.Pages, p)
		}
		for _, e := range h.Log.Entries {
			if id, ok := ids[e.Pageref]; ok {
				e.Pageref = id
			} else {
				e.Pageref = ""
			}
			merged.Log.Entries = append(merged.Log.Entries, e)
		}
	}
	return merged
}

// entriesByPage groups entries by pageref, each group sorted by start time.
func entriesByPage(h *HAR) map[string][]Entry {
	groups := make(map[string][]Entry)
	for _, e := range h.Log.Entries {
		if e.Pageref == "" {
			continue
		}
		groups[e.Pageref] = append(groups[e.Pageref], e)
	}
	for _, g := range groups {
		sort.SliceStable(g, func(i, j int) bool {
			return g[i].StartedDateTime.Before(g[j].StartedDateTime)
		})
	}
	return groups
}

// FullyLoaded derives one value per page that has entries, in page order.
func FullyLoaded(h *HAR) []PageFullyLoaded {
	groups := entriesByPage(h)
	var out []PageFullyLoaded
	for _, p := range h.Log.Pages {
		entries := groups[p.ID]
		if len(entries) == 0 {
			continue
		}
		var last time.Time
		for _, e := range entries {
			end := e.StartedDateTime.Add(time.Duration(e.Time * float64(time.Millisecond)))
			if end.After(last) {
				last = end
			}
		}
		ms := float64(last.Sub(p.StartedDateTime)) / float64(time.Millisecond)
		out = append(out, PageFullyLoaded{URL: p.PageURL(), FullyLoaded: ms})
	}
	return out
}

// MainDocumentTimings returns the timings of the first entry of every page,
// in page order.
func MainDocumentTimings(h *HAR) []PageMainDocument {
	groups := entriesByPage(h)
	var out []PageMainDocument
	for _, p := range h.Log.Pages {
		entries := groups[p.ID]
		if len(entries) == 0 {
			continue
		}
		out = append(out, PageMainDocument{URL: p.PageURL(), Timings: entries[0].Timings})
	}
	return out
}
