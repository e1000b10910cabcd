// Package har reads and merges HAR 1.2 traffic logs and derives the
// whole-session page metrics that can only be computed after all iterations.
package har

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// HAR is the top-level HAR structure
type HAR struct {
	Log Log `json:"log"`
}

// Log holds the HAR log metadata, pages and entries
type Log struct {
	Version string   `json:"version"`
	Creator Creator  `json:"creator"`
	Browser *Creator `json:"browser,omitempty"`
	Pages   []Page   `json:"pages"`
	Entries []Entry  `json:"entries"`
}

// Creator identifies the tool that generated the HAR
type Creator struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Page is one page load. Title usually carries the URL; some producers add
// the navigated URL as the custom _url field.
type Page struct {
	StartedDateTime time.Time   `json:"startedDateTime"`
	ID              string      `json:"id"`
	Title           string      `json:"title"`
	URL             string      `json:"_url,omitempty"`
	PageTimings     PageTimings `json:"pageTimings"`
}

// PageTimings are the browser-reported page events, in ms from page start.
type PageTimings struct {
	OnContentLoad float64 `json:"onContentLoad,omitempty"`
	OnLoad        float64 `json:"onLoad,omitempty"`
}

// Entry represents a single HTTP request/response pair
type Entry struct {
	Pageref         string    `json:"pageref,omitempty"`
	StartedDateTime time.Time `json:"startedDateTime"`
	Time            float64   `json:"time"`
	Request         Request   `json:"request"`
	Response        Response  `json:"response"`
	Timings         Timings   `json:"timings"`
}

// Request represents the HTTP request
type Request struct {
	Method      string `json:"method"`
	URL         string `json:"url"`
	HTTPVersion string `json:"httpVersion"`
}

// Response represents the HTTP response
type Response struct {
	Status      int    `json:"status"`
	StatusText  string `json:"statusText"`
	RedirectURL string `json:"redirectURL"`
}

// Timings of one entry in ms. -1 means not applicable.
type Timings struct {
	Blocked float64 `json:"blocked"`
	DNS     float64 `json:"dns"`
	Connect float64 `json:"connect"`
	SSL     float64 `json:"ssl"`
	Send    float64 `json:"send"`
	Wait    float64 `json:"wait"`
	Receive float64 `json:"receive"`
}

// Map returns the applicable timings keyed by HAR field name.
func (t Timings) Map() map[string]any {
	m := map[string]any{}
	for name, v := range map[string]float64{
		"blocked": t.Blocked,
		"dns":     t.DNS,
		"connect": t.Connect,
		"ssl":     t.SSL,
		"send":    t.Send,
		"wait":    t.Wait,
		"receive": t.Receive,
	} {
		if v >= 0 {
			m[name] = v
		}
	}
	return m
}

// PageURL returns the navigated URL of a page.
func (p Page) PageURL() string {
	if p.URL != "" {
		return p.URL
	}
	return p.Title
}

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// Decode reads a HAR from r. Gzip and zstd compressed input is detected by
// its magic bytes.
func Decode(r io.Reader) (*HAR, error) {
	br := bufio.NewReader(r)
	head, _ := br.Peek(4)

	var src io.Reader = br
	switch {
	case bytes.HasPrefix(head, gzipMagic):
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("open gzip: %w", err)
		}
		defer zr.Close()
		src = zr
	case bytes.HasPrefix(head, zstdMagic):
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("open zstd: %w", err)
		}
		defer zr.Close()
		src = zr
	}

	var h HAR
	if err := json.NewDecoder(src).Decode(&h); err != nil {
		return nil, fmt.Errorf("decode har: %w", err)
	}
	return &h, nil
}

// Read decodes the HAR file at path.
func Read(path string) (*HAR, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	h, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return h, nil
}
