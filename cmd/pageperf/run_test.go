package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onkernel/pageperf/cmd/config"
	"github.com/onkernel/pageperf/lib/history"
	"github.com/onkernel/pageperf/lib/iteration"
	"github.com/onkernel/pageperf/lib/navigation"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type cdpRequest struct {
	ID     int64          `json:"id"`
	Method string         `json:"method"`
	Params map[string]any `json:"params"`
}

// fakePage serves one page target per websocket connection. Every in-page
// script returns 100 except the completion check, which returns true.
func fakePage(t *testing.T) string {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept websocket: %v", err)
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		uri := "about:blank"
		for {
			var req cdpRequest
			if err := wsjson.Read(r.Context(), conn, &req); err != nil {
				return
			}
			result := map[string]any{}
			switch req.Method {
			case "Page.navigate":
				uri = req.Params["url"].(string)
				result["frameId"] = "F1"
			case "Page.captureScreenshot":
				result["data"] = base64.StdEncoding.EncodeToString([]byte("png"))
			case "Browser.getVersion":
				result["product"] = "HeadlessChrome/120.0.0.0"
			case "Runtime.evaluate":
				expr := req.Params["expression"].(string)
				var v any = 100
				switch {
				case expr == "document.documentURI":
					v = uri
				case strings.Contains(expr, navigation.DefaultPageCompleteScript):
					v = true
				}
				result["result"] = map[string]any{"type": "object", "value": v}
			}
			if err := wsjson.Write(r.Context(), conn, map[string]any{"id": req.ID, "result": result}); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http") + "/devtools/page/P1"
}

func writeHAR(t *testing.T, dir, pageURL string) string {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	doc := map[string]any{"log": map[string]any{
		"version": "1.2",
		"creator": map[string]any{"name": "test", "version": "1"},
		"pages": []any{map[string]any{
			"id": "page_1", "title": pageURL, "startedDateTime": start,
		}},
		"entries": []any{map[string]any{
			"pageref":         "page_1",
			"startedDateTime": start.Add(10 * time.Millisecond),
			"time":            120,
			"request":         map[string]any{"method": "GET", "url": pageURL},
			"response":        map[string]any{"status": 200},
			"timings":         map[string]any{"blocked": 1, "dns": -1, "connect": -1, "ssl": -1, "send": 2, "wait": 100, "receive": 17},
		}},
	}}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	path := filepath.Join(dir, "session.har")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func testConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	out := filepath.Join(dir, "out")
	return &config.Config{
		Iterations:          2,
		Browser:             "chrome",
		Connectivity:        "native",
		DevToolsURL:         fakePage(t),
		TargetURLs:          []string{"http://site.test/"},
		NavigationStrategy:  "native",
		Retries:             1,
		PageCompleteTimeout: 5 * time.Second,
		PageCompletePoll:    10 * time.Millisecond,
		NavigationTimeout:   5 * time.Second,
		OutputDir:           out,
		HARFiles:            []string{writeHAR(t, dir, "http://site.test/")},
		HARCompression:      "gzip",
		ResultCompression:   "none",
		ArchiveResults:      true,
		Screenshot:          true,
		Percentiles:         []float64{0, 100},
		HistoryDB:           filepath.Join(dir, "history.db"),
	}
}

func TestRun(t *testing.T) {
	cfg := testConfig(t)

	failed, err := run(context.Background(), cfg, silentLogger())
	require.NoError(t, err)
	assert.False(t, failed)

	data, err := os.ReadFile(filepath.Join(cfg.OutputDir, resultName))
	require.NoError(t, err)
	var doc struct {
		RunID   string `json:"runId"`
		Results []struct {
			Info struct {
				URL     string `json:"url"`
				Browser string `json:"browser"`
			} `json:"info"`
			Iterations  []int            `json:"iterations"`
			Statistics  map[string]any   `json:"statistics"`
			FullyLoaded []float64        `json:"fullyLoaded"`
			Screenshots [][]string       `json:"screenshots"`
			Errors      [][]string       `json:"errors"`
			CPU         []map[string]any `json:"cpu"`
		} `json:"results"`
		Errors []any `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.NotEmpty(t, doc.RunID)
	assert.NotNil(t, doc.Errors)
	require.Len(t, doc.Results, 1)

	rec := doc.Results[0]
	assert.Equal(t, "http://site.test/", rec.Info.URL)
	assert.Equal(t, "chrome", rec.Info.Browser)
	assert.Equal(t, []int{1, 2}, rec.Iterations)
	assert.Equal(t, []float64{130}, rec.FullyLoaded)
	assert.Equal(t, [][]string{{"screenshots/1/page-1.png"}, {"screenshots/2/page-1.png"}}, rec.Screenshots)
	ttfb := rec.Statistics["timings"].(map[string]any)["ttfb"].(map[string]any)
	assert.Equal(t, 100.0, ttfb["median"])

	assert.FileExists(t, filepath.Join(cfg.OutputDir, mergedHAR+".gz"))
	assert.FileExists(t, filepath.Join(cfg.OutputDir, archiveName))

	db, err := history.Open(cfg.HistoryDB, silentLogger())
	require.NoError(t, err)
	defer db.Close()
	points, err := db.Medians(context.Background(), "http://site.test/", compareMetric, 0)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, doc.RunID, points[0].RunID)
	assert.Equal(t, 100.0, points[0].Median)
}

func TestRun_BrowserNeverStarts(t *testing.T) {
	cfg := testConfig(t)
	cfg.DevToolsURL = "ws://127.0.0.1:1/devtools/page/P1"
	cfg.Iterations = 1
	cfg.HARFiles = nil

	failed, err := run(context.Background(), cfg, silentLogger())
	require.NoError(t, err)
	assert.True(t, failed)

	data, err := os.ReadFile(filepath.Join(cfg.OutputDir, resultName))
	require.NoError(t, err)
	var doc struct {
		RunID   string `json:"runId"`
		Results []any  `json:"results"`
		Errors  []struct {
			Iteration int    `json:"iteration"`
			Error     string `json:"error"`
		} `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Empty(t, doc.Results)
	require.Len(t, doc.Errors, 1)
	assert.Equal(t, 1, doc.Errors[0].Iteration)

	db, err := history.Open(cfg.HistoryDB, silentLogger())
	require.NoError(t, err)
	defer db.Close()
	stored, err := db.Run(context.Background(), doc.RunID)
	require.NoError(t, err)
	assert.True(t, stored.Failed)
	assert.Empty(t, stored.Metrics)
}

func TestLoadSteps(t *testing.T) {
	cfg := &config.Config{TargetURLs: []string{"https://a.test/", "https://b.test/"}}
	steps, scripts, err := loadSteps(cfg)
	require.NoError(t, err)
	assert.Len(t, steps, 2)
	assert.Equal(t, iteration.DefaultBrowserScripts, scripts)

	path := filepath.Join(t.TempDir(), "script.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
steps:
  - url: https://a.test/
    alias: home
browserScripts:
  custom:
    hero: "return 1;"
`), 0o644))
	cfg = &config.Config{ScriptFile: path, TargetURLs: []string{"https://ignored.test/"}}
	steps, scripts, err = loadSteps(cfg)
	require.NoError(t, err)
	assert.Equal(t, []iteration.Step{{URL: "https://a.test/", Alias: "home"}}, steps)
	assert.Equal(t, "return 1;", scripts["custom"]["hero"])
	assert.NotEmpty(t, scripts["timings"])
}

func TestCompletionCheck(t *testing.T) {
	check := completionCheck(&config.Config{PageCompletePoll: time.Second})()
	sc, ok := check.(*navigation.ScriptCheck)
	require.True(t, ok)
	assert.Equal(t, navigation.DefaultPageCompleteScript, sc.Script)

	check = completionCheck(&config.Config{PageCompleteCheck: "return true;"})()
	assert.Equal(t, "return true;", check.(*navigation.ScriptCheck).Script)

	newCheck := completionCheck(&config.Config{NetworkIdle: 2 * time.Second})
	a, b := newCheck(), newCheck()
	_, ok = a.(*navigation.NetworkIdleCheck)
	require.True(t, ok)
	assert.NotSame(t, a, b)
}
