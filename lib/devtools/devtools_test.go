package devtools

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func appendLine(t *testing.T, path, line string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(line)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestWatcher_FollowsLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chromium.log")
	w := NewWatcher(path, silentLogger())
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	updates, unsubscribe := w.Subscribe()
	defer unsubscribe()

	appendLine(t, path, "starting chromium\n")
	appendLine(t, path, "DevTools listening on ws://127.0.0.1:9222/devtools/browser/one\n")

	url, err := w.WaitForInitial(context.Background(), 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:9222/devtools/browser/one", url)

	appendLine(t, path, "DevTools listening on ws://127.0.0.1:9222/devtools/")
	appendLine(t, path, "browser/two\n")
	require.Eventually(t, func() bool {
		return w.Current() == "ws://127.0.0.1:9222/devtools/browser/two"
	}, 5*time.Second, 20*time.Millisecond)

	select {
	case got := <-updates:
		assert.Contains(t, got, "/devtools/browser/")
	case <-time.After(time.Second):
		t.Fatal("no update delivered")
	}
}

func TestWatcher_ExistingLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chromium.log")
	appendLine(t, path, "DevTools listening on ws://127.0.0.1:9222/devtools/browser/early\n")

	w := NewWatcher(path, silentLogger())
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	url, err := w.WaitForInitial(context.Background(), 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:9222/devtools/browser/early", url)
}

func TestWatcher_WaitTimesOut(t *testing.T) {
	w := NewWatcher(filepath.Join(t.TempDir(), "missing.log"), silentLogger())
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	_, err := w.WaitForInitial(context.Background(), 150*time.Millisecond)
	assert.Error(t, err)
}

func TestTail_Truncation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log")
	appendLine(t, path, "first line\nsecond")

	var lines []string
	collect := func(b []byte) { lines = append(lines, string(b)) }
	tl := tail{path: path}
	tl.read(collect)
	assert.Equal(t, []string{"first line"}, lines)

	appendLine(t, path, " half\r\n")
	tl.read(collect)
	assert.Equal(t, []string{"first line", "second half"}, lines)

	require.NoError(t, os.WriteFile(path, []byte("new\n"), 0o644))
	tl.read(collect)
	assert.Equal(t, "new", lines[len(lines)-1])
}

func TestDiscover(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/json/version" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, `{"Browser":"Chrome/120","webSocketDebuggerUrl":"ws://127.0.0.1:9222/devtools/browser/abc"}`)
	}))
	defer server.Close()

	got, err := Discover(context.Background(), server.Client(), server.URL+"/")
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:9222/devtools/browser/abc", got)

	got, err = Discover(context.Background(), nil, "ws://host/devtools/page/1")
	require.NoError(t, err)
	assert.Equal(t, "ws://host/devtools/page/1", got)

	_, err = Discover(context.Background(), nil, "ftp://host")
	assert.Error(t, err)
}
