// Package devtools finds the DevTools websocket endpoint of a running browser,
// either from the browser's log output or from its HTTP discovery endpoint.
package devtools

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

var devtoolsListeningRegexp = regexp.MustCompile(`DevTools listening on (ws://\S+)`)

// Watcher follows a browser log file and extracts the current DevTools
// websocket URL, updating it whenever the browser restarts and logs a new one.
type Watcher struct {
	logFilePath string
	logger      *slog.Logger

	currentURL atomic.Value // string

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}

	subsMu sync.RWMutex
	subs   map[chan string]struct{}
}

func NewWatcher(logFilePath string, logger *slog.Logger) *Watcher {
	w := &Watcher{logFilePath: filepath.Clean(logFilePath), logger: logger, done: make(chan struct{})}
	w.currentURL.Store("")
	return w
}

// Start begins following the log until ctx is done or Stop is called. The
// log file does not need to exist yet.
func (w *Watcher) Start(ctx context.Context) error {
	var err error
	w.startOnce.Do(func() {
		var fw *fsnotify.Watcher
		fw, err = fsnotify.NewWatcher()
		if err != nil {
			err = fmt.Errorf("create log watcher: %w", err)
			return
		}
		if err = fw.Add(filepath.Dir(w.logFilePath)); err != nil {
			fw.Close()
			err = fmt.Errorf("watch %s: %w", filepath.Dir(w.logFilePath), err)
			return
		}
		ctx, cancel := context.WithCancel(ctx)
		w.cancel = cancel
		go w.follow(ctx, fw)
	})
	return err
}

// Stop ends the follower and waits for it to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		if w.cancel != nil {
			w.cancel()
			<-w.done
		}
	})
}

// WaitForInitial blocks until a DevTools URL has been seen or the timeout
// elapses.
func (w *Watcher) WaitForInitial(ctx context.Context, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		if url := w.Current(); url != "" {
			return url, nil
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("devtools endpoint not found in %s within %s", w.logFilePath, timeout)
		case <-ticker.C:
		}
	}
}

// Current returns the latest DevTools URL, or "" if none has been seen.
func (w *Watcher) Current() string {
	val, _ := w.currentURL.Load().(string)
	return val
}

func (w *Watcher) setCurrent(url string) {
	prev := w.Current()
	if url == "" || url == prev {
		return
	}
	w.logger.Info("devtools endpoint updated", slog.String("url", url))
	w.currentURL.Store(url)
	w.subsMu.RLock()
	defer w.subsMu.RUnlock()
	for ch := range w.subs {
		// latest wins: replace a stale buffered value
		select {
		case ch <- url:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- url:
			default:
			}
		}
	}
}

// Subscribe returns a channel that receives new DevTools URLs as they are
// found. Call the returned function to unsubscribe.
func (w *Watcher) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 1)
	w.subsMu.Lock()
	if w.subs == nil {
		w.subs = make(map[chan string]struct{})
	}
	w.subs[ch] = struct{}{}
	w.subsMu.Unlock()
	return ch, func() {
		w.subsMu.Lock()
		if _, ok := w.subs[ch]; ok {
			delete(w.subs, ch)
			close(ch)
		}
		w.subsMu.Unlock()
	}
}

func (w *Watcher) follow(ctx context.Context, fw *fsnotify.Watcher) {
	defer close(w.done)
	defer fw.Close()

	t := tail{path: w.logFilePath}
	t.read(w.scanLine)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.logFilePath {
				continue
			}
			switch {
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				t.reset()
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				t.read(w.scanLine)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Error("log watcher error", "err", err)
		}
	}
}

func (w *Watcher) scanLine(line []byte) {
	if m := devtoolsListeningRegexp.FindSubmatch(line); len(m) == 2 {
		w.setCurrent(string(m[1]))
	}
}

// tail reads complete lines appended to a file since the last read.
type tail struct {
	path    string
	offset  int64
	partial []byte
}

func (t *tail) reset() {
	t.offset = 0
	t.partial = nil
}

func (t *tail) read(line func([]byte)) {
	f, err := os.Open(t.path)
	if err != nil {
		return
	}
	defer f.Close()
	if info, err := f.Stat(); err == nil && info.Size() < t.offset {
		t.reset()
	}
	if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
		return
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return
	}
	t.offset += int64(len(data))

	buf := append(t.partial, data...)
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		line(bytes.TrimRight(buf[:i], "\r"))
		buf = buf[i+1:]
	}
	t.partial = append([]byte(nil), buf...)
}
