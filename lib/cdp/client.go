// Package cdp is a small Chrome DevTools Protocol client that implements the
// browser driver used for page-load measurement.
package cdp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

// DefaultCallTimeout bounds a single protocol round-trip when the caller's
// context has no deadline.
const DefaultCallTimeout = 30 * time.Second

// ErrClosed is returned for calls on a closed client.
var ErrClosed = errors.New("cdp connection closed")

type message struct {
	ID        int64           `json:"id,omitempty"`
	Method    string          `json:"method,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *Error          `json:"error,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
}

// Error is a protocol-level error response.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Method  string `json:"-"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (%d)", e.Method, e.Message, e.Code)
}

// ExceptionError is a JavaScript exception thrown by an evaluated script.
type ExceptionError struct {
	Text string
}

func (e *ExceptionError) Error() string { return "javascript exception: " + e.Text }

// Client talks to one page. When dialed at a browser-level endpoint it
// attaches to the first page target and routes calls through that session.
type Client struct {
	logger      *slog.Logger
	conn        *websocket.Conn
	callTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	nextID    atomic.Int64
	mu        sync.Mutex
	pending   map[int64]chan *message
	sessionID string
	readErr   error
}

// Dial connects to wsURL and prepares the page for driving.
func Dial(ctx context.Context, wsURL string, logger *slog.Logger) (*Client, error) {
	parsed, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid devtools URL: %w", err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Host": []string{parsed.Host}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to devtools: %w", err)
	}
	conn.SetReadLimit(100 * 1024 * 1024)

	c := newClient(conn, logger)
	if strings.Contains(parsed.Path, "/devtools/browser/") {
		if err := c.attachPage(ctx); err != nil {
			c.Close()
			return nil, err
		}
	}
	for _, method := range []string{"Page.enable", "Runtime.enable"} {
		if _, err := c.Send(ctx, method, nil); err != nil {
			c.Close()
			return nil, err
		}
	}
	return c, nil
}

func newClient(conn *websocket.Conn, logger *slog.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		logger:      logger,
		conn:        conn,
		callTimeout: DefaultCallTimeout,
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		pending:     make(map[int64]chan *message),
	}
	go c.readLoop()
	return c
}

// Close ends the connection and fails all pending calls.
func (c *Client) Close() error {
	c.cancel()
	err := c.conn.Close(websocket.StatusNormalClosure, "")
	<-c.done
	return err
}

// Send issues method on the attached page and waits for its result.
func (c *Client) Send(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	session := c.sessionID
	c.mu.Unlock()
	return c.send(ctx, session, method, params)
}

func (c *Client) send(ctx context.Context, session, method string, params any) (json.RawMessage, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}

	msg := message{ID: c.nextID.Add(1), Method: method, SessionID: session}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal %s params: %w", method, err)
		}
		msg.Params = raw
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", method, err)
	}

	ch := make(chan *message, 1)
	c.mu.Lock()
	if c.readErr != nil {
		c.mu.Unlock()
		return nil, c.readErr
	}
	c.pending[msg.ID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, msg.ID)
		c.mu.Unlock()
	}()

	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return nil, fmt.Errorf("write %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", method, ctx.Err())
	case <-c.done:
		return nil, c.err()
	case resp := <-ch:
		if resp.Error != nil {
			resp.Error.Method = method
			return nil, resp.Error
		}
		return resp.Result, nil
	}
}

func (c *Client) err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return c.readErr
	}
	return ErrClosed
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			c.mu.Lock()
			if c.ctx.Err() != nil {
				c.readErr = ErrClosed
			} else {
				c.readErr = fmt.Errorf("%w: %v", ErrClosed, err)
				c.logger.Error("devtools read error", "err", err)
			}
			c.mu.Unlock()
			return
		}

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Error("devtools unmarshal error", "err", err)
			continue
		}
		if msg.ID == 0 {
			// events are not consumed
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[msg.ID]
		c.mu.Unlock()
		if ok {
			ch <- &msg
		}
	}
}

func (c *Client) attachPage(ctx context.Context) error {
	raw, err := c.Send(ctx, "Target.getTargets", nil)
	if err != nil {
		return err
	}
	var targets struct {
		TargetInfos []struct {
			TargetID string `json:"targetId"`
			Type     string `json:"type"`
			URL      string `json:"url"`
		} `json:"targetInfos"`
	}
	if err := json.Unmarshal(raw, &targets); err != nil {
		return fmt.Errorf("unmarshal targets: %w", err)
	}

	targetID := ""
	for _, t := range targets.TargetInfos {
		if t.Type == "page" {
			targetID = t.TargetID
			break
		}
	}
	if targetID == "" {
		raw, err := c.Send(ctx, "Target.createTarget", map[string]any{"url": "about:blank"})
		if err != nil {
			return err
		}
		var created struct {
			TargetID string `json:"targetId"`
		}
		if err := json.Unmarshal(raw, &created); err != nil {
			return fmt.Errorf("unmarshal created target: %w", err)
		}
		targetID = created.TargetID
	}

	raw, err = c.Send(ctx, "Target.attachToTarget", map[string]any{"targetId": targetID, "flatten": true})
	if err != nil {
		return err
	}
	var attached struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(raw, &attached); err != nil {
		return fmt.Errorf("unmarshal attach: %w", err)
	}

	c.mu.Lock()
	c.sessionID = attached.SessionID
	c.mu.Unlock()
	c.logger.Info("attached to page target", "id", targetID, "session", attached.SessionID)
	return nil
}

// Navigate loads url in the page. Network failures reported by the browser
// are returned as errors.
func (c *Client) Navigate(ctx context.Context, url string) error {
	raw, err := c.Send(ctx, "Page.navigate", map[string]any{"url": url})
	if err != nil {
		return err
	}
	var res struct {
		ErrorText string `json:"errorText"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return fmt.Errorf("unmarshal navigate: %w", err)
	}
	if res.ErrorText != "" {
		return fmt.Errorf("navigate to %s: %s", url, res.ErrorText)
	}
	return nil
}

func (c *Client) CurrentDocumentURI(ctx context.Context) (string, error) {
	v, err := c.evaluate(ctx, "document.documentURI", 0)
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}

// Evaluate runs script as a function body and returns its value. Promises are
// awaited. A positive budget bounds execution inside the page.
func (c *Client) Evaluate(ctx context.Context, script string, budget time.Duration) (any, error) {
	return c.evaluate(ctx, "(function() {\n"+script+"\n})()", budget)
}

func (c *Client) evaluate(ctx context.Context, expression string, budget time.Duration) (any, error) {
	params := map[string]any{
		"expression":    expression,
		"returnByValue": true,
		"awaitPromise":  true,
	}
	if budget > 0 {
		params["timeout"] = budget.Milliseconds()
	}
	raw, err := c.Send(ctx, "Runtime.evaluate", params)
	if err != nil {
		return nil, err
	}

	var res struct {
		Result struct {
			Type        string          `json:"type"`
			Subtype     string          `json:"subtype"`
			Value       json.RawMessage `json:"value"`
			Description string          `json:"description"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text      string `json:"text"`
			Exception struct {
				Description string `json:"description"`
			} `json:"exception"`
		} `json:"exceptionDetails"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("unmarshal evaluate: %w", err)
	}
	if ex := res.ExceptionDetails; ex != nil {
		text := ex.Text
		if ex.Exception.Description != "" {
			text = ex.Exception.Description
		}
		return nil, &ExceptionError{Text: text}
	}
	if len(res.Result.Value) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(res.Result.Value, &v); err != nil {
		return nil, fmt.Errorf("unmarshal evaluate value: %w", err)
	}
	return v, nil
}

func (c *Client) TakeScreenshot(ctx context.Context) ([]byte, error) {
	raw, err := c.Send(ctx, "Page.captureScreenshot", map[string]any{"format": "png"})
	if err != nil {
		return nil, err
	}
	var res struct {
		Data string `json:"data"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("unmarshal screenshot: %w", err)
	}
	return base64.StdEncoding.DecodeString(res.Data)
}

// Version is the browser product string, e.g. "HeadlessChrome/120.0.0.0".
func (c *Client) Version(ctx context.Context) (string, error) {
	raw, err := c.send(ctx, "", "Browser.getVersion", nil)
	if err != nil {
		return "", err
	}
	var res struct {
		Product string `json:"product"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return "", fmt.Errorf("unmarshal version: %w", err)
	}
	return res.Product, nil
}
