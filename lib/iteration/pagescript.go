package iteration

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	retry "github.com/avast/retry-go/v5"

	"github.com/onkernel/pageperf/lib/artifacts"
	"github.com/onkernel/pageperf/lib/collector"
	"github.com/onkernel/pageperf/lib/hoststats"
	"github.com/onkernel/pageperf/lib/navigation"
)

const connectAttempts = 3

// Browser is a driver session that has to be closed.
type Browser interface {
	navigation.Driver
	Close() error
}

// Connector opens a browser session.
type Connector func(ctx context.Context) (Browser, error)

type PageScriptOptions struct {
	Steps      []Step
	Navigation navigation.Options

	// NewCheck builds the completion check for one iteration. Nil uses the
	// default page complete script.
	NewCheck func() navigation.CompletionCheck

	BrowserScripts BrowserScripts
	// ScriptBudget bounds each browser script inside the page.
	ScriptBudget time.Duration

	Screenshot bool
	// Store receives screenshots. Nil disables them.
	Store *artifacts.Store
	// Sampler adds host CPU usage per page. Nil disables it.
	Sampler *hoststats.Sampler

	ConnectDelay time.Duration
	// OnNavigate is called before each page is loaded.
	OnNavigate func(url string)
}

// PageScript visits its steps in order in a fresh browser session and
// measures every page.
type PageScript struct {
	logger  *slog.Logger
	connect Connector
	opts    PageScriptOptions
	now     func() time.Time
}

func NewPageScript(logger *slog.Logger, connect Connector, opts PageScriptOptions) *PageScript {
	if opts.BrowserScripts == nil {
		opts.BrowserScripts = DefaultBrowserScripts
	}
	return &PageScript{logger: logger, connect: connect, opts: opts, now: time.Now}
}

func (s *PageScript) Run(ctx context.Context, iteration int) (*collector.IterationPayload, error) {
	browser, err := s.open(ctx)
	if err != nil {
		return nil, &BrowserStartError{Err: err}
	}
	defer browser.Close()

	log := s.logger.With("iteration", iteration)
	var check navigation.CompletionCheck
	if s.opts.NewCheck != nil {
		check = s.opts.NewCheck()
	}
	ctrl := navigation.NewController(log, browser, check, s.opts.Navigation)

	payload := &collector.IterationPayload{Iteration: iteration}
	for i, step := range s.opts.Steps {
		page, err := s.measure(ctx, log, ctrl, browser, iteration, i, step)
		if err != nil {
			return payload, &PageError{URL: navigation.NormalizeURL(step.URL), Alias: step.Alias, Err: err}
		}
		payload.Pages = append(payload.Pages, *page)
	}
	return payload, nil
}

func (s *PageScript) open(ctx context.Context) (Browser, error) {
	var browser Browser
	err := retry.New(
		retry.Attempts(connectAttempts),
		retry.Delay(s.opts.ConnectDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	).Do(func() error {
		b, err := s.connect(ctx)
		if err != nil {
			s.logger.Warn("browser connect failed", "err", err)
			return err
		}
		browser = b
		return nil
	})
	return browser, err
}

func (s *PageScript) measure(ctx context.Context, log *slog.Logger, ctrl *navigation.Controller, browser Browser, iteration, index int, step Step) (*collector.PageResult, error) {
	if s.opts.OnNavigate != nil {
		s.opts.OnNavigate(step.URL)
	}

	var cpuBefore *hoststats.CPUStats
	if s.opts.Sampler != nil {
		var err error
		if cpuBefore, err = s.opts.Sampler.CPU(); err != nil {
			log.Warn("host cpu sample failed", "err", err)
		}
	}

	started := s.now()
	res, err := ctrl.Navigate(ctx, step.URL)
	if err != nil {
		return nil, err
	}

	page := &collector.PageResult{
		URL:            res.URL,
		Alias:          step.Alias,
		ActualURL:      res.DocumentURI,
		Timestamp:      started,
		BrowserScripts: map[string]any{},
	}

	if v, err := browser.Evaluate(ctx, actualURLScript, s.opts.ScriptBudget); err != nil {
		return nil, &navigation.ScriptError{URL: res.URL, Script: "document.URL", Err: err}
	} else if u, ok := v.(string); ok && u != "" {
		page.ActualURL = u
	}

	for _, ns := range s.opts.BrowserScripts.ordered() {
		v, err := browser.Evaluate(ctx, ns.script, s.opts.ScriptBudget)
		if err != nil {
			return nil, &navigation.ScriptError{URL: res.URL, Script: strings.Join(ns.path, "."), Err: err}
		}
		setPath(page.BrowserScripts, ns.path, v)
	}

	if v, err := browser.Evaluate(ctx, memoryScript, s.opts.ScriptBudget); err != nil {
		log.Warn("reading js heap size failed", "err", err)
	} else if f, ok := v.(float64); ok {
		page.Memory = &f
	}

	if v, err := browser.Evaluate(ctx, failureScript, s.opts.ScriptBudget); err != nil {
		log.Warn("reading failure marker failed", "err", err)
	} else if marker, ok := v.(map[string]any); ok {
		page.MarkedAsFailure = true
		page.FailureMessages = failureMessages(marker)
		log.Warn("page marked itself as failed", "url", res.URL, "messages", page.FailureMessages)
	}

	if s.opts.Screenshot && s.opts.Store != nil {
		if rel, err := s.screenshot(ctx, browser, iteration, index, step); err != nil {
			log.Warn("screenshot failed", "url", res.URL, "err", err)
		} else {
			page.Artifacts.Screenshots = append(page.Artifacts.Screenshots, rel)
		}
	}

	if cpuBefore != nil {
		if cpuAfter, err := s.opts.Sampler.CPU(); err != nil {
			log.Warn("host cpu sample failed", "err", err)
		} else {
			page.CPU = hoststats.CalculateUsage(cpuBefore, cpuAfter).Metrics()
		}
	}
	return page, nil
}

func failureMessages(marker map[string]any) []string {
	var out []string
	if list, ok := marker["messages"].([]any); ok {
		for _, m := range list {
			out = append(out, fmt.Sprint(m))
		}
	}
	if len(out) == 0 {
		out = []string{"page marked the run as failed"}
	}
	return out
}

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

func (s *PageScript) screenshot(ctx context.Context, browser Browser, iteration, index int, step Step) (string, error) {
	png, err := browser.TakeScreenshot(ctx)
	if err != nil {
		return "", err
	}
	name := step.Alias
	if name == "" {
		name = fmt.Sprintf("page-%d", index+1)
	}
	name = strings.Trim(unsafeName.ReplaceAllString(name, "_"), "_")
	path, err := s.opts.Store.WriteFile(filepath.Join("screenshots", fmt.Sprint(iteration), name+".png"), png)
	if err != nil {
		return "", err
	}
	return filepath.Rel(s.opts.Store.Dir(), path)
}
