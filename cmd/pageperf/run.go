package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/onkernel/pageperf/cmd/config"
	"github.com/onkernel/pageperf/lib/artifacts"
	"github.com/onkernel/pageperf/lib/cdp"
	"github.com/onkernel/pageperf/lib/collector"
	"github.com/onkernel/pageperf/lib/devtools"
	"github.com/onkernel/pageperf/lib/har"
	"github.com/onkernel/pageperf/lib/history"
	"github.com/onkernel/pageperf/lib/hoststats"
	"github.com/onkernel/pageperf/lib/iteration"
	"github.com/onkernel/pageperf/lib/metrics"
	"github.com/onkernel/pageperf/lib/navigation"
	"github.com/onkernel/pageperf/lib/statusapi"
)

var errNoEndpoint = errors.New("no devtools endpoint")

const (
	resultName  = "browsertime.json"
	mergedHAR   = "browsertime.har"
	archiveName = "results.tar.zst"

	// compareMetric is logged against earlier runs when history is enabled.
	compareMetric = "timings.ttfb"
	compareRuns   = 5
)

// Result is the document written to the output directory.
type Result struct {
	RunID   string                   `json:"runId"`
	Results []*collector.Record      `json:"results"`
	Errors  []collector.SessionError `json:"errors"`
}

// run measures every configured page and writes the results. failed reports
// whether any page or iteration failed.
func run(ctx context.Context, cfg *config.Config, slogger *slog.Logger) (failed bool, err error) {
	runID := uuid.NewString()
	startedAt := time.Now()
	slogger = slogger.With("run", runID)

	steps, scripts, err := loadSteps(cfg)
	if err != nil {
		return false, err
	}

	store, err := artifacts.NewStore(cfg.OutputDir, slogger)
	if err != nil {
		return false, err
	}

	endpoint, cleanup, err := endpointSource(ctx, cfg, slogger)
	if err != nil {
		return false, err
	}
	defer cleanup()

	sampler := hoststats.NewSampler("")
	if mem, err := sampler.Memory(); err != nil {
		slogger.Warn("host memory unavailable", "err", err)
	} else {
		slogger.Info("host memory", "totalMB", mem.TotalMB, "availableMB", mem.AvailableMB)
	}

	coll := collector.New(slogger, collector.Options{
		RunID:        runID,
		Browser:      cfg.Browser,
		Connectivity: cfg.Connectivity,
		Summary: metrics.SummaryOptions{
			Percentiles: cfg.Percentiles,
			Decimals:    cfg.Decimals,
			IQR:         cfg.IQR,
		},
	})
	progress := statusapi.NewProgress(runID, cfg.Iterations)

	script := iteration.NewPageScript(slogger, connector(endpoint, slogger), iteration.PageScriptOptions{
		Steps:          steps,
		Navigation:     cfg.NavigationOptions(),
		NewCheck:       completionCheck(cfg),
		BrowserScripts: scripts,
		ScriptBudget:   cfg.PageCompleteTimeout,
		Screenshot:     cfg.Screenshot,
		Store:          store,
		Sampler:        sampler,
		ConnectDelay:   time.Second,
		OnNavigate:     progress.NavigatingTo,
	})
	runner := iteration.NewRunner(slogger, coll, iteration.Options{
		Iterations: cfg.Iterations,
		Delay:      cfg.IterationDelay,
		Observer:   progress,
	})

	var status *statusapi.Server
	if cfg.StatusPort > 0 {
		addr := net.JoinHostPort("", strconv.Itoa(cfg.StatusPort))
		status, err = statusapi.Listen(addr, statusapi.NewRouter(slogger, progress, coll), slogger)
		if err != nil {
			return false, err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	runDone := make(chan struct{})
	if status != nil {
		g.Go(func() error {
			if err := status.Serve(); err != nil {
				return fmt.Errorf("status server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			select {
			case <-runDone:
			case <-gctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return status.Shutdown(shutdownCtx)
		})
	}
	g.Go(func() error {
		defer close(runDone)
		if err := runner.Run(gctx, script); err != nil {
			return err
		}
		progress.SetPhase(statusapi.PhaseFinishing)
		return finish(gctx, cfg, slogger, store, coll, runID, startedAt)
	})

	if err := g.Wait(); err != nil {
		return true, err
	}
	progress.SetPhase(statusapi.PhaseDone)
	return coll.HasFailures(), nil
}

// loadSteps returns the pages to visit and the browser scripts to run on
// each.
func loadSteps(cfg *config.Config) ([]iteration.Step, iteration.BrowserScripts, error) {
	if cfg.ScriptFile == "" {
		return iteration.StepsFromURLs(cfg.TargetURLs), iteration.DefaultBrowserScripts, nil
	}
	sf, err := iteration.LoadScriptFile(cfg.ScriptFile)
	if err != nil {
		return nil, nil, err
	}
	return sf.Steps, iteration.DefaultBrowserScripts.Merge(sf.BrowserScripts), nil
}

// completionCheck builds a fresh check per iteration so network idle state
// does not leak between browser sessions.
func completionCheck(cfg *config.Config) func() navigation.CompletionCheck {
	if cfg.NetworkIdle > 0 {
		return func() navigation.CompletionCheck {
			return navigation.NewNetworkIdleCheck(cfg.NetworkIdle)
		}
	}
	script := cfg.PageCompleteCheck
	if script == "" {
		script = navigation.DefaultPageCompleteScript
	}
	return func() navigation.CompletionCheck {
		return &navigation.ScriptCheck{Script: script, Budget: cfg.PageCompletePoll}
	}
}

// endpointSource resolves the websocket URL to dial each time a browser
// session is opened. A browser restarted between iterations gets a new URL.
func endpointSource(ctx context.Context, cfg *config.Config, slogger *slog.Logger) (func(context.Context) (string, error), func(), error) {
	client := &http.Client{Timeout: 10 * time.Second}
	if cfg.DevToolsURL != "" {
		return func(ctx context.Context) (string, error) {
			return devtools.Discover(ctx, client, cfg.DevToolsURL)
		}, func() {}, nil
	}

	w := devtools.NewWatcher(cfg.BrowserLogPath, slogger)
	if err := w.Start(ctx); err != nil {
		return nil, nil, err
	}
	first, err := w.WaitForInitial(ctx, cfg.DevToolsWait)
	if err != nil {
		w.Stop()
		return nil, nil, err
	}
	slogger.Info("devtools endpoint found", "url", first)
	return func(ctx context.Context) (string, error) {
		current := w.Current()
		if current == "" {
			return "", errNoEndpoint
		}
		return devtools.Discover(ctx, client, current)
	}, w.Stop, nil
}

func connector(endpoint func(context.Context) (string, error), slogger *slog.Logger) iteration.Connector {
	return func(ctx context.Context) (iteration.Browser, error) {
		wsURL, err := endpoint(ctx)
		if err != nil {
			return nil, err
		}
		c, err := cdp.Dial(ctx, wsURL, slogger)
		if err != nil {
			return nil, err
		}
		if v, err := c.Version(ctx); err == nil {
			slogger.Debug("connected to browser", "version", v)
		}
		return c, nil
	}
}

// finish folds traffic logs into the records and writes every output.
func finish(ctx context.Context, cfg *config.Config, slogger *slog.Logger, store *artifacts.Store, coll *collector.Collector, runID string, startedAt time.Time) error {
	if len(cfg.HARFiles) > 0 {
		if err := backFill(cfg, slogger, store, coll); err != nil {
			return err
		}
	}

	records := coll.Finalize()
	sessionErrors := coll.SessionErrors()
	if sessionErrors == nil {
		sessionErrors = []collector.SessionError{}
	}
	resultCompression, _ := artifacts.ParseCompression(cfg.ResultCompression)
	path, err := store.WriteJSON(resultName, Result{
		RunID:   runID,
		Results: records,
		Errors:  sessionErrors,
	}, resultCompression)
	if err != nil {
		return err
	}
	slogger.Info("wrote results", "path", path, "urls", len(records))

	if cfg.HistoryDB != "" {
		if err := saveHistory(ctx, cfg, slogger, records, runID, startedAt, coll.HasFailures()); err != nil {
			return err
		}
	}

	if cfg.ArchiveResults {
		if err := archive(store); err != nil {
			return err
		}
	}
	return nil
}

func backFill(cfg *config.Config, slogger *slog.Logger, store *artifacts.Store, coll *collector.Collector) error {
	logs := make([]*har.HAR, 0, len(cfg.HARFiles))
	for _, p := range cfg.HARFiles {
		h, err := har.Read(p)
		if err != nil {
			return err
		}
		logs = append(logs, h)
	}
	merged := har.Merge(logs...)
	unmatched := coll.BackFill(har.FullyLoaded(merged), har.MainDocumentTimings(merged))
	if unmatched > 0 {
		slogger.Warn("traffic log pages matched no measured url", "count", unmatched)
	}

	c, _ := artifacts.ParseCompression(cfg.HARCompression)
	path, err := store.WriteJSON(mergedHAR, merged, c)
	if err != nil {
		return err
	}
	slogger.Info("wrote merged traffic log", "path", path, "files", len(logs))
	return nil
}

func saveHistory(ctx context.Context, cfg *config.Config, slogger *slog.Logger, records []*collector.Record, runID string, startedAt time.Time, failed bool) error {
	db, err := history.Open(cfg.HistoryDB, slogger)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Save(ctx, history.Run{
		ID:           runID,
		StartedAt:    startedAt,
		Browser:      cfg.Browser,
		Connectivity: cfg.Connectivity,
		Iterations:   cfg.Iterations,
		Failed:       failed,
	}, records); err != nil {
		return err
	}
	for _, rec := range records {
		points, err := db.Medians(ctx, rec.Info.URL, compareMetric, compareRuns)
		if err != nil {
			return err
		}
		if len(points) < 2 {
			continue
		}
		medians := lo.Map(points, func(p history.Point, _ int) float64 { return p.Median })
		slogger.Info("compared with earlier runs", "url", rec.Info.URL, "metric", compareMetric, "medians", medians)
	}
	return nil
}

func archive(store *artifacts.Store) (err error) {
	tmp, err := os.CreateTemp(store.Dir(), ".archive-*")
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer func() {
		if err != nil {
			os.Remove(tmp.Name())
		}
	}()
	if err := store.Archive(tmp, artifacts.LevelDefault, archiveName); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	return os.Rename(tmp.Name(), filepath.Join(store.Dir(), archiveName))
}
