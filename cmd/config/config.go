package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/samber/lo"

	"github.com/onkernel/pageperf/lib/artifacts"
	"github.com/onkernel/pageperf/lib/navigation"
)

// Config holds all configuration for a measurement run
type Config struct {
	// Run configuration
	Iterations     int           `envconfig:"ITERATIONS" default:"3"`
	Browser        string        `envconfig:"BROWSER" default:"chrome"`
	Connectivity   string        `envconfig:"CONNECTIVITY" default:"native"`
	IterationDelay time.Duration `envconfig:"ITERATION_DELAY" default:"0s"`

	// Browser endpoint. DEVTOOLS_URL wins over BROWSER_LOG_PATH.
	DevToolsURL    string        `envconfig:"DEVTOOLS_URL"`
	BrowserLogPath string        `envconfig:"BROWSER_LOG_PATH"`
	DevToolsWait   time.Duration `envconfig:"DEVTOOLS_WAIT" default:"30s"`

	// What to measure. SCRIPT_FILE wins over TARGET_URLS.
	TargetURLs []string `envconfig:"TARGET_URLS"`
	ScriptFile string   `envconfig:"SCRIPT_FILE"`

	// Navigation
	NavigationStrategy   string        `envconfig:"NAVIGATION_STRATEGY" default:"native"`
	Retries              int           `envconfig:"RETRIES" default:"5"`
	RetryWait            time.Duration `envconfig:"RETRY_WAIT" default:"10s"`
	SettleDelay          time.Duration `envconfig:"SETTLE_DELAY" default:"2s"`
	SettleDelayBlocking  time.Duration `envconfig:"SETTLE_DELAY_BLOCKING" default:"500ms"`
	BlockingLoadStrategy bool          `envconfig:"BLOCKING_LOAD_STRATEGY" default:"false"`
	PageCompleteCheck    string        `envconfig:"PAGE_COMPLETE_CHECK"`
	PageCompleteTimeout  time.Duration `envconfig:"PAGE_COMPLETE_TIMEOUT" default:"5m"`
	PageCompletePoll     time.Duration `envconfig:"PAGE_COMPLETE_POLL" default:"1500ms"`
	NetworkIdle          time.Duration `envconfig:"NETWORK_IDLE" default:"0s"`
	NavigationTimeout    time.Duration `envconfig:"NAVIGATION_TIMEOUT" default:"5m"`
	SPA                  bool          `envconfig:"SPA" default:"false"`

	// Output
	OutputDir         string    `envconfig:"OUTPUT_DIR" default:"."`
	HARFiles          []string  `envconfig:"HAR_FILES"`
	HARCompression    string    `envconfig:"HAR_COMPRESSION" default:"none"`
	ResultCompression string    `envconfig:"RESULT_COMPRESSION" default:"none"`
	ArchiveResults    bool      `envconfig:"ARCHIVE_RESULTS" default:"false"`
	Screenshot        bool      `envconfig:"SCREENSHOT" default:"true"`
	Percentiles       []float64 `envconfig:"PERCENTILES" default:"0,10,90,99,100"`
	Decimals          int       `envconfig:"DECIMALS" default:"0"`
	IQR               bool      `envconfig:"IQR" default:"false"`

	HistoryDB  string `envconfig:"HISTORY_DB"`
	StatusPort int    `envconfig:"STATUS_PORT" default:"0"`
	LogLevel   string `envconfig:"LOG_LEVEL" default:"info"`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		return nil, err
	}
	config.TargetURLs = lo.Compact(config.TargetURLs)
	config.HARFiles = lo.Compact(config.HARFiles)
	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(config *Config) error {
	if config.Iterations < 1 {
		return fmt.Errorf("ITERATIONS must be greater than 0")
	}
	if config.DevToolsURL == "" && config.BrowserLogPath == "" {
		return fmt.Errorf("DEVTOOLS_URL or BROWSER_LOG_PATH is required")
	}
	if config.ScriptFile == "" && len(config.TargetURLs) == 0 {
		return fmt.Errorf("TARGET_URLS or SCRIPT_FILE is required")
	}
	if _, err := navigation.ParseStrategy(config.NavigationStrategy); err != nil {
		return err
	}
	if config.Retries < 1 {
		return fmt.Errorf("RETRIES must be greater than 0")
	}
	if config.PageCompletePoll <= 0 {
		return fmt.Errorf("PAGE_COMPLETE_POLL must be greater than 0")
	}
	if config.NetworkIdle < 0 {
		return fmt.Errorf("NETWORK_IDLE must not be negative")
	}
	if config.OutputDir == "" {
		return fmt.Errorf("OUTPUT_DIR is required")
	}
	if _, err := artifacts.ParseCompression(config.HARCompression); err != nil {
		return fmt.Errorf("HAR_COMPRESSION: %w", err)
	}
	if _, err := artifacts.ParseCompression(config.ResultCompression); err != nil {
		return fmt.Errorf("RESULT_COMPRESSION: %w", err)
	}
	for _, p := range config.Percentiles {
		if p < 0 || p > 100 {
			return fmt.Errorf("PERCENTILES must be between 0 and 100, got %v", p)
		}
	}
	if config.Decimals < 0 {
		return fmt.Errorf("DECIMALS must not be negative")
	}
	if config.StatusPort < 0 || config.StatusPort > 65535 {
		return fmt.Errorf("STATUS_PORT must be between 0 and 65535")
	}

	return nil
}

// Strategy returns the parsed navigation strategy. Load has validated it.
func (c *Config) Strategy() navigation.Strategy {
	s, _ := navigation.ParseStrategy(c.NavigationStrategy)
	return s
}

// NavigationOptions maps the navigation settings onto the controller's options.
func (c *Config) NavigationOptions() navigation.Options {
	opts := navigation.DefaultOptions()
	opts.Strategy = c.Strategy()
	opts.Retries = c.Retries
	opts.RetryWaitTime = c.RetryWait
	opts.SettleDelay = c.SettleDelay
	opts.BlockingSettleDelay = c.SettleDelayBlocking
	opts.BlockingLoadStrategy = c.BlockingLoadStrategy
	opts.NavigationTimeout = c.NavigationTimeout
	opts.CompletionTimeout = c.PageCompleteTimeout
	opts.PollInterval = c.PageCompletePoll
	opts.SPA = c.SPA
	return opts
}
