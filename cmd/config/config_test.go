package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onkernel/pageperf/lib/navigation"
)

func TestLoad(t *testing.T) {
	testCases := []struct {
		name    string
		env     map[string]string
		wantErr bool
		check   func(t *testing.T, cfg *Config)
	}{
		{
			name: "defaults",
			env: map[string]string{
				"DEVTOOLS_URL": "http://127.0.0.1:9222",
				"TARGET_URLS":  "https://example.com/",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 3, cfg.Iterations)
				assert.Equal(t, "chrome", cfg.Browser)
				assert.Equal(t, "native", cfg.Connectivity)
				assert.Equal(t, 30*time.Second, cfg.DevToolsWait)
				assert.Equal(t, []string{"https://example.com/"}, cfg.TargetURLs)
				assert.Equal(t, 5, cfg.Retries)
				assert.Equal(t, 10*time.Second, cfg.RetryWait)
				assert.Equal(t, 2*time.Second, cfg.SettleDelay)
				assert.Equal(t, 500*time.Millisecond, cfg.SettleDelayBlocking)
				assert.Equal(t, 5*time.Minute, cfg.PageCompleteTimeout)
				assert.Equal(t, 1500*time.Millisecond, cfg.PageCompletePoll)
				assert.Equal(t, 5*time.Minute, cfg.NavigationTimeout)
				assert.Equal(t, ".", cfg.OutputDir)
				assert.Equal(t, []float64{0, 10, 90, 99, 100}, cfg.Percentiles)
				assert.True(t, cfg.Screenshot)
				assert.Zero(t, cfg.StatusPort)
				assert.Equal(t, "info", cfg.LogLevel)
				assert.Equal(t, navigation.StrategyNative, cfg.Strategy())
			},
		},
		{
			name: "custom valid env",
			env: map[string]string{
				"BROWSER_LOG_PATH":    "/var/log/chromium.log",
				"SCRIPT_FILE":         "/scripts/login.yaml",
				"ITERATIONS":          "7",
				"NAVIGATION_STRATEGY": "location",
				"RETRIES":             "2",
				"RETRY_WAIT":          "3s",
				"SPA":                 "true",
				"HAR_FILES":           "a.har,b.har.gz",
				"RESULT_COMPRESSION":  "zstd",
				"PERCENTILES":         "50,95",
				"STATUS_PORT":         "10002",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 7, cfg.Iterations)
				assert.Equal(t, []string{"a.har", "b.har.gz"}, cfg.HARFiles)
				assert.Equal(t, []float64{50, 95}, cfg.Percentiles)
				assert.Equal(t, 10002, cfg.StatusPort)

				opts := cfg.NavigationOptions()
				assert.Equal(t, navigation.StrategyLocation, opts.Strategy)
				assert.Equal(t, 2, opts.Retries)
				assert.Equal(t, 3*time.Second, opts.RetryWaitTime)
				assert.True(t, opts.SPA)
			},
		},
		{
			name:    "no browser endpoint",
			env:     map[string]string{"TARGET_URLS": "https://example.com/"},
			wantErr: true,
		},
		{
			name:    "nothing to measure",
			env:     map[string]string{"DEVTOOLS_URL": "ws://127.0.0.1:9222/devtools/page/1"},
			wantErr: true,
		},
		{
			name: "zero iterations",
			env: map[string]string{
				"DEVTOOLS_URL": "http://127.0.0.1:9222",
				"TARGET_URLS":  "https://example.com/",
				"ITERATIONS":   "0",
			},
			wantErr: true,
		},
		{
			name: "unknown strategy",
			env: map[string]string{
				"DEVTOOLS_URL":        "http://127.0.0.1:9222",
				"TARGET_URLS":         "https://example.com/",
				"NAVIGATION_STRATEGY": "teleport",
			},
			wantErr: true,
		},
		{
			name: "unknown compression",
			env: map[string]string{
				"DEVTOOLS_URL":    "http://127.0.0.1:9222",
				"TARGET_URLS":     "https://example.com/",
				"HAR_COMPRESSION": "brotli",
			},
			wantErr: true,
		},
		{
			name: "percentile out of range",
			env: map[string]string{
				"DEVTOOLS_URL": "http://127.0.0.1:9222",
				"TARGET_URLS":  "https://example.com/",
				"PERCENTILES":  "50,101",
			},
			wantErr: true,
		},
		{
			name: "bad duration",
			env: map[string]string{
				"DEVTOOLS_URL": "http://127.0.0.1:9222",
				"TARGET_URLS":  "https://example.com/",
				"RETRY_WAIT":   "soon",
			},
			wantErr: true,
		},
	}

	for idx := range testCases {
		tc := testCases[idx]
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()

			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)
				tc.check(t, cfg)
			}
		})
	}
}
