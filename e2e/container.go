package e2e

import (
	"context"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const cdpPort = nat.Port("9222/tcp")

// BrowserContainer runs a headless browser in Docker and exposes its DevTools
// port on a dynamically allocated host port, so tests can run in parallel.
type BrowserContainer struct {
	Name    string
	Image   string
	CDPPort int // dynamically allocated host port -> container 9222
	ctr     testcontainers.Container
}

// ContainerConfig holds optional configuration for container startup.
type ContainerConfig struct {
	Env        map[string]string
	HostAccess bool // Add host.docker.internal mapping
}

// NewBrowserContainer creates a container placeholder. The container is
// started when Start is called.
func NewBrowserContainer(tb testing.TB, image string) *BrowserContainer {
	tb.Helper()
	return &BrowserContainer{Image: image}
}

func (c *BrowserContainer) Start(ctx context.Context, cfg ContainerConfig) error {
	opts := []testcontainers.ContainerCustomizer{
		testcontainers.WithImage(c.Image),
		testcontainers.WithExposedPorts(string(cdpPort)),
		testcontainers.WithEnv(cfg.Env),
		testcontainers.WithTmpfs(map[string]string{"/dev/shm": "size=1g,mode=1777"}),
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/json/version").
				WithPort(cdpPort).
				WithStartupTimeout(2 * time.Minute),
		),
	}
	if cfg.HostAccess {
		opts = append(opts, testcontainers.WithHostConfigModifier(func(hc *container.HostConfig) {
			hc.ExtraHosts = append(hc.ExtraHosts, "host.docker.internal:host-gateway")
		}))
	}

	ctr, err := testcontainers.Run(ctx, c.Image, opts...)
	if err != nil {
		return fmt.Errorf("failed to start container: %w", err)
	}
	c.ctr = ctr

	if inspect, err := ctr.Inspect(ctx); err == nil {
		c.Name = inspect.Name
	}

	port, err := ctr.MappedPort(ctx, cdpPort)
	if err != nil {
		return fmt.Errorf("failed to get CDP port: %w", err)
	}
	c.CDPPort = port.Int()
	return nil
}

// Stop stops and removes the container.
func (c *BrowserContainer) Stop(ctx context.Context) error {
	if c.ctr == nil {
		return nil
	}
	return testcontainers.TerminateContainer(c.ctr)
}

// DevToolsURL is the HTTP discovery endpoint of the browser.
func (c *BrowserContainer) DevToolsURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", c.CDPPort)
}

// HostReachable rewrites a websocket URL the browser reported about itself
// so it points at the mapped host port.
func (c *BrowserContainer) HostReachable(wsURL string) (string, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "", err
	}
	u.Host = fmt.Sprintf("127.0.0.1:%d", c.CDPPort)
	return u.String(), nil
}
