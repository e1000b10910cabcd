package hoststats

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeProc(t *testing.T, stat, meminfo string) *Sampler {
	t.Helper()
	root := t.TempDir()
	if stat != "" {
		require.NoError(t, os.WriteFile(filepath.Join(root, "stat"), []byte(stat), 0o644))
	}
	if meminfo != "" {
		require.NoError(t, os.WriteFile(filepath.Join(root, "meminfo"), []byte(meminfo), 0o644))
	}
	s := NewSampler(root)
	s.now = func() time.Time { return time.Unix(100, 0) }
	return s
}

func TestCPU(t *testing.T) {
	s := fakeProc(t, "cpu  100 20 30 800 50 0 0 0 0 0\ncpu0 1 2 3 4\n", "")
	got, err := s.CPU()
	require.NoError(t, err)
	assert.Equal(t, uint64(120), got.User)
	assert.Equal(t, uint64(30), got.System)
	assert.Equal(t, uint64(850), got.Idle)
	assert.Equal(t, uint64(1000), got.Total)
	assert.Equal(t, time.Unix(100, 0), got.Timestamp)
}

func TestCPU_BadFormat(t *testing.T) {
	_, err := fakeProc(t, "intr 1 2 3\n", "").CPU()
	assert.Error(t, err)

	_, err = NewSampler(t.TempDir()).CPU()
	assert.Error(t, err)
}

func TestCalculateUsage(t *testing.T) {
	before := &CPUStats{User: 100, System: 50, Idle: 850, Total: 1000}
	after := &CPUStats{User: 160, System: 70, Idle: 970, Total: 1200}

	u := CalculateUsage(before, after)
	assert.InDelta(t, 40, u.Busy, 1e-9)
	assert.InDelta(t, 30, u.User, 1e-9)
	assert.InDelta(t, 10, u.System, 1e-9)
	assert.Equal(t, map[string]any{"busyPercent": u.Busy, "userPercent": u.User, "systemPercent": u.System}, u.Metrics())

	assert.Equal(t, Usage{}, CalculateUsage(after, before))
	assert.Equal(t, Usage{}, CalculateUsage(nil, after))
}

func TestMemory(t *testing.T) {
	s := fakeProc(t, "", "MemTotal:       2048000 kB\nMemFree:   1000 kB\nMemAvailable:   1024000 kB\n")
	m, err := s.Memory()
	require.NoError(t, err)
	assert.InDelta(t, 2000, m.TotalMB, 1e-9)
	assert.InDelta(t, 1000, m.AvailableMB, 1e-9)

	_, err = fakeProc(t, "", "Nothing: 1 kB\n").Memory()
	assert.Error(t, err)
}
