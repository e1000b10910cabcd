// Package hoststats samples host CPU and memory from procfs so page metrics
// can be read against how busy the machine was.
package hoststats

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// CPUStats is one reading of the aggregate cpu line of /proc/stat, in clock
// ticks.
type CPUStats struct {
	User   uint64
	System uint64
	Idle   uint64
	Total  uint64
	// Timestamp records when the snapshot was taken.
	Timestamp time.Time
}

// Sampler reads procfs under Root.
type Sampler struct {
	Root string
	now  func() time.Time
}

func NewSampler(root string) *Sampler {
	if root == "" {
		root = "/proc"
	}
	return &Sampler{Root: root, now: time.Now}
}

// CPU reads system-wide CPU counters.
func (s *Sampler) CPU() (*CPUStats, error) {
	now := s.now()
	path := filepath.Join(s.Root, "stat")
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	if !scanner.Scan() {
		return nil, fmt.Errorf("failed to read %s", path)
	}

	line := scanner.Text()
	if !strings.HasPrefix(line, "cpu ") {
		return nil, fmt.Errorf("unexpected %s format", path)
	}

	// cpu  user nice system idle iowait irq softirq ...
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return nil, fmt.Errorf("not enough fields in %s", path)
	}

	user, _ := strconv.ParseUint(fields[1], 10, 64)
	nice, _ := strconv.ParseUint(fields[2], 10, 64)
	system, _ := strconv.ParseUint(fields[3], 10, 64)
	idle, _ := strconv.ParseUint(fields[4], 10, 64)

	total := user + nice + system + idle
	if len(fields) >= 8 {
		iowait, _ := strconv.ParseUint(fields[5], 10, 64)
		irq, _ := strconv.ParseUint(fields[6], 10, 64)
		softirq, _ := strconv.ParseUint(fields[7], 10, 64)
		idle += iowait
		total += iowait + irq + softirq
	}

	return &CPUStats{
		User:      user + nice,
		System:    system,
		Idle:      idle,
		Total:     total,
		Timestamp: now,
	}, nil
}

// Usage is CPU time spent between two snapshots as a percentage of all CPU
// time available in that window.
type Usage struct {
	Busy   float64
	User   float64
	System float64
}

// CalculateUsage compares two snapshots. Counter resets or an empty window
// give a zero Usage.
func CalculateUsage(before, after *CPUStats) Usage {
	if before == nil || after == nil || after.Total <= before.Total {
		return Usage{}
	}
	total := float64(after.Total - before.Total)
	pct := func(a, b uint64) float64 {
		if a < b {
			return 0
		}
		return float64(a-b) / total * 100
	}
	idle := pct(after.Idle, before.Idle)
	return Usage{
		Busy:   100 - idle,
		User:   pct(after.User, before.User),
		System: pct(after.System, before.System),
	}
}

// Metrics renders u as a metric tree.
func (u Usage) Metrics() map[string]any {
	return map[string]any{
		"busyPercent":   u.Busy,
		"userPercent":   u.User,
		"systemPercent": u.System,
	}
}
