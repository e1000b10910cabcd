package hoststats

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Memory is host memory in MB.
type Memory struct {
	TotalMB     float64
	AvailableMB float64
}

// Memory reads MemTotal and MemAvailable from meminfo.
func (s *Sampler) Memory() (Memory, error) {
	path := filepath.Join(s.Root, "meminfo")
	data, err := os.ReadFile(path)
	if err != nil {
		return Memory{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var m Memory
	found := 0
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		var dst *float64
		switch fields[0] {
		case "MemTotal:":
			dst = &m.TotalMB
		case "MemAvailable:":
			dst = &m.AvailableMB
		default:
			continue
		}
		kb, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return Memory{}, fmt.Errorf("failed to parse %s: %w", fields[0], err)
		}
		*dst = kb / 1024.0
		found++
	}
	if err := scanner.Err(); err != nil {
		return Memory{}, fmt.Errorf("failed to scan %s: %w", path, err)
	}
	if found == 0 {
		return Memory{}, fmt.Errorf("MemTotal not found in %s", path)
	}
	return m, nil
}
