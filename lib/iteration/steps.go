package iteration

import (
	"fmt"
	"os"

	"github.com/ghodss/yaml"
)

// Step is one page visit of a script.
type Step struct {
	URL   string `json:"url"`
	Alias string `json:"alias,omitempty"`
}

// ScriptFile is the YAML form of a multi-page script:
//
//	steps:
//	  - url: https://example.com/
//	    alias: home
//	  - url: https://example.com/login
//	browserScripts:
//	  custom:
//	    heroTime: "return performance.getEntriesByName('hero')[0].startTime;"
type ScriptFile struct {
	Steps          []Step         `json:"steps"`
	BrowserScripts BrowserScripts `json:"browserScripts,omitempty"`
}

// LoadScriptFile reads and validates a script file.
func LoadScriptFile(path string) (*ScriptFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script file: %w", err)
	}
	return ParseScriptFile(data)
}

func ParseScriptFile(data []byte) (*ScriptFile, error) {
	var sf ScriptFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("parse script file: %w", err)
	}
	if len(sf.Steps) == 0 {
		return nil, fmt.Errorf("script file has no steps")
	}
	for i, s := range sf.Steps {
		if s.URL == "" {
			return nil, fmt.Errorf("step %d has no url", i+1)
		}
	}
	return &sf, nil
}

// StepsFromURLs makes one step per URL.
func StepsFromURLs(urls []string) []Step {
	steps := make([]Step, 0, len(urls))
	for _, u := range urls {
		steps = append(steps, Step{URL: u})
	}
	return steps
}
