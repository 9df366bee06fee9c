package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Target is one watched item as declared in the targets YAML file. Either URL
// or SearchKeyword identifies the item; Adapter selects the acquisition
// implementation registered for it (default: the store name itself).
type Target struct {
	Name          string `yaml:"name"`
	Store         string `yaml:"store"`
	URL           string `yaml:"url"`
	SearchKeyword string `yaml:"search_keyword"`
	SearchCond    string `yaml:"search_cond"`
	Adapter       string `yaml:"adapter"`

	// Fields for the generic JSON API adapter.
	Endpoint  string `yaml:"endpoint"`
	PricePath string `yaml:"price_path"`
	StockPath string `yaml:"stock_path"`
}

// AdapterName returns the adapter to use for this target, defaulting to the
// store name.
func (t Target) AdapterName() string {
	if t.Adapter != "" {
		return t.Adapter
	}
	return t.Store
}

// targetsFile is the YAML document shape of the targets file.
type targetsFile struct {
	Targets []Target `yaml:"targets"`
}

// LoadTargets reads and validates the watch-target list from the given YAML
// file.
func LoadTargets(path string) ([]Target, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("targets: read %s: %w", path, err)
	}

	var doc targetsFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("targets: parse %s: %w", path, err)
	}

	for i, t := range doc.Targets {
		if t.Name == "" {
			return nil, fmt.Errorf("targets: entry %d: name is required", i)
		}
		if t.Store == "" {
			return nil, fmt.Errorf("targets: entry %d (%s): store is required", i, t.Name)
		}
		if t.URL == "" && t.SearchKeyword == "" {
			return nil, fmt.Errorf("targets: entry %d (%s): url or search_keyword is required", i, t.Name)
		}
	}

	return doc.Targets, nil
}
