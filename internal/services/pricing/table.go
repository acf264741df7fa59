package pricing

import (
	_ "embed"
	"os"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"coursecast/internal/domain/usage"
	"coursecast/pkg/errors"
)

//go:embed pricing.yaml
var defaultPricingYAML []byte

// Rate holds every price component a model may carry. Zero components are ignored.
type Rate struct {
	InputPer1K   decimal.Decimal `yaml:"input_per_1k"`
	OutputPer1K  decimal.Decimal `yaml:"output_per_1k"`
	PerMinute    decimal.Decimal `yaml:"per_minute"`
	PerGBMonth   decimal.Decimal `yaml:"per_gb_month"`
	Per1KQueries decimal.Decimal `yaml:"per_1k_queries"`
}

// Table maps provider -> service -> model -> rate
type Table map[usage.Provider]map[usage.Service]map[string]Rate

type tableFile struct {
	Providers Table `yaml:"providers"`
}

// ParseTable decodes a YAML pricing document
func ParseTable(data []byte) (Table, error) {
	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, "failed to parse pricing table")
	}
	if f.Providers == nil {
		return Table{}, nil
	}
	return f.Providers, nil
}

// DefaultTable returns the embedded placeholder rates
func DefaultTable() Table {
	t, err := ParseTable(defaultPricingYAML)
	if err != nil {
		panic(err)
	}
	return t
}

// LoadTable reads the default table and overlays the file at path when set
func LoadTable(path string) (Table, error) {
	table := DefaultTable()
	if path == "" {
		return table, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read pricing file %s", path)
	}
	override, err := ParseTable(data)
	if err != nil {
		return nil, err
	}
	table.Merge(override)
	return table, nil
}

// Merge overlays other onto t; existing models are replaced
func (t Table) Merge(other Table) {
	for provider, services := range other {
		if t[provider] == nil {
			t[provider] = map[usage.Service]map[string]Rate{}
		}
		for service, models := range services {
			if t[provider][service] == nil {
				t[provider][service] = map[string]Rate{}
			}
			for model, rate := range models {
				t[provider][service][model] = rate
			}
		}
	}
}

// Lookup finds the rate for a model by exact name, then by the longest
// configured name the model starts with (e.g. dated snapshots).
// An empty model matches only when the service has exactly one entry.
func (t Table) Lookup(provider usage.Provider, service usage.Service, model string) (Rate, bool) {
	models := t[provider][service]
	if len(models) == 0 {
		return Rate{}, false
	}

	if model == "" {
		if len(models) == 1 {
			for _, r := range models {
				return r, true
			}
		}
		return Rate{}, false
	}

	if r, ok := models[model]; ok {
		return r, true
	}

	keys := make([]string, 0, len(models))
	for k := range models {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var best string
	for _, k := range keys {
		if strings.HasPrefix(model, k) && len(k) > len(best) {
			best = k
		}
	}
	if best == "" {
		return Rate{}, false
	}
	return models[best], true
}
