// Package sweep expands a parameter grid into independent backtest variants
// and runs them concurrently. Variants share nothing: each gets its own
// ledger and engine, so no locking is needed between them.
package sweep

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/alanyoungcy/marginsim/internal/domain"
)

// Grid is a sweep definition. Params maps a dotted path into the run request
// (for example "leverage" or "strategy.params.fast") to the values to
// try. Every combination becomes one variant.
type Grid struct {
	Name        string           `yaml:"name"`
	Parallelism int              `yaml:"parallelism"`
	Params      map[string][]any `yaml:"params"`
}

// Variant is one point of the grid.
type Variant struct {
	Index  int
	Label  string
	Values map[string]any // the grid values chosen for this variant
	Params map[string]any // base merged with Values
}

// LoadGrid reads a YAML grid file.
func LoadGrid(path string) (Grid, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Grid{}, fmt.Errorf("sweep: read grid %s: %w", path, err)
	}
	return ParseGrid(data)
}

// ParseGrid decodes and validates a YAML grid.
func ParseGrid(data []byte) (Grid, error) {
	var g Grid
	if err := yaml.Unmarshal(data, &g); err != nil {
		return Grid{}, fmt.Errorf("sweep: parse grid: %w", err)
	}
	if err := g.Validate(); err != nil {
		return Grid{}, err
	}
	return g, nil
}

// Validate rejects grids with no parameters or an empty value list.
func (g Grid) Validate() error {
	var errs []string
	if len(g.Params) == 0 {
		errs = append(errs, "grid has no params")
	}
	for _, k := range g.keys() {
		if strings.TrimSpace(k) == "" || strings.HasPrefix(k, ".") || strings.HasSuffix(k, ".") {
			errs = append(errs, fmt.Sprintf("invalid param path %q", k))
		}
		if len(g.Params[k]) == 0 {
			errs = append(errs, fmt.Sprintf("param %q has no values", k))
		}
	}
	if g.Parallelism < 0 {
		errs = append(errs, fmt.Sprintf("parallelism must not be negative, got %d", g.Parallelism))
	}
	if len(errs) > 0 {
		return fmt.Errorf("sweep: %w:\n  - %s", domain.ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}
	return nil
}

// Size returns the number of variants the grid expands to.
func (g Grid) Size() int {
	if len(g.Params) == 0 {
		return 0
	}
	n := 1
	for _, vs := range g.Params {
		n *= len(vs)
	}
	return n
}

func (g Grid) keys() []string {
	keys := make([]string, 0, len(g.Params))
	for k := range g.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Expand returns the cartesian product of the grid applied over base. Keys
// vary in sorted order with the last key changing fastest, so the variant
// order is stable across calls.
func (g Grid) Expand(base map[string]any) []Variant {
	keys := g.keys()
	total := g.Size()
	out := make([]Variant, 0, total)
	for i := 0; i < total; i++ {
		values := make(map[string]any, len(keys))
		labels := make([]string, 0, len(keys))
		rem := i
		for k := len(keys) - 1; k >= 0; k-- {
			vs := g.Params[keys[k]]
			values[keys[k]] = vs[rem%len(vs)]
			rem /= len(vs)
		}
		params := cloneMap(base)
		for _, k := range keys {
			setPath(params, k, values[k])
			labels = append(labels, fmt.Sprintf("%s=%v", k, values[k]))
		}
		out = append(out, Variant{
			Index:  i,
			Label:  strings.Join(labels, ","),
			Values: values,
			Params: params,
		})
	}
	return out
}

// setPath assigns v at a dotted path, creating intermediate maps. A non-map
// value in the way is replaced.
func setPath(m map[string]any, path string, v any) {
	parts := strings.Split(path, ".")
	cur := m
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[p] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = v
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch vv := v.(type) {
		case map[string]any:
			out[k] = cloneMap(vv)
		case []any:
			out[k] = append([]any(nil), vv...)
		default:
			out[k] = v
		}
	}
	return out
}
