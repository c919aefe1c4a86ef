package sweep

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Summary is the ranked result of a sweep as written to disk.
type Summary struct {
	Grid    string       `yaml:"grid"`
	RankBy  string       `yaml:"rank_by"`
	Ranked  []SummaryRow `yaml:"ranked"`
	Failed  []SummaryRow `yaml:"failed,omitempty"`
	Total   int          `yaml:"total"`
	Elapsed string       `yaml:"elapsed,omitempty"`
}

// SummaryRow is one variant in a Summary.
type SummaryRow struct {
	Rank    int               `yaml:"rank,omitempty"`
	Label   string            `yaml:"label"`
	Values  map[string]any    `yaml:"values"`
	Metrics map[string]string `yaml:"metrics,omitempty"`
	Error   string            `yaml:"error,omitempty"`
}

// Summarize ranks outcomes by metric and lists failures after them.
func Summarize(grid Grid, outcomes []Outcome, metric string) Summary {
	s := Summary{Grid: grid.Name, RankBy: metric, Total: len(outcomes)}
	for i, o := range Rank(outcomes, metric) {
		s.Ranked = append(s.Ranked, SummaryRow{
			Rank:    i + 1,
			Label:   o.Variant.Label,
			Values:  o.Variant.Values,
			Metrics: o.Metrics,
		})
	}
	for _, o := range outcomes {
		if o.Err != nil {
			s.Failed = append(s.Failed, SummaryRow{
				Label:  o.Variant.Label,
				Values: o.Variant.Values,
				Error:  o.Err.Error(),
			})
		}
	}
	return s
}

// WriteYAML encodes the summary.
func (s Summary) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("sweep: encode summary: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("sweep: encode summary: %w", err)
	}
	return nil
}
