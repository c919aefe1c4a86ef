package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// File names of a written bundle.
const (
	ReportJSON    = "report.json"
	ReportMD      = "report.md"
	TradesJSONL   = "trades.jsonl"
	EquityJSONL   = "equity.jsonl"
	DecisionJSONL = "decisions.jsonl"
)

// WriteDir writes the bundle under dir/<run id> and returns that directory.
func WriteDir(dir string, b *Bundle) (string, error) {
	out := filepath.Join(dir, b.RunID)
	if err := os.MkdirAll(out, 0o755); err != nil {
		return "", fmt.Errorf("report: write dir: %w", err)
	}

	files := []struct {
		name  string
		write func(io.Writer) error
	}{
		{ReportJSON, b.WriteJSON},
		{ReportMD, func(w io.Writer) error { return RenderMarkdown(w, b) }},
		{TradesJSONL, func(w io.Writer) error { return WriteJSONL(w, b.Trades) }},
		{EquityJSONL, func(w io.Writer) error { return WriteJSONL(w, b.Equity) }},
		{DecisionJSONL, func(w io.Writer) error { return WriteJSONL(w, b.Decisions) }},
	}
	for _, f := range files {
		if err := writeFile(filepath.Join(out, f.name), f.write); err != nil {
			return "", err
		}
	}
	return out, nil
}

func writeFile(path string, write func(io.Writer) error) (err error) {
	fh, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("report: create %s: %w", path, err)
	}
	defer func() {
		if cerr := fh.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("report: close %s: %w", path, cerr)
		}
	}()
	return write(fh)
}
