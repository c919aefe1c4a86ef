package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"

	"github.com/alanyoungcy/marginsim/internal/domain"
	"github.com/alanyoungcy/marginsim/internal/report"
)

// Object names under runs/<id>/, matching the files report.WriteDir writes.
const (
	ReportJSON    = report.ReportJSON
	ReportMD      = report.ReportMD
	TradesJSONL   = report.TradesJSONL
	EquityJSONL   = report.EquityJSONL
	DecisionJSONL = report.DecisionJSONL
)

// multipartThreshold switches JSONL uploads to the transfer manager.
const multipartThreshold = 8 * 1024 * 1024

// RunPrefix returns the object prefix of a run's archive.
func RunPrefix(runID string) string {
	return path.Join("runs", runID) + "/"
}

// ReportArchiver writes a finished run's bundle to object storage and reads
// it back.
type ReportArchiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	audit  domain.AuditStore
}

// NewReportArchiver creates a ReportArchiver. reader and audit may be nil.
func NewReportArchiver(writer domain.BlobWriter, reader domain.BlobReader, audit domain.AuditStore) *ReportArchiver {
	return &ReportArchiver{writer: writer, reader: reader, audit: audit}
}

// Archive uploads the bundle as report.json and report.md plus one JSONL
// file per log, and returns the prefix they live under.
func (a *ReportArchiver) Archive(ctx context.Context, b *report.Bundle) (string, error) {
	prefix := RunPrefix(b.RunID)

	var buf bytes.Buffer
	if err := b.WriteJSON(&buf); err != nil {
		return "", fmt.Errorf("s3blob: archive %s: %w", b.RunID, err)
	}
	if err := a.writer.Put(ctx, prefix+ReportJSON, &buf, "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: archive %s: %w", b.RunID, err)
	}

	buf.Reset()
	if err := report.RenderMarkdown(&buf, b); err != nil {
		return "", fmt.Errorf("s3blob: archive %s: %w", b.RunID, err)
	}
	if err := a.writer.Put(ctx, prefix+ReportMD, &buf, "text/markdown; charset=utf-8"); err != nil {
		return "", fmt.Errorf("s3blob: archive %s: %w", b.RunID, err)
	}

	logs := []struct {
		name  string
		write func(io.Writer) error
	}{
		{TradesJSONL, func(w io.Writer) error { return report.WriteJSONL(w, b.Trades) }},
		{EquityJSONL, func(w io.Writer) error { return report.WriteJSONL(w, b.Equity) }},
		{DecisionJSONL, func(w io.Writer) error { return report.WriteJSONL(w, b.Decisions) }},
	}
	for _, l := range logs {
		buf.Reset()
		if err := l.write(&buf); err != nil {
			return "", fmt.Errorf("s3blob: archive %s %s: %w", b.RunID, l.name, err)
		}
		if err := a.putLog(ctx, prefix+l.name, &buf); err != nil {
			return "", fmt.Errorf("s3blob: archive %s: %w", b.RunID, err)
		}
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "run.archived", map[string]any{
			"run_id": b.RunID,
			"prefix": prefix,
			"trades": len(b.Trades),
			"equity": len(b.Equity),
		}); err != nil {
			return prefix, fmt.Errorf("s3blob: archive %s audit log: %w", b.RunID, err)
		}
	}
	return prefix, nil
}

func (a *ReportArchiver) putLog(ctx context.Context, key string, buf *bytes.Buffer) error {
	if buf.Len() >= multipartThreshold {
		return a.writer.PutMultipart(ctx, key, buf, 0)
	}
	return a.writer.Put(ctx, key, buf, "application/x-ndjson")
}

// Load reads back report.json. Report (the raw metrics struct) is not
// restored; Metrics carries the flat figures.
func (a *ReportArchiver) Load(ctx context.Context, runID string) (*report.Bundle, error) {
	if a.reader == nil {
		return nil, fmt.Errorf("s3blob: load %s: no reader configured", runID)
	}
	rc, err := a.reader.Get(ctx, RunPrefix(runID)+ReportJSON)
	if err != nil {
		return nil, fmt.Errorf("s3blob: load %s: %w", runID, err)
	}
	defer rc.Close()

	var b report.Bundle
	if err := json.NewDecoder(rc).Decode(&b); err != nil {
		return nil, fmt.Errorf("s3blob: decode %s: %w", runID, err)
	}
	return &b, nil
}
