package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/bondvault/internal/domain"
)

// solvencyRecord is the archived JSON shape of a solvency report. Big
// integers are serialised as decimal strings so precision survives the trip.
type solvencyRecord struct {
	GeneratedAt    time.Time               `json:"generated_at"`
	Holdings       []solvencyHoldingRecord `json:"holdings"`
	TotalValuation string                  `json:"total_valuation"`
	Liabilities    string                  `json:"liabilities"`
	Reserve        string                  `json:"reserve"`
	Solvent        bool                    `json:"solvent"`
}

type solvencyHoldingRecord struct {
	Strategy  string `json:"strategy"`
	Token     string `json:"token"`
	Amount    string `json:"amount"`
	Valuation string `json:"valuation"`
}

// Archiver uploads solvency reports to object storage, partitioned by day.
// Pruning of old reports is a separate explicit step; the archiver only
// appends.
type Archiver struct {
	writer *Writer
	audit  domain.AuditStore
	prefix string
}

// NewArchiver creates an Archiver writing under prefix in the client's
// configured bucket.
func NewArchiver(writer *Writer, audit domain.AuditStore, prefix string) *Archiver {
	if prefix == "" {
		prefix = "solvency"
	}
	return &Archiver{writer: writer, audit: audit, prefix: prefix}
}

// ArchiveSolvency serialises the report and uploads it at
// {prefix}/YYYY/MM/DD/HHMMSS.json. The upload is recorded in the audit log
// and the object key is returned.
func (a *Archiver) ArchiveSolvency(ctx context.Context, report domain.SolvencyReport) (string, error) {
	rec := solvencyRecord{
		GeneratedAt:    report.GeneratedAt,
		Holdings:       make([]solvencyHoldingRecord, 0, len(report.Holdings)),
		TotalValuation: report.TotalValuation.String(),
		Liabilities:    report.Liabilities.String(),
		Reserve:        report.Reserve.String(),
		Solvent:        report.Solvent,
	}
	for _, h := range report.Holdings {
		rec.Holdings = append(rec.Holdings, solvencyHoldingRecord{
			Strategy:  string(h.Strategy),
			Token:     h.Token.Hex(),
			Amount:    h.ValueHeld.String(),
			Valuation: h.Valuation.String(),
		})
	}

	buf, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal solvency report: %w", err)
	}

	path := a.reportPath(report.GeneratedAt)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: upload solvency report: %w", err)
	}

	if err := a.audit.Log(ctx, "archive.solvency", map[string]any{
		"path":    path,
		"solvent": report.Solvent,
	}); err != nil {
		return path, fmt.Errorf("s3blob: solvency archive audit log: %w", err)
	}
	return path, nil
}

// reportPath builds the object key for a report generated at t.
//
//	solvency/2026/08/30/141503.json
func (a *Archiver) reportPath(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s/%s/%s.json", a.prefix, t.Format("2006/01/02"), t.Format("150405"))
}
