package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/bondvault/internal/domain"
)

// ReportArchiver persists solvency reports to long-term storage.
type ReportArchiver interface {
	ArchiveSolvency(ctx context.Context, report domain.SolvencyReport) (location string, err error)
}

// Alerter pushes operator-facing alerts.
type Alerter interface {
	Alert(ctx context.Context, title, message string) error
}

// SolvencyMonitor periodically values strategy holdings against outstanding
// bond liabilities, publishes the report on the event bus, archives it and
// alerts when the protocol is undercollateralized.
type SolvencyMonitor struct {
	treasury *Treasury
	bonds    *BondManager
	bus      domain.EventBus
	archiver ReportArchiver
	alerter  Alerter
	interval time.Duration
	logger   *slog.Logger
}

// NewSolvencyMonitor creates a SolvencyMonitor. archiver, alerter and bus may
// be nil; interval defaults to one hour.
func NewSolvencyMonitor(
	treasury *Treasury,
	bonds *BondManager,
	bus domain.EventBus,
	archiver ReportArchiver,
	alerter Alerter,
	interval time.Duration,
	logger *slog.Logger,
) *SolvencyMonitor {
	if interval <= 0 {
		interval = time.Hour
	}
	return &SolvencyMonitor{
		treasury: treasury,
		bonds:    bonds,
		bus:      bus,
		archiver: archiver,
		alerter:  alerter,
		interval: interval,
		logger:   logger.With(slog.String("component", "solvency_monitor")),
	}
}

// Run reports on a fixed interval until the context is cancelled. Call in a
// goroutine.
func (s *SolvencyMonitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Report(ctx); err != nil {
				s.logger.ErrorContext(ctx, "solvency report failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Report produces one solvency report and fans it out.
func (s *SolvencyMonitor) Report(ctx context.Context) (domain.SolvencyReport, error) {
	liabilities, err := s.bonds.OutstandingLiabilities(ctx)
	if err != nil {
		return domain.SolvencyReport{}, fmt.Errorf("solvency: liabilities: %w", err)
	}
	report, err := s.treasury.Solvency(ctx, liabilities)
	if err != nil {
		return domain.SolvencyReport{}, err
	}

	s.logger.InfoContext(ctx, "solvency report",
		slog.String("valuation", report.TotalValuation.String()),
		slog.String("liabilities", liabilities.String()),
		slog.String("reserve", report.Reserve.String()),
		slog.Bool("solvent", report.Solvent),
	)

	if s.bus != nil {
		if data, err := json.Marshal(map[string]any{
			"generated_at": report.GeneratedAt,
			"valuation":    report.TotalValuation.String(),
			"liabilities":  liabilities.String(),
			"reserve":      report.Reserve.String(),
			"solvent":      report.Solvent,
		}); err == nil {
			_ = s.bus.Publish(ctx, domain.EventSolvencyReport, data)
			_ = s.bus.StreamAppend(ctx, "stream:"+domain.EventSolvencyReport, data)
		}
	}

	if s.archiver != nil {
		if loc, err := s.archiver.ArchiveSolvency(ctx, report); err != nil {
			s.logger.ErrorContext(ctx, "solvency archive failed", slog.String("error", err.Error()))
		} else {
			s.logger.DebugContext(ctx, "solvency report archived", slog.String("location", loc))
		}
	}

	if !report.Solvent && s.alerter != nil {
		msg := fmt.Sprintf("strategy valuation %s + reserve %s below liabilities %s",
			report.TotalValuation, report.Reserve, liabilities)
		if err := s.alerter.Alert(ctx, "bondvault undercollateralized", msg); err != nil {
			s.logger.ErrorContext(ctx, "solvency alert failed", slog.String("error", err.Error()))
		}
	}
	return report, nil
}
