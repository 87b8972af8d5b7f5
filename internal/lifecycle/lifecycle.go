// Package lifecycle sweeps breakdowns that stopped making progress, for
// example because the process running them was killed mid-stage.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ajitpratap0/docbreak/internal/metrics"
	"github.com/ajitpratap0/docbreak/internal/models"
	"github.com/ajitpratap0/docbreak/internal/store"
)

// DefaultStallThreshold is how long a non-terminal breakdown may go without
// a checkpoint before it counts as stalled.
const DefaultStallThreshold = time.Hour

// Resumer continues a breakdown from its saved stage.
type Resumer interface {
	Resume(ctx context.Context, breakdownID string) (*models.Breakdown, error)
}

// ResumerFunc adapts a function to Resumer.
type ResumerFunc func(ctx context.Context, breakdownID string) (*models.Breakdown, error)

// Resume calls f.
func (f ResumerFunc) Resume(ctx context.Context, breakdownID string) (*models.Breakdown, error) {
	return f(ctx, breakdownID)
}

// Report summarizes the results of a recovery sweep.
type Report struct {
	Stalled      int      `json:"stalled"`
	MarkedFailed int      `json:"marked_failed"`
	Resumed      int      `json:"resumed"`
	ResumeFailed int      `json:"resume_failed"`
	IDs          []string `json:"ids"`
}

// Options control one sweep.
type Options struct {
	DryRun bool
	// Resume drives stalled breakdowns to completion instead of marking
	// them failed.
	Resume bool
}

// Manager handles stalled breakdown recovery.
type Manager struct {
	store     store.BreakdownStore
	resumer   Resumer
	threshold time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewManager creates a recovery manager. resumer may be nil when stalled
// breakdowns are only ever marked failed.
func NewManager(st store.BreakdownStore, resumer Resumer, threshold time.Duration, logger *slog.Logger) *Manager {
	if threshold <= 0 {
		threshold = DefaultStallThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:     st,
		resumer:   resumer,
		threshold: threshold,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger,
	}
}

// Run executes one sweep. Failures on individual breakdowns are logged and
// counted; only a failure to list breakdowns is returned.
func (m *Manager) Run(ctx context.Context, opts Options) (*Report, error) {
	if opts.Resume && m.resumer == nil {
		return nil, fmt.Errorf("resume requested but no resumer is configured")
	}

	cutoff := m.now().Add(-m.threshold)
	stalled, err := m.store.ListStalledBreakdowns(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("listing stalled breakdowns: %w", err)
	}

	report := &Report{Stalled: len(stalled), IDs: make([]string, 0, len(stalled))}
	for i := range stalled {
		b := &stalled[i]
		report.IDs = append(report.IDs, b.ID)
		m.logger.Info("stalled breakdown", "id", b.ID, "stage", b.Stage, "updated_at", b.UpdatedAt, "dry_run", opts.DryRun)
		if opts.DryRun {
			continue
		}

		if opts.Resume {
			if _, err := m.resumer.Resume(ctx, b.ID); err != nil {
				m.logger.Error("resuming stalled breakdown", "id", b.ID, "error", err)
				report.ResumeFailed++
				continue
			}
			report.Resumed++
			metrics.Inc(metrics.RecoveredBreakdowns)
			continue
		}

		if err := m.markFailed(ctx, b); err != nil {
			m.logger.Error("marking stalled breakdown failed", "id", b.ID, "error", err)
			continue
		}
		report.MarkedFailed++
		metrics.Inc(metrics.RecoveredBreakdowns)
	}
	return report, nil
}

// markFailed records the stall so a later resume restarts the stalled stage.
func (m *Manager) markFailed(ctx context.Context, b *models.Breakdown) error {
	stage := b.Stage
	b.Error = fmt.Sprintf("stalled in stage %s since %s", stage, b.UpdatedAt.Format(time.RFC3339))
	b.FailedStage = stage
	b.Stage = models.StageFailed
	b.Touch()
	return m.store.UpsertBreakdown(ctx, b)
}
