package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/docbreak/internal/models"
	"github.com/ajitpratap0/docbreak/internal/store"
)

func seed(t *testing.T, st *store.MockStore, id string, stage models.Stage, age time.Duration) {
	t.Helper()
	ts := time.Now().UTC().Add(-age)
	require.NoError(t, st.UpsertBreakdown(context.Background(), &models.Breakdown{
		ID:        id,
		SourceID:  "src",
		Strategy:  models.StrategyQuick,
		Stage:     stage,
		CreatedAt: ts,
		UpdatedAt: ts,
	}))
}

func newSeededStore(t *testing.T) *store.MockStore {
	t.Helper()
	st := store.NewMockStore()
	seed(t, st, "stalled-summarizing", models.StageSummarizing, 3*time.Hour)
	seed(t, st, "stalled-parties", models.StageParties, 2*time.Hour)
	seed(t, st, "fresh", models.StageTimeline, time.Minute)
	seed(t, st, "done", models.StageComplete, 5*time.Hour)
	seed(t, st, "failed", models.StageFailed, 5*time.Hour)
	return st
}

func TestRun_DryRunChangesNothing(t *testing.T) {
	st := newSeededStore(t)
	m := NewManager(st, nil, time.Hour, nil)

	report, err := m.Run(context.Background(), Options{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Stalled)
	assert.ElementsMatch(t, []string{"stalled-summarizing", "stalled-parties"}, report.IDs)
	assert.Zero(t, report.MarkedFailed)

	b, err := st.GetBreakdown(context.Background(), "stalled-parties")
	require.NoError(t, err)
	assert.Equal(t, models.StageParties, b.Stage)
}

func TestRun_MarksStalledFailedAtTheirStage(t *testing.T) {
	st := newSeededStore(t)
	m := NewManager(st, nil, time.Hour, nil)

	report, err := m.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, report.MarkedFailed)

	b, err := st.GetBreakdown(context.Background(), "stalled-summarizing")
	require.NoError(t, err)
	assert.Equal(t, models.StageFailed, b.Stage)
	assert.Equal(t, models.StageSummarizing, b.FailedStage)
	assert.Contains(t, b.Error, "stalled")
	assert.Equal(t, models.StageSummarizing, b.ResumeStage())

	fresh, err := st.GetBreakdown(context.Background(), "fresh")
	require.NoError(t, err)
	assert.Equal(t, models.StageTimeline, fresh.Stage)

	again, err := m.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Zero(t, again.Stalled, "failed breakdowns are terminal")
}

func TestRun_ResumesStalled(t *testing.T) {
	st := newSeededStore(t)
	var resumed []string
	resumer := ResumerFunc(func(_ context.Context, id string) (*models.Breakdown, error) {
		resumed = append(resumed, id)
		if id == "stalled-parties" {
			return nil, errors.New("generation failed")
		}
		return &models.Breakdown{ID: id, Stage: models.StageComplete}, nil
	})
	m := NewManager(st, resumer, time.Hour, nil)

	report, err := m.Run(context.Background(), Options{Resume: true})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"stalled-summarizing", "stalled-parties"}, resumed)
	assert.Equal(t, 1, report.Resumed)
	assert.Equal(t, 1, report.ResumeFailed)
	assert.Zero(t, report.MarkedFailed)
}

func TestRun_ResumeWithoutResumer(t *testing.T) {
	m := NewManager(store.NewMockStore(), nil, 0, nil)
	_, err := m.Run(context.Background(), Options{Resume: true})
	require.Error(t, err)
	assert.Equal(t, DefaultStallThreshold, m.threshold)
}
