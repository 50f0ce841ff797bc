package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai-guard/ai-guard/internal/db/models"
	"github.com/ai-guard/ai-guard/internal/testutil"
)

func seedProject(repo *testutil.ProjectRepo) *models.Project {
	return repo.Add(&models.Project{
		Name: "p",
		Usage: models.ProjectUsage{
			Total:        models.UsageBucket{Requests: 100, Tokens: 1000, Cost: 5},
			CurrentMonth: models.UsageBucket{Requests: 40, Tokens: 400, Cost: 2},
			CurrentDay:   models.UsageBucket{Requests: 7, Tokens: 70, Cost: 0.5},
		},
	})
}

func TestNextMidnight(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	j := NewUsageResetJob(testutil.NewProjectRepo(), loc)
	j.now = func() time.Time {
		return time.Date(2024, 3, 15, 22, 30, 0, 0, loc)
	}

	next := j.nextMidnight()
	assert.Equal(t, time.Date(2024, 3, 16, 0, 0, 0, 0, loc), next)
}

func TestRunResetsDailyOnly(t *testing.T) {
	repo := testutil.NewProjectRepo()
	project := seedProject(repo)

	j := NewUsageResetJob(repo, time.UTC)
	j.runResets(time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC))

	got, _ := repo.GetByID(context.Background(), project.ID)
	assert.Zero(t, got.Usage.CurrentDay.Requests)
	assert.Zero(t, got.Usage.CurrentDay.Tokens)
	assert.Equal(t, int64(40), got.Usage.CurrentMonth.Requests, "monthly survives a mid-month reset")
	assert.Equal(t, int64(100), got.Usage.Total.Requests, "total is never reset")
}

func TestRunResetsMonthRollover(t *testing.T) {
	repo := testutil.NewProjectRepo()
	project := seedProject(repo)

	j := NewUsageResetJob(repo, time.UTC)
	j.runResets(time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC))

	got, _ := repo.GetByID(context.Background(), project.ID)
	assert.Zero(t, got.Usage.CurrentDay.Requests)
	assert.Zero(t, got.Usage.CurrentMonth.Requests)
	assert.Equal(t, int64(100), got.Usage.Total.Requests)
}

func TestStartStop(t *testing.T) {
	j := NewUsageResetJob(testutil.NewProjectRepo(), time.UTC)
	j.Start()
	assert.NotPanics(t, j.Stop)
}
