package quota

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ai-guard/ai-guard/internal/db/models"
)

func project(members int, day, month int64) *models.Project {
	p := &models.Project{Usage: models.ProjectUsage{
		CurrentDay:   models.UsageBucket{Requests: day},
		CurrentMonth: models.UsageBucket{Requests: month},
	}}
	for i := 0; i < members; i++ {
		p.Members = append(p.Members, models.Member{UserID: string(rune('a' + i))})
	}
	return p
}

func TestLimits(t *testing.T) {
	tests := []struct {
		name        string
		project     *models.Project
		wantDaily   int64
		wantMonthly int64
	}{
		{"free tier", project(1, 0, 0), FreeDailyLimit, FreeMonthlyLimit},
		{"pro tier", project(3, 0, 0), ProDailyLimit, ProMonthlyLimit},
		{"enterprise tier", project(7, 0, 0), EnterpriseDailyLimit, EnterpriseMonthlyLimit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			daily, monthly := Limits(tt.project)
			assert.Equal(t, tt.wantDaily, daily)
			assert.Equal(t, tt.wantMonthly, monthly)
		})
	}

	t.Run("override wins", func(t *testing.T) {
		p := project(7, 0, 0)
		p.Settings.Quota = &models.QuotaOverride{DailyLimit: 5, MonthlyLimit: 50}
		daily, monthly := Limits(p)
		assert.Equal(t, int64(5), daily)
		assert.Equal(t, int64(50), monthly)
	})
}

func TestCheck(t *testing.T) {
	t.Run("under both limits", func(t *testing.T) {
		d := Check(project(1, 10, 100))
		assert.True(t, d.Allowed)
		assert.Empty(t, d.DeniedBy)
		assert.Equal(t, int64(10), d.Day.Used)
		assert.Equal(t, int64(FreeDailyLimit), d.Day.Limit)
	})

	t.Run("daily exhausted", func(t *testing.T) {
		d := Check(project(1, FreeDailyLimit, 0))
		assert.False(t, d.Allowed)
		assert.Equal(t, QuotaDaily, d.DeniedBy)
	})

	t.Run("monthly exhausted", func(t *testing.T) {
		d := Check(project(1, 0, FreeMonthlyLimit))
		assert.False(t, d.Allowed)
		assert.Equal(t, QuotaMonthly, d.DeniedBy)
	})

	t.Run("admission compares strictly below limit", func(t *testing.T) {
		p := project(1, 0, 0)
		p.Settings.Quota = &models.QuotaOverride{DailyLimit: 1, MonthlyLimit: 10}
		assert.True(t, Check(p).Allowed)

		p.Usage.CurrentDay.Requests = 1
		d := Check(p)
		assert.False(t, d.Allowed, "dayRequests == dayLimit must deny")
		assert.Equal(t, QuotaDaily, d.DeniedBy)
	})
}

func TestWarning(t *testing.T) {
	t.Run("below threshold", func(t *testing.T) {
		d := Check(project(1, 89, 0))
		assert.False(t, d.Warning())
	})

	t.Run("daily at 90 percent", func(t *testing.T) {
		d := Check(project(1, 90, 0))
		assert.True(t, d.Warning())
	})

	t.Run("monthly at 90 percent", func(t *testing.T) {
		d := Check(project(1, 0, 900))
		assert.True(t, d.Warning())
	})
}
