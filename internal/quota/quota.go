// Package quota implements request-budget admission for projects: a daily
// and a monthly counter, each with an independent limit. Admission compares
// the stored counter values only — no clock math on the hot path; rollover
// is owned by the scheduled reset job. Counters advance after a successful
// forward (in the usage tracker), never at admission time, so upstream
// failures don't burn budget. Under concurrent admissions a small
// over-admission (bounded by the concurrent admitter count) is accepted by
// design.
package quota

import (
	"github.com/ai-guard/ai-guard/internal/db/models"
)

// Tier default limits.
const (
	FreeDailyLimit         = 100
	FreeMonthlyLimit       = 1000
	ProDailyLimit          = 5000
	ProMonthlyLimit        = 50000
	EnterpriseDailyLimit   = 50000
	EnterpriseMonthlyLimit = 1000000
)

// warnThreshold is the used/limit ratio at which the warning header is set.
const warnThreshold = 0.9

// QuotaType identifies which budget denied a request.
type QuotaType string

const (
	QuotaDaily   QuotaType = "daily"
	QuotaMonthly QuotaType = "monthly"
)

// Budget is one window's usage against its limit.
type Budget struct {
	Used  int64
	Limit int64
}

// Exhausted reports whether no budget remains.
func (b Budget) Exhausted() bool { return b.Used >= b.Limit }

// NearLimit reports whether usage crossed the warning threshold.
func (b Budget) NearLimit() bool {
	return b.Limit > 0 && float64(b.Used) >= warnThreshold*float64(b.Limit)
}

// Decision is the outcome of a quota check.
type Decision struct {
	Allowed bool
	// DeniedBy is set when Allowed is false.
	DeniedBy QuotaType
	Day      Budget
	Month    Budget
}

// Warning reports whether either budget is near its limit.
func (d *Decision) Warning() bool {
	return d.Day.NearLimit() || d.Month.NearLimit()
}

// Limits resolves the effective daily and monthly limits: project override
// first, tier defaults otherwise.
func Limits(project *models.Project) (daily, monthly int64) {
	if q := project.Settings.Quota; q != nil && q.DailyLimit > 0 && q.MonthlyLimit > 0 {
		return q.DailyLimit, q.MonthlyLimit
	}
	switch project.Tier() {
	case models.TierEnterprise:
		return EnterpriseDailyLimit, EnterpriseMonthlyLimit
	case models.TierPro:
		return ProDailyLimit, ProMonthlyLimit
	default:
		return FreeDailyLimit, FreeMonthlyLimit
	}
}

// Check admits the request iff both counters are under their limits. The
// daily budget is reported as the denier when both are exhausted.
func Check(project *models.Project) *Decision {
	daily, monthly := Limits(project)

	d := &Decision{
		Day:   Budget{Used: project.Usage.CurrentDay.Requests, Limit: daily},
		Month: Budget{Used: project.Usage.CurrentMonth.Requests, Limit: monthly},
	}

	switch {
	case d.Day.Exhausted():
		d.DeniedBy = QuotaDaily
	case d.Month.Exhausted():
		d.DeniedBy = QuotaMonthly
	default:
		d.Allowed = true
	}
	return d
}
