// File: internal/costcontrol/controller.go

// Package costcontrol is the single source of truth for "can we afford this
// operation, and what did it cost". One Controller instance is constructed by
// the composition root and shared by reference across the generator,
// evaluator and adapter; there is no hidden global.
package costcontrol

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pulse-sim/pulse/internal/config"
	"github.com/pulse-sim/pulse/internal/metrics"
)

// Placeholder provider pricing. Replace with real per-model cost functions
// when wiring a production provider.
const (
	CostPerToken = 0.000002
	CostPerCall  = 0.01
)

// Status is the controller's health with respect to the configured budgets.
type Status string

const (
	StatusOK       Status = "ok"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
	StatusShutdown Status = "shutdown"
)

// LimitKind names which budget a LimitError violated.
type LimitKind string

const (
	LimitDaily   LimitKind = "daily"
	LimitMonthly LimitKind = "monthly"
	LimitTotal   LimitKind = "total"
)

// LimitError reports that a prospective operation would breach a budget.
// It is a value return, not a panic: CanMakeAPICall converts it to false,
// and callers of CheckCostLimit branch on it with errors.As.
type LimitError struct {
	Kind      LimitKind
	Current   float64
	Limit     float64
	Estimated float64
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s cost limit exceeded: current %.4f + estimated %.4f > limit %.4f",
		e.Kind, e.Current, e.Estimated, e.Limit)
}

// Usage describes one costed operation. When DirectCost is positive it is
// recorded as-is; otherwise the cost is estimated from TokenUsage (preferred)
// or APICalls at the fixed placeholder rates.
type Usage struct {
	APICalls   int
	TokenUsage int
	DirectCost float64
}

// Snapshot is the ledger state returned after every TrackCost call.
type Snapshot struct {
	Cost            float64 `json:"cost"`
	DailyCostUSD    float64 `json:"daily_cost_usd"`
	MonthlyCostUSD  float64 `json:"monthly_cost_usd"`
	TotalCostUSD    float64 `json:"total_cost_usd"`
	Status          Status  `json:"status"`
	DailyPctUsed    float64 `json:"daily_pct_used"`
	MonthlyPctUsed  float64 `json:"monthly_pct_used"`
	DailyAPICalls   int     `json:"daily_api_calls"`
	MonthlyAPICalls int     `json:"monthly_api_calls"`
	TotalAPICalls   int     `json:"total_api_calls"`
}

// Forecast projects spend from the trailing 7-day average.
type Forecast struct {
	AvgDailyCost          float64 `json:"avg_daily_cost"`
	DaysAhead             int     `json:"days_ahead"`
	ProjectedCost         float64 `json:"projected_cost"`
	DaysUntilMonthlyLimit float64 `json:"days_until_monthly_limit"`
	DaysUntilTotalLimit   float64 `json:"days_until_total_limit"`
}

// Controller tracks API-call counts, token usage and USD cost across rolling
// daily/monthly/all-time windows, and gates every costed operation against
// the configured rate limits and budget ceilings. One mutex serializes the
// whole ledger, including the rolling call-timestamp window.
type Controller struct {
	cfg   config.CostConfig
	store metrics.Store
	log   *zap.Logger
	now   func() time.Time

	mu           sync.Mutex
	currentDay   string
	currentMonth string

	dayCost, monthCost, totalCost       float64
	dayCalls, monthCalls, totalCalls    int
	dayTokens, monthTokens, totalTokens int

	callTimes []time.Time
	status    Status
}

// New constructs a controller and replays historical spend from the metrics
// store. Replay failure is logged and treated as starting from zero.
func New(ctx context.Context, cfg config.CostConfig, store metrics.Store, logger *zap.Logger) *Controller {
	c := &Controller{
		cfg:    cfg,
		store:  store,
		log:    logger.Named("costcontrol"),
		now:    time.Now,
		status: StatusOK,
	}
	now := c.now().UTC()
	c.currentDay = now.Format("2006-01-02")
	c.currentMonth = now.Format("2006-01")
	c.replay(ctx)
	c.mu.Lock()
	c.recomputeStatusLocked()
	c.mu.Unlock()
	return c
}

// SetClock overrides the wall clock. Tests only.
func (c *Controller) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *Controller) replay(ctx context.Context) {
	now := c.now().UTC()
	today := now.Format("2006-01-02")
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).Format("2006-01-02")

	monthEvents, err := c.store.QueryMetrics(ctx, []string{metrics.TypeCostTracking}, monthStart, today)
	if err != nil {
		c.log.Warn("Failed to load this month's cost metrics; starting from zero", zap.Error(err))
	} else {
		for _, m := range monthEvents {
			c.monthCost += m.Cost
			c.monthCalls += m.APICalls
			c.monthTokens += m.TokenUsage
			if len(m.Timestamp) >= 10 && m.Timestamp[:10] == today {
				c.dayCost += m.Cost
				c.dayCalls += m.APICalls
				c.dayTokens += m.TokenUsage
			}
		}
	}

	summary, err := c.store.Summary(ctx)
	if err != nil {
		c.log.Warn("Failed to load all-time cost summary; starting from zero", zap.Error(err))
		return
	}
	c.totalCost = summary.CostTracking.TotalCost
	c.totalCalls = summary.CostTracking.APICalls
	c.totalTokens = summary.CostTracking.TokenUsage
}

// TrackCost records one costed operation, updates every window, persists the
// event to the metrics store, and returns a snapshot of the new ledger state.
func (c *Controller) TrackCost(ctx context.Context, u Usage) Snapshot {
	c.mu.Lock()

	c.rolloverLocked()

	cost := u.DirectCost
	if cost <= 0 {
		switch {
		case u.TokenUsage > 0:
			cost = float64(u.TokenUsage) * CostPerToken
		case u.APICalls > 0:
			cost = float64(u.APICalls) * CostPerCall
		}
	}

	c.dayCost += cost
	c.monthCost += cost
	c.totalCost += cost
	c.dayCalls += u.APICalls
	c.monthCalls += u.APICalls
	c.totalCalls += u.APICalls
	c.dayTokens += u.TokenUsage
	c.monthTokens += u.TokenUsage
	c.totalTokens += u.TokenUsage

	now := c.now().UTC()
	for i := 0; i < u.APICalls; i++ {
		c.callTimes = append(c.callTimes, now)
	}

	c.recomputeStatusLocked()
	snap := c.snapshotLocked(cost)
	c.mu.Unlock()

	// Persist outside the lock; the store has its own synchronization.
	if err := c.store.TrackCost(ctx, cost, u.APICalls, u.TokenUsage); err != nil {
		c.log.Warn("Failed to persist cost event", zap.Error(err))
	}
	return snap
}

// CheckCostLimit returns a *LimitError when applying estimated cost would
// push the daily, monthly or total spend over its ceiling. The daily budget
// is checked first, then monthly, then total.
func (c *Controller) CheckCostLimit(estimated float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rolloverLocked()
	return c.checkCostLimitLocked(estimated)
}

func (c *Controller) checkCostLimitLocked(estimated float64) error {
	if c.dayCost+estimated > c.cfg.DailyCostLimitUSD {
		return &LimitError{Kind: LimitDaily, Current: c.dayCost, Limit: c.cfg.DailyCostLimitUSD, Estimated: estimated}
	}
	if c.monthCost+estimated > c.cfg.MonthlyCostLimitUSD {
		return &LimitError{Kind: LimitMonthly, Current: c.monthCost, Limit: c.cfg.MonthlyCostLimitUSD, Estimated: estimated}
	}
	if c.totalCost+estimated > c.cfg.TotalCostLimitUSD {
		return &LimitError{Kind: LimitTotal, Current: c.totalCost, Limit: c.cfg.TotalCostLimitUSD, Estimated: estimated}
	}
	return nil
}

// CanMakeAPICall is the gate checked before any costed operation. It refuses
// (returns false, never an error) when the rolling per-minute/hour/day call
// caps would be exceeded, when the status is shutdown, or — if checkCost is
// set — when the estimated cost would breach a budget.
func (c *Controller) CanMakeAPICall(count, tokenEstimate int, checkCost bool) bool {
	if count <= 0 {
		count = 1
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.rolloverLocked()

	if c.status == StatusShutdown {
		return false
	}

	now := c.now().UTC()
	c.pruneCallWindowLocked(now)

	var lastMinute, lastHour int
	for _, t := range c.callTimes {
		age := now.Sub(t)
		if age <= time.Minute {
			lastMinute++
		}
		if age <= time.Hour {
			lastHour++
		}
	}
	lastDay := len(c.callTimes)

	if lastMinute+count > c.cfg.CallsPerMinute ||
		lastHour+count > c.cfg.CallsPerHour ||
		lastDay+count > c.cfg.CallsPerDay {
		return false
	}

	if checkCost {
		estimated := float64(count) * CostPerCall
		if tokenEstimate > 0 {
			estimated = float64(tokenEstimate) * CostPerToken
		}
		if err := c.checkCostLimitLocked(estimated); err != nil {
			return false
		}
	}
	return true
}

// Summary returns the current ledger state without mutating it (beyond a
// possible day/month rollover).
func (c *Controller) Summary() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rolloverLocked()
	return c.snapshotLocked(0)
}

// Status returns the current budget status.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rolloverLocked()
	return c.status
}

// DailyLimit exposes the configured daily ceiling; the generator and
// evaluator derive their per-run cost defaults from it.
func (c *Controller) DailyLimit() float64 { return c.cfg.DailyCostLimitUSD }

// GetCostForecast projects spend daysAhead days forward from the trailing
// 7-day average recorded in the metrics store. A zero average yields +Inf
// days-until-limit values.
func (c *Controller) GetCostForecast(ctx context.Context, daysAhead int) (Forecast, error) {
	if daysAhead <= 0 {
		daysAhead = 30
	}
	now := c.now().UTC()
	// Six days back through today is an inclusive window of exactly seven
	// calendar days, matching the divisor below.
	start := now.AddDate(0, 0, -6).Format("2006-01-02")
	today := now.Format("2006-01-02")

	events, err := c.store.QueryMetrics(ctx, []string{metrics.TypeCostTracking}, start, today)
	if err != nil {
		return Forecast{}, fmt.Errorf("failed to query trailing cost metrics: %w", err)
	}
	var trailing float64
	for _, m := range events {
		trailing += m.Cost
	}
	avg := trailing / 7.0

	c.mu.Lock()
	monthCost := c.monthCost
	totalCost := c.totalCost
	c.mu.Unlock()

	f := Forecast{
		AvgDailyCost:          avg,
		DaysAhead:             daysAhead,
		ProjectedCost:         avg * float64(daysAhead),
		DaysUntilMonthlyLimit: math.Inf(1),
		DaysUntilTotalLimit:   math.Inf(1),
	}
	if avg > 0 {
		f.DaysUntilMonthlyLimit = math.Max(0, (c.cfg.MonthlyCostLimitUSD-monthCost)/avg)
		f.DaysUntilTotalLimit = math.Max(0, (c.cfg.TotalCostLimitUSD-totalCost)/avg)
	}
	return f, nil
}

// rolloverLocked resets the daily window when the UTC date advances and the
// monthly window on month rollover. Idempotent; called at the top of every
// public method.
func (c *Controller) rolloverLocked() {
	now := c.now().UTC()
	day := now.Format("2006-01-02")
	if day == c.currentDay {
		return
	}

	c.currentDay = day
	c.dayCost = 0
	c.dayCalls = 0
	c.dayTokens = 0
	c.callTimes = nil

	month := now.Format("2006-01")
	if month != c.currentMonth {
		c.currentMonth = month
		c.monthCost = 0
		c.monthCalls = 0
		c.monthTokens = 0
	}
	c.recomputeStatusLocked()
}

func (c *Controller) pruneCallWindowLocked(now time.Time) {
	cutoff := now.Add(-24 * time.Hour)
	keep := c.callTimes[:0]
	for _, t := range c.callTimes {
		if t.After(cutoff) {
			keep = append(keep, t)
		}
	}
	c.callTimes = keep
}

// recomputeStatusLocked derives the status from the larger of the daily and
// monthly utilization. Reaching 100% of either forces shutdown regardless of
// the other.
func (c *Controller) recomputeStatusLocked() {
	dailyPct := c.dayCost / c.cfg.DailyCostLimitUSD
	monthlyPct := c.monthCost / c.cfg.MonthlyCostLimitUSD

	switch {
	case dailyPct >= 1.0 || monthlyPct >= 1.0:
		c.status = StatusShutdown
	case math.Max(dailyPct, monthlyPct) >= c.cfg.CriticalThresholdPct:
		c.status = StatusCritical
	case math.Max(dailyPct, monthlyPct) >= c.cfg.WarningThresholdPct:
		c.status = StatusWarning
	default:
		c.status = StatusOK
	}
}

func (c *Controller) snapshotLocked(cost float64) Snapshot {
	return Snapshot{
		Cost:            cost,
		DailyCostUSD:    c.dayCost,
		MonthlyCostUSD:  c.monthCost,
		TotalCostUSD:    c.totalCost,
		Status:          c.status,
		DailyPctUsed:    c.dayCost / c.cfg.DailyCostLimitUSD,
		MonthlyPctUsed:  c.monthCost / c.cfg.MonthlyCostLimitUSD,
		DailyAPICalls:   c.dayCalls,
		MonthlyAPICalls: c.monthCalls,
		TotalAPICalls:   c.totalCalls,
	}
}
