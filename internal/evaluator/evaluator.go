// File: internal/evaluator/evaluator.go

// Package evaluator scores candidate rules along up to four axes (syntax,
// logic, coverage, performance), each independently cost-gated. Failures are
// reported through the result object, never as an error return, so callers
// branch on Result.Status and Result.Error.
package evaluator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulse-sim/pulse/api/schemas"
	"github.com/pulse-sim/pulse/internal/config"
	"github.com/pulse-sim/pulse/internal/costcontrol"
	"github.com/pulse-sim/pulse/internal/metrics"
)

// Scope selects which stages an evaluation run covers.
type Scope string

const (
	ScopeSyntax        Scope = "syntax"
	ScopeLogic         Scope = "logic"
	ScopeCoverage      Scope = "coverage"
	ScopePerformance   Scope = "performance"
	ScopeComprehensive Scope = "comprehensive"
)

// Stage weights for the overall score. Only the weights of stages that
// actually ran are summed, which renormalizes partial runs implicitly.
var stageWeights = map[string]float64{
	"syntax":      0.3,
	"logic":       0.4,
	"coverage":    0.2,
	"performance": 0.1,
}

// Per-stage cost estimates. Placeholder rates until the logic stage is
// backed by a real model call.
const (
	syntaxStageCost      = 0.001
	logicStageCost       = 0.01
	coverageStageCost    = 0.008
	performanceStageCost = 0.005
)

const syntaxPassThreshold = 0.8

// StageScore is one stage's contribution to a result.
type StageScore struct {
	Score  float64 `json:"score"`
	Passed bool    `json:"passed"`
}

// Result is the outcome of one evaluation run.
type Result struct {
	EvaluationID    string                   `json:"evaluation_id"`
	RuleID          string                   `json:"rule_id"`
	Timestamp       string                   `json:"timestamp"`
	Scope           Scope                    `json:"scope"`
	Status          schemas.RunStatus        `json:"status"`
	Error           string                   `json:"error,omitempty"`
	Score           float64                  `json:"score"`
	Passed          bool                     `json:"passed"`
	Details         map[string]StageScore    `json:"details"`
	Issues          []schemas.Issue          `json:"issues"`
	Recommendations []schemas.Recommendation `json:"recommendations"`
	Cost            float64                  `json:"cost"`
}

// Stats tracks running evaluator totals across runs.
type Stats struct {
	Total          int     `json:"total"`
	Passed         int     `json:"passed"`
	Failed         int     `json:"failed"`
	AverageQuality float64 `json:"average_quality"`
	TotalCost      float64 `json:"total_cost"`
}

// Evaluator scores rules under cost governance.
type Evaluator struct {
	cfg   config.EvaluatorConfig
	costs *costcontrol.Controller
	store metrics.Store
	log   *zap.Logger

	mu     sync.Mutex
	status schemas.RunStatus
	stats  Stats
}

// New creates an evaluator. All dependencies are injected; the evaluator
// owns no global state.
func New(cfg config.EvaluatorConfig, costs *costcontrol.Controller, store metrics.Store, logger *zap.Logger) *Evaluator {
	return &Evaluator{
		cfg:    cfg,
		costs:  costs,
		store:  store,
		log:    logger.Named("evaluator"),
		status: schemas.RunNotStarted,
	}
}

// Status reports the state of the most recent run.
func (e *Evaluator) Status() schemas.RunStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Metrics returns a copy of the running totals.
func (e *Evaluator) Metrics() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// EvaluateRule scores one rule against a context. A costLimit of 0 defaults
// to the configured fraction of the daily budget. The result is always
// well-formed; refusals and failures surface in Status and Error.
func (e *Evaluator) EvaluateRule(ctx context.Context, rule schemas.RuleDict, evalCtx map[string]any, scope Scope, costLimit float64) Result {
	if costLimit <= 0 {
		costLimit = e.cfg.CostLimitFraction * e.costs.DailyLimit()
	}

	result := Result{
		EvaluationID: uuid.New().String(),
		RuleID:       schemas.RuleID(rule),
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		Scope:        scope,
		Details:      make(map[string]StageScore),
	}

	if !e.costs.CanMakeAPICall(1, 0, true) {
		result.Status = schemas.RunCanceled
		result.Error = "evaluation refused: cost or rate limit reached"
		e.setStatus(schemas.RunCanceled)
		e.log.Warn("Evaluation refused by cost gate", zap.String("rule_id", result.RuleID))
		return result
	}

	e.setStatus(schemas.RunInProgress)
	result = e.runStages(ctx, rule, evalCtx, scope, costLimit, result)

	sort.SliceStable(result.Issues, func(i, j int) bool {
		return result.Issues[i].Severity > result.Issues[j].Severity
	})
	sort.SliceStable(result.Recommendations, func(i, j int) bool {
		return result.Recommendations[i].Importance > result.Recommendations[j].Importance
	})

	e.setStatus(result.Status)
	e.recordRun(ctx, result)
	return result
}

func (e *Evaluator) runStages(ctx context.Context, rule schemas.RuleDict, evalCtx map[string]any, scope Scope, costLimit float64, result Result) Result {
	runStage := func(name Scope) bool {
		return scope == name || scope == ScopeComprehensive
	}

	if runStage(ScopeSyntax) {
		score, issues, recs := syntaxStage(rule)
		result.Cost += e.spend(ctx, syntaxStageCost)
		result.Details["syntax"] = StageScore{Score: score, Passed: score >= syntaxPassThreshold}
		result.Issues = append(result.Issues, issues...)
		result.Recommendations = append(result.Recommendations, recs...)

		// A structurally invalid rule is not worth spending the deeper
		// stages on.
		if score < syntaxPassThreshold {
			result.Score = score
			result.Passed = false
			result.Status = schemas.RunCompleted
			return result
		}
	}

	type stage struct {
		name  Scope
		cost  float64
		score func(schemas.RuleDict, map[string]any) (float64, []schemas.Issue, []schemas.Recommendation)
	}
	for _, st := range []stage{
		{ScopeLogic, logicStageCost, logicStage},
		{ScopeCoverage, coverageStageCost, coverageStage},
		{ScopePerformance, performanceStageCost, performanceStage},
	} {
		if !runStage(st.name) {
			continue
		}
		if result.Cost >= costLimit {
			e.log.Warn("Evaluation stage skipped, cost limit reached",
				zap.String("stage", string(st.name)),
				zap.Float64("cost", result.Cost),
				zap.Float64("cost_limit", costLimit))
			continue
		}
		score, issues, recs := st.score(rule, evalCtx)
		result.Cost += e.spend(ctx, st.cost)
		result.Details[string(st.name)] = StageScore{Score: score, Passed: score >= e.cfg.MinAcceptableScore}
		result.Issues = append(result.Issues, issues...)
		result.Recommendations = append(result.Recommendations, recs...)
	}

	var weighted, weightSum float64
	for name, stage := range result.Details {
		w := stageWeights[name]
		weighted += stage.Score * w
		weightSum += w
	}
	if weightSum > 0 {
		result.Score = weighted / weightSum
	}
	result.Passed = result.Score >= e.cfg.MinAcceptableScore
	result.Status = schemas.RunCompleted
	return result
}

// spend tracks a stage's cost through the controller and returns it.
func (e *Evaluator) spend(ctx context.Context, cost float64) float64 {
	e.costs.TrackCost(ctx, costcontrol.Usage{DirectCost: cost})
	return cost
}

func (e *Evaluator) recordRun(ctx context.Context, result Result) {
	e.mu.Lock()
	e.stats.Total++
	if result.Status == schemas.RunCompleted && result.Passed {
		e.stats.Passed++
	} else {
		e.stats.Failed++
	}
	e.stats.TotalCost += result.Cost
	e.stats.AverageQuality += (result.Score - e.stats.AverageQuality) / float64(e.stats.Total)
	e.mu.Unlock()

	metricType := metrics.TypeRuleEvaluation
	if result.Status != schemas.RunCompleted {
		metricType = metrics.TypeEvaluationFailure
	}
	err := e.store.StoreMetric(ctx, metrics.Metric{
		Type: metricType,
		Cost: result.Cost,
		Data: map[string]any{
			"evaluation_id": result.EvaluationID,
			"rule_id":       result.RuleID,
			"scope":         string(result.Scope),
			"score":         result.Score,
			"passed":        result.Passed,
			"status":        string(result.Status),
		},
	})
	if err != nil {
		e.log.Warn("Failed to persist evaluation metric", zap.Error(err))
	}
}

// Comparison ranks several rules by evaluation score.
type Comparison struct {
	Timestamp string            `json:"timestamp"`
	Error     string            `json:"error,omitempty"`
	BestRule  string            `json:"best_rule"`
	BestScore float64           `json:"best_score"`
	Rankings  []RankedRule      `json:"rankings"`
	Results   map[string]Result `json:"results"`
}

// RankedRule is one rule's position in a comparison.
type RankedRule struct {
	RuleID       string  `json:"rule_id"`
	Score        float64 `json:"score"`
	DeltaFromTop float64 `json:"delta_from_top"`
}

// CompareRules evaluates each rule independently and ranks them by score,
// best first. An empty input yields an error-shaped comparison, not a panic.
func (e *Evaluator) CompareRules(ctx context.Context, rules []schemas.RuleDict, evalCtx map[string]any, scope Scope) Comparison {
	cmp := Comparison{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Results:   make(map[string]Result),
	}
	if len(rules) == 0 {
		cmp.Error = "no rules to compare"
		return cmp
	}
	if scope == "" {
		scope = ScopeComprehensive
	}

	for i, rule := range rules {
		result := e.EvaluateRule(ctx, rule, evalCtx, scope, 0)
		id := result.RuleID
		if id == "" {
			id = fmt.Sprintf("rule_%d", i)
		}
		cmp.Results[id] = result
		cmp.Rankings = append(cmp.Rankings, RankedRule{RuleID: id, Score: result.Score})
	}

	sort.SliceStable(cmp.Rankings, func(i, j int) bool {
		return cmp.Rankings[i].Score > cmp.Rankings[j].Score
	})
	cmp.BestRule = cmp.Rankings[0].RuleID
	cmp.BestScore = cmp.Rankings[0].Score
	for i := range cmp.Rankings {
		cmp.Rankings[i].DeltaFromTop = cmp.BestScore - cmp.Rankings[i].Score
	}
	return cmp
}

func (e *Evaluator) setStatus(s schemas.RunStatus) {
	e.mu.Lock()
	e.status = s
	e.mu.Unlock()
}
