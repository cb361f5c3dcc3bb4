// File: internal/generator/generator.go

// Package generator produces rules through an iterative generate, score,
// refine loop bounded by a cost ceiling, an iteration cap, and a
// diminishing-returns stop. Like the evaluator, it reports refusals and
// failures through the result object rather than error returns.
package generator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulse-sim/pulse/api/schemas"
	"github.com/pulse-sim/pulse/internal/config"
	"github.com/pulse-sim/pulse/internal/costcontrol"
	"github.com/pulse-sim/pulse/internal/metrics"
)

// GeneratorName is stamped into the metadata of every produced rule.
const GeneratorName = "RecursiveRuleGenerator"

// Method selects which generation primitives drive the loop.
type Method string

const (
	MethodGPTOnly         Method = "gpt_only"
	MethodSymbolicOnly    Method = "symbolic_only"
	MethodGPTSymbolicLoop Method = "gpt_symbolic_loop"
	MethodHybridAdaptive  Method = "hybrid_adaptive"
)

// Per-iteration cost estimates by method. Placeholder rates standing in for
// real provider pricing.
var iterationCost = map[Method]float64{
	MethodGPTOnly:         0.02,
	MethodSymbolicOnly:    0.005,
	MethodGPTSymbolicLoop: 0.03,
	MethodHybridAdaptive:  0.025,
}

// Result is the outcome of one generation run. Rule is nil when the run did
// not complete; callers must branch on Error.
type Result struct {
	RunID      string            `json:"run_id"`
	Status     schemas.RunStatus `json:"status"`
	Error      string            `json:"error,omitempty"`
	Rule       schemas.RuleDict  `json:"rule,omitempty"`
	Iterations int               `json:"iterations"`
	Quality    float64           `json:"quality"`
	Cost       float64           `json:"cost"`
}

// Stats tracks running generator totals across runs.
type Stats struct {
	TotalRuns         int     `json:"total_runs"`
	Successful        int     `json:"successful"`
	Failed            int     `json:"failed"`
	TotalCost         float64 `json:"total_cost"`
	AverageIterations float64 `json:"average_iterations"`
}

// RunStatus reports the state of a generation run.
type RunStatus struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
	Stats  Stats  `json:"stats"`
}

// Generator drives the refinement loop.
type Generator struct {
	cfg   config.GeneratorConfig
	costs *costcontrol.Controller
	store metrics.Store
	llm   schemas.LLMClient
	log   *zap.Logger

	mu     sync.Mutex
	runID  string
	status schemas.RunStatus
	stats  Stats
}

// New creates a generator. llm may be nil, restricting it to symbolic
// generation.
func New(cfg config.GeneratorConfig, costs *costcontrol.Controller, store metrics.Store, llm schemas.LLMClient, logger *zap.Logger) *Generator {
	return &Generator{
		cfg:    cfg,
		costs:  costs,
		store:  store,
		llm:    llm,
		log:    logger.Named("generator"),
		status: schemas.RunNotStarted,
	}
}

// GenerateRule produces one rule for the context. Zero values for method,
// maxIterations, and costLimit fall back to the configured defaults.
func (g *Generator) GenerateRule(ctx context.Context, genCtx map[string]any, ruleType string, method Method, maxIterations int, costLimit float64) Result {
	if method == "" {
		method = Method(g.cfg.Method)
	}
	if maxIterations <= 0 {
		maxIterations = g.cfg.MaxIterations
	}
	if costLimit <= 0 {
		costLimit = g.cfg.CostLimitFraction * g.costs.DailyLimit()
	}

	result := Result{RunID: uuid.New().String()}
	g.beginRun(result.RunID)

	if _, known := iterationCost[method]; !known {
		return g.fail(ctx, result, fmt.Sprintf("unknown generation method %q", method))
	}
	if method != MethodSymbolicOnly && g.llm == nil {
		return g.fail(ctx, result, fmt.Sprintf("method %q requires an LLM client", method))
	}
	if !g.costs.CanMakeAPICall(1, 0, true) {
		result.Status = schemas.RunCanceled
		result.Error = "generation refused: cost or rate limit reached"
		g.setStatus(schemas.RunCanceled)
		g.log.Warn("Generation refused by cost gate", zap.String("run_id", result.RunID))
		return result
	}

	started := time.Now()
	var best schemas.RuleDict
	bestScore := -1.0
	var feedback []string

	for i := 0; i < maxIterations; i++ {
		if result.Cost >= costLimit {
			g.log.Warn("Generation stopped, cost limit reached",
				zap.String("run_id", result.RunID),
				zap.Float64("cost", result.Cost),
				zap.Float64("cost_limit", costLimit))
			break
		}

		candidate, err := g.produceCandidate(ctx, genCtx, ruleType, method, i, best, feedback)
		if err != nil {
			return g.fail(ctx, result, fmt.Sprintf("iteration %d: %v", i, err))
		}

		score, iterFeedback := assessQuality(candidate, genCtx)
		feedback = iterFeedback
		result.Cost += g.spend(ctx, iterationCost[method])
		result.Iterations = i + 1

		improvement := score - bestScore
		if score > bestScore {
			best = candidate
			bestScore = score
		}
		g.log.Debug("Generation iteration finished",
			zap.String("run_id", result.RunID),
			zap.Int("iteration", i),
			zap.Float64("score", score),
			zap.Float64("best_score", bestScore))

		// The first iteration has no baseline to plateau against.
		if i > 0 && improvement < g.cfg.ImprovementThreshold {
			g.log.Info("Generation converged",
				zap.String("run_id", result.RunID),
				zap.Int("iterations", result.Iterations),
				zap.Float64("improvement", improvement))
			break
		}
	}

	if best == nil {
		return g.fail(ctx, result, "failed to generate a valid rule")
	}

	meta := schemas.RuleMetadataDict(best)
	meta["generator"] = GeneratorName
	meta["method"] = string(method)
	meta["iterations"] = result.Iterations
	meta["quality"] = bestScore
	meta["generation_time_seconds"] = time.Since(started).Seconds()
	meta["generation_cost"] = result.Cost
	meta["generated_at"] = time.Now().UTC().Format(time.RFC3339)
	meta["rule_type"] = ruleType

	result.Rule = best
	result.Quality = bestScore
	result.Status = schemas.RunCompleted
	g.setStatus(schemas.RunCompleted)
	g.recordSuccess(ctx, result)
	return result
}

func (g *Generator) produceCandidate(ctx context.Context, genCtx map[string]any, ruleType string, method Method, iteration int, previous schemas.RuleDict, feedback []string) (schemas.RuleDict, error) {
	switch {
	case method == MethodSymbolicOnly:
		return g.generateSymbolic(genCtx, ruleType, iteration), nil
	case iteration == 0 || method == MethodGPTOnly:
		return g.generateWithGPT(ctx, genCtx, ruleType)
	default:
		return g.refineWithGPT(ctx, previous, genCtx, feedback)
	}
}

// GenerationStatus reports the current run. History of past runs is not
// persisted; any other id yields status "unknown".
func (g *Generator) GenerationStatus(runID string) RunStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	if runID != "" && runID != g.runID {
		return RunStatus{RunID: runID, Status: "unknown"}
	}
	return RunStatus{RunID: g.runID, Status: string(g.status), Stats: g.stats}
}

// Metrics returns a copy of the running totals.
func (g *Generator) Metrics() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stats
}

func (g *Generator) beginRun(runID string) {
	g.mu.Lock()
	g.runID = runID
	g.status = schemas.RunInProgress
	g.mu.Unlock()
}

func (g *Generator) setStatus(s schemas.RunStatus) {
	g.mu.Lock()
	g.status = s
	g.mu.Unlock()
}

func (g *Generator) fail(ctx context.Context, result Result, msg string) Result {
	result.Status = schemas.RunFailed
	result.Error = msg
	g.setStatus(schemas.RunFailed)

	g.mu.Lock()
	g.stats.TotalRuns++
	g.stats.Failed++
	g.stats.TotalCost += result.Cost
	g.mu.Unlock()

	g.log.Error("Generation run failed", zap.String("run_id", result.RunID), zap.String("error", msg))
	err := g.store.StoreMetric(ctx, metrics.Metric{
		Type: metrics.TypeGenerationFailure,
		Cost: result.Cost,
		Data: map[string]any{
			"run_id":     result.RunID,
			"error":      msg,
			"iterations": result.Iterations,
		},
	})
	if err != nil {
		g.log.Warn("Failed to persist generation failure metric", zap.Error(err))
	}
	return result
}

func (g *Generator) recordSuccess(ctx context.Context, result Result) {
	g.mu.Lock()
	g.stats.TotalRuns++
	g.stats.Successful++
	g.stats.TotalCost += result.Cost
	g.stats.AverageIterations += (float64(result.Iterations) - g.stats.AverageIterations) / float64(g.stats.TotalRuns)
	g.mu.Unlock()

	err := g.store.StoreMetric(ctx, metrics.Metric{
		Type: metrics.TypeRuleGeneration,
		Cost: result.Cost,
		Data: map[string]any{
			"run_id":     result.RunID,
			"rule_id":    schemas.RuleID(result.Rule),
			"quality":    result.Quality,
			"iterations": result.Iterations,
		},
	})
	if err != nil {
		g.log.Warn("Failed to persist generation metric", zap.Error(err))
	}
}

// spend tracks an iteration's cost through the controller and returns it.
func (g *Generator) spend(ctx context.Context, cost float64) float64 {
	g.costs.TrackCost(ctx, costcontrol.Usage{DirectCost: cost})
	return cost
}
