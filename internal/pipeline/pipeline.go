// File: internal/pipeline/pipeline.go

// Package pipeline wires the governed rule flow end to end: generate a
// candidate, audit it with the evaluator, adapt it to the preferred
// representation, and persist it to the repository. Budget refusals and
// quality failures surface in the Outcome; only structural failures
// (repository or adapter errors) come back as error returns.
package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pulse-sim/pulse/api/schemas"
	"github.com/pulse-sim/pulse/internal/evaluator"
	"github.com/pulse-sim/pulse/internal/generator"
	"github.com/pulse-sim/pulse/internal/hybrid"
	"github.com/pulse-sim/pulse/internal/repository"
)

// Request describes one generate-and-persist run.
type Request struct {
	Context       map[string]any
	RuleType      string
	Method        generator.Method
	MaxIterations int
	Activate      bool
}

// Outcome carries every stage's result. Persisted is false when the rule
// never reached the repository (refused, failed, or below the quality bar).
type Outcome struct {
	Generation generator.Result
	Evaluation evaluator.Result
	Rule       schemas.RuleDict
	Adapted    any
	Persisted  bool
}

// Pipeline owns no state of its own; it sequences the injected components.
type Pipeline struct {
	gen     *generator.Generator
	eval    *evaluator.Evaluator
	adapter *hybrid.Adapter
	repo    *repository.Repository
	log     *zap.Logger
}

// New assembles a pipeline from its stages.
func New(gen *generator.Generator, eval *evaluator.Evaluator, adapter *hybrid.Adapter, repo *repository.Repository, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		gen:     gen,
		eval:    eval,
		adapter: adapter,
		repo:    repo,
		log:     logger.Named("pipeline"),
	}
}

// Run executes one request through all four stages.
func (p *Pipeline) Run(ctx context.Context, req Request) (Outcome, error) {
	var out Outcome

	out.Generation = p.gen.GenerateRule(ctx, req.Context, req.RuleType, req.Method, req.MaxIterations, 0)
	if out.Generation.Rule == nil {
		p.log.Warn("Pipeline stopped at generation",
			zap.String("run_id", out.Generation.RunID),
			zap.String("status", string(out.Generation.Status)),
			zap.String("error", out.Generation.Error))
		return out, nil
	}

	out.Evaluation = p.eval.EvaluateRule(ctx, out.Generation.Rule, req.Context, evaluator.ScopeComprehensive, 0)
	if !out.Evaluation.Passed {
		p.log.Info("Pipeline rule rejected by evaluation",
			zap.String("rule_id", out.Evaluation.RuleID),
			zap.Float64("score", out.Evaluation.Score))
		return out, nil
	}

	stored, err := p.repo.AddRule(out.Generation.Rule, req.Activate)
	if err != nil {
		return out, fmt.Errorf("persisting generated rule: %w", err)
	}
	out.Rule = stored
	out.Persisted = true

	adapted, err := p.adapter.AdaptRule(ctx, stored)
	if err != nil {
		return out, fmt.Errorf("adapting persisted rule: %w", err)
	}
	out.Adapted = adapted

	p.log.Info("Pipeline run complete",
		zap.String("rule_id", schemas.RuleID(stored)),
		zap.Float64("quality", out.Generation.Quality),
		zap.Float64("score", out.Evaluation.Score))
	return out, nil
}

// RunBatch executes several requests with bounded concurrency, preserving
// input order in the results. The first structural error cancels the batch.
func (p *Pipeline) RunBatch(ctx context.Context, reqs []Request, concurrency int) ([]Outcome, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	outcomes := make([]Outcome, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, req := range reqs {
		g.Go(func() error {
			out, err := p.Run(gctx, req)
			if err != nil {
				return fmt.Errorf("batch request %d: %w", i, err)
			}
			outcomes[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}
