// File: cmd/app.go
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/pulse-sim/pulse/api/schemas"
	"github.com/pulse-sim/pulse/internal/costcontrol"
	"github.com/pulse-sim/pulse/internal/evaluator"
	"github.com/pulse-sim/pulse/internal/generator"
	"github.com/pulse-sim/pulse/internal/hybrid"
	"github.com/pulse-sim/pulse/internal/llmclient"
	"github.com/pulse-sim/pulse/internal/metrics"
	"github.com/pulse-sim/pulse/internal/observability"
	"github.com/pulse-sim/pulse/internal/pipeline"
	"github.com/pulse-sim/pulse/internal/repository"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// app is the composition root: every component is constructed here exactly
// once and handed to its consumers explicitly. There are no hidden globals
// below this layer.
type app struct {
	log      *zap.Logger
	store    metrics.Store
	costs    *costcontrol.Controller
	adapter  *hybrid.Adapter
	repo     *repository.Repository
	eval     *evaluator.Evaluator
	gen      *generator.Generator
	llm      schemas.LLMClient
	pipeline *pipeline.Pipeline

	pool *pgxpool.Pool
}

func buildApp(ctx context.Context) (*app, error) {
	log := observability.GetLogger()
	a := &app{log: log}

	switch cfg.Metrics.Backend {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Metrics.Postgres.DSN())
		if err != nil {
			return nil, fmt.Errorf("connecting to metrics database: %w", err)
		}
		store, err := metrics.NewPostgresStore(ctx, pool, log)
		if err != nil {
			pool.Close()
			return nil, err
		}
		a.pool = pool
		a.store = store
	default:
		store, err := metrics.NewFileStore(cfg.Metrics.Path, log)
		if err != nil {
			return nil, err
		}
		a.store = store
	}

	costs := costcontrol.New(ctx, cfg.Cost, a.store, log)
	a.costs = costs

	a.adapter = hybrid.New(cfg.Adapter, costs, log)

	repo, err := repository.New(cfg.Repository, log)
	if err != nil {
		a.close()
		return nil, err
	}
	a.repo = repo

	a.eval = evaluator.New(cfg.Evaluator, costs, a.store, log)

	// The LLM client is optional: without configured models the generator
	// can still run symbolically.
	if len(cfg.LLM.Models) > 0 {
		llm, err := llmclient.NewClient(cfg.LLM, log)
		if err != nil {
			a.close()
			return nil, err
		}
		a.llm = llm
	} else {
		log.Warn("No LLM models configured, generation is restricted to the symbolic method")
	}

	a.gen = generator.New(cfg.Generator, costs, a.store, a.llm, log)
	a.pipeline = pipeline.New(a.gen, a.eval, a.adapter, a.repo, log)
	return a, nil
}

func (a *app) close() {
	if a.llm != nil {
		if err := a.llm.Close(); err != nil {
			a.log.Warn("Failed to close LLM client", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	observability.Sync()
}

// printJSON renders a command result to stdout.
func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	fmt.Fprintln(os.Stdout, string(out))
	return nil
}

// loadContext reads a generation/evaluation context from a JSON file, or
// returns an empty context for an empty path.
func loadContext(path string) (map[string]any, error) {
	if path == "" {
		return map[string]any{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading context file: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decoding context file: %w", err)
	}
	return out, nil
}

// loadRule reads a rule dict from a JSON file.
func loadRule(path string) (schemas.RuleDict, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rule file: %w", err)
	}
	var rule schemas.RuleDict
	if err := json.Unmarshal(data, &rule); err != nil {
		return nil, fmt.Errorf("decoding rule file: %w", err)
	}
	return rule, nil
}
