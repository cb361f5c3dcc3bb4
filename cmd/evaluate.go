// File: cmd/evaluate.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pulse-sim/pulse/api/schemas"
	"github.com/pulse-sim/pulse/internal/evaluator"
)

var evaluateFlags struct {
	ruleFile    string
	ruleID      string
	version     int
	contextFile string
	scope       string
	costLimit   float64
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Score a rule's quality against a context",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		var rule schemas.RuleDict
		switch {
		case evaluateFlags.ruleFile != "":
			rule, err = loadRule(evaluateFlags.ruleFile)
		case evaluateFlags.ruleID != "":
			rule, err = a.repo.GetRule(evaluateFlags.ruleID, evaluateFlags.version)
		default:
			return fmt.Errorf("either --rule or --id is required")
		}
		if err != nil {
			return err
		}

		evalCtx, err := loadContext(evaluateFlags.contextFile)
		if err != nil {
			return err
		}

		result := a.eval.EvaluateRule(ctx, rule, evalCtx,
			evaluator.Scope(evaluateFlags.scope), evaluateFlags.costLimit)
		return printJSON(result)
	},
}

func init() {
	evaluateCmd.Flags().StringVar(&evaluateFlags.ruleFile, "rule", "", "JSON file containing the rule to evaluate")
	evaluateCmd.Flags().StringVar(&evaluateFlags.ruleID, "id", "", "id of a stored rule to evaluate")
	evaluateCmd.Flags().IntVar(&evaluateFlags.version, "version", 0, "stored rule version (0 = latest)")
	evaluateCmd.Flags().StringVar(&evaluateFlags.contextFile, "context", "", "JSON file with the evaluation context")
	evaluateCmd.Flags().StringVar(&evaluateFlags.scope, "scope", string(evaluator.ScopeComprehensive), "evaluation scope (syntax, logic, coverage, performance, comprehensive)")
	evaluateCmd.Flags().Float64Var(&evaluateFlags.costLimit, "cost-limit", 0, "per-run cost ceiling in USD (0 = configured default)")
	rootCmd.AddCommand(evaluateCmd)
}
