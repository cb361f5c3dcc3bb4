// File: cmd/generate.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pulse-sim/pulse/internal/generator"
	"github.com/pulse-sim/pulse/internal/pipeline"
)

var generateFlags struct {
	ruleType    string
	method      string
	iterations  int
	contextFile string
	draft       bool
	noPersist   bool
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a rule for a context and persist it if it passes evaluation",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		genCtx, err := loadContext(generateFlags.contextFile)
		if err != nil {
			return err
		}

		if generateFlags.noPersist {
			result := a.gen.GenerateRule(ctx, genCtx, generateFlags.ruleType,
				generator.Method(generateFlags.method), generateFlags.iterations, 0)
			return printJSON(result)
		}

		out, err := a.pipeline.Run(ctx, pipeline.Request{
			Context:       genCtx,
			RuleType:      generateFlags.ruleType,
			Method:        generator.Method(generateFlags.method),
			MaxIterations: generateFlags.iterations,
			Activate:      !generateFlags.draft,
		})
		if err != nil {
			return err
		}
		return printJSON(out)
	},
}

func init() {
	generateCmd.Flags().StringVarP(&generateFlags.ruleType, "type", "t", "", "rule type to generate (required)")
	generateCmd.Flags().StringVarP(&generateFlags.method, "method", "m", "", "generation method (gpt_only, symbolic_only, gpt_symbolic_loop, hybrid_adaptive)")
	generateCmd.Flags().IntVarP(&generateFlags.iterations, "iterations", "i", 0, "maximum refinement iterations (0 = configured default)")
	generateCmd.Flags().StringVar(&generateFlags.contextFile, "context", "", "JSON file with the generation context")
	generateCmd.Flags().BoolVar(&generateFlags.draft, "draft", false, "store the rule as a draft instead of activating it")
	generateCmd.Flags().BoolVar(&generateFlags.noPersist, "no-persist", false, "generate only, skip evaluation and persistence")

	if err := generateCmd.MarkFlagRequired("type"); err != nil {
		panic(fmt.Sprintf("marking generate --type required: %v", err))
	}
	rootCmd.AddCommand(generateCmd)
}
