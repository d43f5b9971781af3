package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/inquire/internal/eval"
)

var (
	evalPaths  []string
	evalPrices = eval.DefaultPrices()
)

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Compare batch output directories",
	Long: `Evaluate every *run.json under each --path and print one row per
directory: success rates, mean conversation length, token cost and wall time.

Examples:
  inquire eval --path logs/20250101120000 --path logs/20250102093000

  # Price both roles at a different rate (USD per million tokens)
  inquire eval --path logs/run --q-in 0.5 --q-out 1.5`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		experiments := make([]eval.Experiment, 0, len(evalPaths))
		for _, path := range evalPaths {
			exp, err := eval.EvaluateDir(path, evalPrices)
			if err != nil {
				return err
			}
			experiments = append(experiments, exp)
		}
		_, err := fmt.Fprintln(cmd.OutOrStdout(), eval.Table(experiments))
		return err
	},
}

func init() {
	f := evalCmd.Flags()
	f.StringSliceVarP(&evalPaths, "path", "p", nil, "batch output directory (repeatable)")
	f.Float64Var(&evalPrices.QuestionerInput, "q-in", evalPrices.QuestionerInput, "questioner input price per million tokens")
	f.Float64Var(&evalPrices.QuestionerOutput, "q-out", evalPrices.QuestionerOutput, "questioner output price per million tokens")
	f.Float64Var(&evalPrices.AnswererInput, "a-in", evalPrices.AnswererInput, "answerer input price per million tokens")
	f.Float64Var(&evalPrices.AnswererOutput, "a-out", evalPrices.AnswererOutput, "answerer output price per million tokens")
	_ = evalCmd.MarkFlagRequired("path")
}
