package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/requora/reqcore/internal/scorer"
)

var (
	scoreIndustry string
	scoreFunction string
)

var scoreCmd = &cobra.Command{
	Use:   "score <candidates.json>",
	Short: "Score requirement candidates from a JSON file",
	Long:  "Reads a JSON array of requirement candidates (or a {\"candidates\": [...]} object), scores each against the benchmark table and prints the batch report.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrap(err, "read candidates file")
		}

		var req scoreRequest
		if err := json.Unmarshal(raw, &req); err != nil || len(req.Candidates) == 0 {
			// Bare array form.
			if aerr := json.Unmarshal(raw, &req.Candidates); aerr != nil {
				return eris.Wrap(aerr, "decode candidates")
			}
		}
		if scoreIndustry != "" {
			req.Industry = scoreIndustry
		}
		if scoreFunction != "" {
			req.Function = scoreFunction
		}

		benchmarks, err := loadBenchmarks()
		if err != nil {
			return err
		}

		report := scorer.ScoreBatch(req.Candidates, benchmarks, req.Industry, req.Function)
		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return eris.Wrap(err, "encode report")
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	scoreCmd.Flags().StringVar(&scoreIndustry, "industry", "", "industry for benchmark lookup")
	scoreCmd.Flags().StringVar(&scoreFunction, "function", "", "business function for benchmark lookup")
	rootCmd.AddCommand(scoreCmd)
}
