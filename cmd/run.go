package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	runContextFile string
	runIndustry    string
	runFunction    string
	runPersist     bool
)

var runCmd = &cobra.Command{
	Use:   "run <goal>",
	Short: "Run a requirement pipeline for a goal and wait for the result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		jobContext, err := buildJobContext()
		if err != nil {
			return err
		}

		job, err := e.Store.CreateJob(ctx, args[0], jobContext)
		if err != nil {
			return eris.Wrap(err, "create job")
		}
		zap.L().Info("job created", zap.String("job", job.ID))

		if err := e.Orchestrator.Run(ctx, job.ID); err != nil {
			return err
		}

		final, err := e.Store.GetJob(ctx, job.ID)
		if err != nil {
			return eris.Wrap(err, "load finished job")
		}

		out, err := json.MarshalIndent(final, "", "  ")
		if err != nil {
			return eris.Wrap(err, "encode job")
		}
		fmt.Println(string(out))
		return nil
	},
}

// buildJobContext merges the context file with the flag overrides.
func buildJobContext() (json.RawMessage, error) {
	spec := map[string]any{}
	if runContextFile != "" {
		raw, err := os.ReadFile(runContextFile)
		if err != nil {
			return nil, eris.Wrap(err, "read context file")
		}
		if err := json.Unmarshal(raw, &spec); err != nil {
			return nil, eris.Wrap(err, "decode context file")
		}
	}
	if runIndustry != "" {
		spec["industry"] = runIndustry
	}
	if runFunction != "" {
		spec["function"] = runFunction
	}
	if runPersist {
		spec["persist"] = true
	}
	if len(spec) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(spec)
	if err != nil {
		return nil, eris.Wrap(err, "encode job context")
	}
	return raw, nil
}

func init() {
	runCmd.Flags().StringVar(&runContextFile, "context", "", "path to a JSON job context file")
	runCmd.Flags().StringVar(&runIndustry, "industry", "", "industry hint for scoring and prompts")
	runCmd.Flags().StringVar(&runFunction, "function", "", "business function hint for scoring")
	runCmd.Flags().BoolVar(&runPersist, "persist", false, "save accepted requirements to the corpus")
	rootCmd.AddCommand(runCmd)
}
