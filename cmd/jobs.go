package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/requora/reqcore/internal/model"
	"github.com/requora/reqcore/internal/store"
)

var (
	jobsStatus string
	jobsLimit  int
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List pipeline jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		jobs, err := st.ListJobs(ctx, store.JobFilter{
			Status: model.JobStatus(jobsStatus),
			Limit:  jobsLimit,
		})
		if err != nil {
			return eris.Wrap(err, "list jobs")
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tCREATED\tGOAL")
		for _, j := range jobs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				j.ID, j.Status, j.CreatedAt.Format("2006-01-02 15:04:05"), j.Goal)
		}
		return w.Flush()
	},
}

var jobShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show one job with its steps",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		job, err := st.GetJob(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "get job")
		}
		steps, err := st.ListSteps(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "list steps")
		}

		out, err := json.MarshalIndent(map[string]any{
			"job":   job,
			"steps": steps,
		}, "", "  ")
		if err != nil {
			return eris.Wrap(err, "encode job")
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	jobsCmd.Flags().StringVar(&jobsStatus, "status", "", "filter by status (pending|running|completed|failed)")
	jobsCmd.Flags().IntVar(&jobsLimit, "limit", 50, "maximum jobs to list")
	jobsCmd.AddCommand(jobShowCmd)
	rootCmd.AddCommand(jobsCmd)
}
