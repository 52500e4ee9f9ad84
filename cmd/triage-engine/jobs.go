package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-triage/internal/models"
	"github.com/miradorstack/mirador-triage/internal/repo"
)

var jobsLimit int

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List recent bulk jobs recorded in the result store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(configPath, os.Stderr)
		if err != nil {
			return err
		}
		defer a.Close()

		ids, err := a.store.List(cmd.Context(), repo.KindJob, jobsLimit)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No jobs found.")
			return nil
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%-36s  %-10s  %9s  %7s  %6s\n", "JOB", "STATUS", "PROCESSED", "SUCCESS", "FAILED")
		for _, id := range ids {
			var job models.Job
			found, err := a.store.Load(cmd.Context(), repo.KindJob, id, &job)
			if err != nil {
				return err
			}
			if !found {
				continue
			}
			fmt.Fprintf(out, "%-36s  %-10s  %4d/%-4d  %7d  %6d\n",
				job.ID, job.Status, job.ProcessedCount, job.TotalItems, job.SuccessCount, job.FailedCount)
		}
		return nil
	},
}

func init() {
	jobsCmd.Flags().IntVar(&jobsLimit, "limit", 20, "Maximum number of jobs to list")
}
