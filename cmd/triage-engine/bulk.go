package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-triage/internal/models"
)

var (
	bulkTickets     []string
	bulkNoPriority  bool
	bulkNoTestCases bool
)

var bulkCmd = &cobra.Command{
	Use:   "bulk",
	Short: "Run a bulk job over several tickets and print its final status and report",
	Long: `Submit a bulk job and wait for it to finish.

Interrupting the command cancels the job at the next item boundary; the partial status is
still printed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(configPath, os.Stderr)
		if err != nil {
			return err
		}
		defer a.Close()

		opts := models.BulkOptions{EnableTestCases: !bulkNoTestCases, EnablePriority: !bulkNoPriority}
		jobID, err := a.orchestrator.Submit(cmd.Context(), bulkTickets, opts)
		if err != nil {
			return err
		}
		a.logger.Info("bulk job submitted", slog.String("job_id", jobID), slog.Int("tickets", len(bulkTickets)))

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if err := a.orchestrator.Wait(ctx, jobID); err != nil {
			if !errors.Is(err, context.Canceled) {
				return err
			}
			a.logger.Info("interrupted, cancelling bulk job", slog.String("job_id", jobID))
			if !a.orchestrator.Cancel(jobID) {
				a.logger.Info("bulk job not running, waiting for it to finish", slog.String("job_id", jobID))
			}
			if err := a.orchestrator.Wait(context.Background(), jobID); err != nil {
				return err
			}
		}

		job, err := a.orchestrator.Status(context.Background(), jobID)
		if err != nil {
			return err
		}
		out := struct {
			Job    models.Job        `json:"job"`
			Report *models.JobReport `json:"report,omitempty"`
		}{Job: job}
		if report, err := a.service.Report(context.Background(), jobID); err == nil {
			out.Report = &report
		}
		return printJSON(cmd.OutOrStdout(), out)
	},
}

func init() {
	bulkCmd.Flags().StringSliceVar(&bulkTickets, "ticket", nil, "Ticket ids to analyse (repeatable or comma separated)")
	bulkCmd.Flags().BoolVar(&bulkNoPriority, "no-priority", false, "Skip the priority analysis")
	bulkCmd.Flags().BoolVar(&bulkNoTestCases, "no-test-cases", false, "Skip the test-case analysis")
	_ = bulkCmd.MarkFlagRequired("ticket")
}
