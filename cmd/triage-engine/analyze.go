package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-triage/internal/api"
	"github.com/miradorstack/mirador-triage/internal/models"
)

var (
	analyzeTicket       string
	analyzeConversation string
	analyzePriority     bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyse one ticket and print the result as JSON",
	Long: `Run the test-case pipeline for a single ticket.

Pass --ticket to fetch the conversation from the ticket source, or --conversation with a
JSON file holding a conversation record. Add --priority to also extract planning signals.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := api.RunPipelineRequest{TicketID: analyzeTicket, IncludePriority: analyzePriority}
		if analyzeConversation != "" {
			record, err := readConversation(analyzeConversation)
			if err != nil {
				return err
			}
			req.Conversation = &record
		}

		a, err := newApp(configPath, os.Stderr)
		if err != nil {
			return err
		}
		defer a.Close()

		resp, err := a.service.Analyze(cmd.Context(), req)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), resp)
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeTicket, "ticket", "", "Ticket id to fetch and analyse")
	analyzeCmd.Flags().StringVar(&analyzeConversation, "conversation", "", "Path to a JSON conversation record")
	analyzeCmd.Flags().BoolVar(&analyzePriority, "priority", false, "Also run the priority analysis")
	analyzeCmd.MarkFlagsMutuallyExclusive("ticket", "conversation")
	analyzeCmd.MarkFlagsOneRequired("ticket", "conversation")
}

func readConversation(path string) (models.ConversationRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.ConversationRecord{}, fmt.Errorf("read conversation: %w", err)
	}
	var record models.ConversationRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return models.ConversationRecord{}, fmt.Errorf("parse conversation: %w", err)
	}
	return record, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
