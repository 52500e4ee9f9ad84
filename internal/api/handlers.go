package api

import (
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-triage/internal/models"
)

// RunPipelineRequest asks for an analysis of a stored ticket or an inline conversation.
type RunPipelineRequest struct {
	TicketID        string                     `json:"ticket_id,omitempty"`
	Conversation    *models.ConversationRecord `json:"conversation,omitempty"`
	IncludePriority bool                       `json:"include_priority,omitempty"`
}

// RunPipelineResponse carries the analysis and, when requested, the priority result.
type RunPipelineResponse struct {
	Analysis      models.AnalysisResult  `json:"analysis"`
	Priority      *models.PriorityResult `json:"priority,omitempty"`
	PriorityError string                 `json:"priority_error,omitempty"`
}

// SubmitBulkJobRequest lists ticket ids and the analysis kinds to run. Omitted kinds
// default to enabled.
type SubmitBulkJobRequest struct {
	TicketIDs       []string `json:"ticket_ids"`
	EnableTestCases *bool    `json:"enable_test_cases,omitempty"`
	EnablePriority  *bool    `json:"enable_priority,omitempty"`
}

// Options resolves the requested analysis kinds.
func (r SubmitBulkJobRequest) Options() models.BulkOptions {
	opts := models.BulkOptions{EnableTestCases: true, EnablePriority: true}
	if r.EnableTestCases != nil {
		opts.EnableTestCases = *r.EnableTestCases
	}
	if r.EnablePriority != nil {
		opts.EnablePriority = *r.EnablePriority
	}
	return opts
}

// SubmitBulkJobResponse returns the id of the accepted job.
type SubmitBulkJobResponse struct {
	JobID string `json:"job_id"`
}

// JobRequest addresses a single job.
type JobRequest struct {
	JobID string `json:"job_id"`
}

// CancelJobResponse reports whether a running worker was signalled.
type CancelJobResponse struct {
	JobID     string `json:"job_id"`
	Cancelled bool   `json:"cancelled"`
}

// Validate checks that exactly one source for the conversation is given.
func (r RunPipelineRequest) Validate() error {
	hasTicket := strings.TrimSpace(r.TicketID) != ""
	hasConversation := r.Conversation != nil
	switch {
	case hasTicket && hasConversation:
		return fmt.Errorf("ticket_id and conversation are mutually exclusive")
	case !hasTicket && !hasConversation:
		return fmt.Errorf("ticket_id or conversation is required")
	case hasConversation && r.Conversation.IsEmpty():
		return fmt.Errorf("conversation has no utterances")
	}
	return nil
}

// Validate checks the job id is present.
func (r JobRequest) Validate() error {
	if strings.TrimSpace(r.JobID) == "" {
		return fmt.Errorf("job_id is required")
	}
	return nil
}

// FromStruct decodes a Struct message into a request type.
func FromStruct(in *structpb.Struct, out any) error {
	if in == nil {
		return fmt.Errorf("request is nil")
	}
	data, err := protojson.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

// ToStruct encodes a response value as a Struct message.
func ToStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}
