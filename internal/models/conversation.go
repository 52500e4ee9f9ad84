package models

import (
	"sort"
	"strings"
	"time"
)

// Role identifies who authored an utterance in a ticket conversation.
type Role string

const (
	RoleCustomer      Role = "customer"
	RoleAgent         Role = "agent"
	RoleAgentInternal Role = "agent_internal"
)

// Label returns the transcript marker used when rendering the conversation for a prompt.
func (r Role) Label() string {
	switch r {
	case RoleCustomer:
		return "[CUSTOMER]"
	case RoleAgentInternal:
		return "[AGENT - INTERNAL]"
	default:
		return "[AGENT]"
	}
}

// Utterance is a single labelled message within a conversation.
type Utterance struct {
	Role      Role      `json:"role"`
	Author    string    `json:"author,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Body      string    `json:"body"`
}

// ConversationRecord is the ordered transcript of a support ticket. Treat it as immutable once built.
type ConversationRecord struct {
	TicketID   string            `json:"ticket_id"`
	Subject    string            `json:"subject,omitempty"`
	Utterances []Utterance       `json:"utterances"`
	Fields     map[string]string `json:"fields,omitempty"`
}

// NewConversationRecord copies the supplied utterances and fields so later mutation of the
// caller's slices cannot leak into the record.
func NewConversationRecord(ticketID, subject string, utterances []Utterance, fields map[string]string) ConversationRecord {
	record := ConversationRecord{
		TicketID:   ticketID,
		Subject:    subject,
		Utterances: append([]Utterance(nil), utterances...),
	}
	if len(fields) > 0 {
		record.Fields = make(map[string]string, len(fields))
		for k, v := range fields {
			record.Fields[k] = v
		}
	}
	return record
}

// IsEmpty reports whether no utterance carries any text.
func (c ConversationRecord) IsEmpty() bool {
	for _, u := range c.Utterances {
		if strings.TrimSpace(u.Body) != "" {
			return false
		}
	}
	return true
}

// Text renders the transcript with one labelled block per utterance.
func (c ConversationRecord) Text() string {
	var b strings.Builder
	if c.Subject != "" {
		b.WriteString("Subject: ")
		b.WriteString(c.Subject)
		b.WriteString("\n\n")
	}
	for _, u := range c.Utterances {
		body := strings.TrimSpace(u.Body)
		if body == "" {
			continue
		}
		b.WriteString(u.Role.Label())
		if !u.Timestamp.IsZero() {
			b.WriteString(" ")
			b.WriteString(u.Timestamp.UTC().Format(time.RFC3339))
		}
		b.WriteString(":\n")
		b.WriteString(body)
		b.WriteString("\n\n")
	}
	return strings.TrimSpace(b.String())
}

// SortedFieldNames returns the metadata field names in a stable order.
func (c ConversationRecord) SortedFieldNames() []string {
	names := make([]string, 0, len(c.Fields))
	for name := range c.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
