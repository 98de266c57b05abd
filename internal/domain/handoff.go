package domain

import "time"

// HandoffPackage is the write-once bundle emitted when a conversation is
// escalated to a human operator. The core emits it as a side effect and does
// not store it.
type HandoffPackage struct {
	ID                  string        `json:"id"`
	SessionID           string        `json:"session_id"`
	CustomerID          string        `json:"customer_id,omitempty"`
	CustomerName        string        `json:"customer_name,omitempty"`
	TriggeringText      string        `json:"triggering_text"`
	Reason              string        `json:"reason"`
	Summary             string        `json:"summary"`
	OriginalQuestion    string        `json:"original_question,omitempty"`
	SuggestedDepartment string        `json:"suggested_department,omitempty"`
	KeyFacts            []string      `json:"key_facts,omitempty"`
	OpeningLine         string        `json:"opening_line,omitempty"`
	Duration            time.Duration `json:"duration_ns"`
	History             []Message     `json:"history"`
	CreatedAt           time.Time     `json:"created_at"`
}
