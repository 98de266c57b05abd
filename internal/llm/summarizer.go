package llm

import (
	"context"
	"encoding/json"
	"fmt"

	openaigo "github.com/openai/openai-go/v3"

	"github.com/careline/concierge/internal/orchestrator"
)

const summarizerSystem = `You prepare a handoff briefing for a human support agent taking over a bot
conversation. Summarize in 2-4 sentences what the customer wants and what has
happened so far. Respond with JSON only:
{"summary":"...","escalation_reason":"...","original_question":"...","suggested_department":"...","key_facts":["..."]}
suggested_department is one of: billing, technical, account_security, general.`

type summaryResult struct {
	Summary             string   `json:"summary"`
	EscalationReason    string   `json:"escalation_reason"`
	OriginalQuestion    string   `json:"original_question"`
	SuggestedDepartment string   `json:"suggested_department"`
	KeyFacts            []string `json:"key_facts"`
}

// Summarizer implements orchestrator.Summarizer on the chat model.
type Summarizer struct {
	client *Client
}

// NewSummarizer creates a model-backed summarizer.
func NewSummarizer(client *Client) *Summarizer {
	return &Summarizer{client: client}
}

// Summarize implements orchestrator.Summarizer.
func (s *Summarizer) Summarize(ctx context.Context, transcript, reason, currentRequest string) (orchestrator.Summary, error) {
	user := fmt.Sprintf("Escalation reason: %s\nCurrent request: %s\n\nTranscript:\n%s",
		reason, currentRequest, transcript)

	msg, err := s.client.chat(ctx, []openaigo.ChatCompletionMessageParamUnion{
		openaigo.SystemMessage(summarizerSystem),
		openaigo.UserMessage(user),
	}, nil)
	if err != nil {
		return orchestrator.Summary{}, err
	}

	var parsed summaryResult
	if err := json.Unmarshal([]byte(extractJSONFromText(msg.Content)), &parsed); err != nil {
		return orchestrator.Summary{}, fmt.Errorf("summarizer returned invalid json: %w", err)
	}
	return orchestrator.Summary{
		Summary:             parsed.Summary,
		EscalationReason:    parsed.EscalationReason,
		OriginalQuestion:    parsed.OriginalQuestion,
		SuggestedDepartment: parsed.SuggestedDepartment,
		KeyFacts:            parsed.KeyFacts,
	}, nil
}
