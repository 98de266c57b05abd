package llm

import (
	"context"
	"encoding/json"
	"fmt"

	openaigo "github.com/openai/openai-go/v3"

	"github.com/careline/concierge/internal/domain"
	"github.com/careline/concierge/internal/orchestrator"
)

const classifierSystem = `You classify customer-support messages into exactly one category:
- general_question: answerable from the public knowledge base, no account access needed
- account_question: needs data specific to the customer's account (balance, bills, payments, contact info)
- human_request: the user explicitly asks for a person, or the request is too complex for a bot
- out_of_scope: unrelated to our products and services

Respond with JSON only:
{"category":"...","confidence":0.0,"requires_auth":false,"matched_question_id":"","reasoning":"..."}
confidence is your certainty in [0,1]. requires_auth is true for account_question.
matched_question_id names the knowledge-base entry when one clearly applies, else empty.`

type classification struct {
	Category          string  `json:"category"`
	Confidence        float64 `json:"confidence"`
	RequiresAuth      bool    `json:"requires_auth"`
	MatchedQuestionID string  `json:"matched_question_id"`
	Reasoning         string  `json:"reasoning"`
}

// Classifier implements orchestrator.IntentClassifier on the chat model.
type Classifier struct {
	client *Client
}

// NewClassifier creates a model-backed classifier.
func NewClassifier(client *Client) *Classifier {
	return &Classifier{client: client}
}

// Classify implements orchestrator.IntentClassifier. Unparseable or invalid
// model output is an error; the caller owns the recovery.
func (c *Classifier) Classify(ctx context.Context, text string) (orchestrator.Classification, error) {
	msg, err := c.client.chat(ctx, []openaigo.ChatCompletionMessageParamUnion{
		openaigo.SystemMessage(classifierSystem),
		openaigo.UserMessage(text),
	}, nil)
	if err != nil {
		return orchestrator.Classification{}, err
	}
	return parseClassification(msg.Content)
}

func parseClassification(raw string) (orchestrator.Classification, error) {
	var parsed classification
	if err := json.Unmarshal([]byte(extractJSONFromText(raw)), &parsed); err != nil {
		return orchestrator.Classification{}, fmt.Errorf("classifier returned invalid json: %w (raw=%s)", err, raw)
	}
	category, err := parseCategory(parsed.Category)
	if err != nil {
		return orchestrator.Classification{}, err
	}
	if parsed.Confidence < 0 || parsed.Confidence > 1 {
		return orchestrator.Classification{}, fmt.Errorf("classifier confidence out of range: %v", parsed.Confidence)
	}
	return orchestrator.Classification{
		Category:          category,
		Confidence:        parsed.Confidence,
		RequiresAuth:      parsed.RequiresAuth,
		MatchedQuestionID: parsed.MatchedQuestionID,
		Reasoning:         parsed.Reasoning,
	}, nil
}

func parseCategory(s string) (domain.Category, error) {
	switch domain.Category(s) {
	case domain.CategoryGeneral, domain.CategoryAccount, domain.CategoryHuman, domain.CategoryOutOfScope:
		return domain.Category(s), nil
	default:
		return "", fmt.Errorf("classifier returned unknown category %q", s)
	}
}
