package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openaigo "github.com/openai/openai-go/v3"

	"github.com/careline/concierge/internal/domain"
	"github.com/careline/concierge/internal/orchestrator"
)

const faqSystemTemplate = `You answer customer questions strictly from the knowledge base below.
If the knowledge base does not cover the question, set resolved to false and
leave the answer empty; never guess or improvise facts.

Knowledge base:
%s

Respond with JSON only: {"answer":"...","resolved":true}`

// DefaultKnowledgeBase is the built-in article set used when no external one
// is configured.
var DefaultKnowledgeBase = []string{
	"Shipping: we ship to the US, Canada, and the EU. Standard delivery takes 3-5 business days.",
	"Returns: items can be returned within 30 days of delivery for a full refund.",
	"Billing cycle: plans renew monthly on the signup anniversary date.",
	"Support hours: human agents are available Monday through Friday, 9am-6pm ET.",
	"Payment methods: we accept major credit cards and ACH bank transfers.",
}

type faqAnswer struct {
	Answer   string `json:"answer"`
	Resolved bool   `json:"resolved"`
}

// FAQResponder implements orchestrator.FAQResponder on the chat model.
type FAQResponder struct {
	client *Client
	system string
}

// NewFAQResponder creates a responder over the given knowledge-base
// articles. Nil articles fall back to DefaultKnowledgeBase.
func NewFAQResponder(client *Client, articles []string) *FAQResponder {
	if len(articles) == 0 {
		articles = DefaultKnowledgeBase
	}
	var b strings.Builder
	for _, a := range articles {
		b.WriteString("- ")
		b.WriteString(a)
		b.WriteString("\n")
	}
	return &FAQResponder{
		client: client,
		system: fmt.Sprintf(faqSystemTemplate, b.String()),
	}
}

// Answer implements orchestrator.FAQResponder. Recent history is included so
// follow-up questions resolve their referents.
func (f *FAQResponder) Answer(ctx context.Context, text string, history []domain.Message) (orchestrator.Answer, error) {
	messages := make([]openaigo.ChatCompletionMessageParamUnion, 0, len(history)+2)
	messages = append(messages, openaigo.SystemMessage(f.system))
	for _, m := range tailMessages(history, 10) {
		switch m.Role {
		case domain.RoleAssistant:
			messages = append(messages, openaigo.AssistantMessage(m.Content))
		default:
			messages = append(messages, openaigo.UserMessage(m.Content))
		}
	}
	messages = append(messages, openaigo.UserMessage(text))

	msg, err := f.client.chat(ctx, messages, nil)
	if err != nil {
		return orchestrator.Answer{}, err
	}

	var parsed faqAnswer
	if err := json.Unmarshal([]byte(extractJSONFromText(msg.Content)), &parsed); err != nil {
		return orchestrator.Answer{}, fmt.Errorf("faq responder returned invalid json: %w", err)
	}
	if parsed.Resolved && strings.TrimSpace(parsed.Answer) == "" {
		return orchestrator.Answer{}, fmt.Errorf("faq responder resolved with empty answer")
	}
	return orchestrator.Answer{Text: parsed.Answer, Resolved: parsed.Resolved}, nil
}

func tailMessages(history []domain.Message, n int) []domain.Message {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}
