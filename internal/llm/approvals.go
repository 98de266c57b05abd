package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openaigo "github.com/openai/openai-go/v3"
)

const approvalSystem = `A customer was asked to confirm a sensitive account action. Decide whether
their reply is an unambiguous approval. Anything hesitant, conditional,
off-topic, or unclear is NOT an approval.
Respond with JSON only: {"approved":false,"reasoning":"..."}`

type approvalVerdict struct {
	Approved  bool   `json:"approved"`
	Reasoning string `json:"reasoning"`
}

// ApprovalInterpreter turns a free-text reply to a confirmation prompt into
// an approve/deny decision. Only an unambiguous affirmative approves.
type ApprovalInterpreter struct {
	client *Client
}

// NewApprovalInterpreter creates a model-backed interpreter.
func NewApprovalInterpreter(client *Client) *ApprovalInterpreter {
	return &ApprovalInterpreter{client: client}
}

// Interpret classifies the reply. Errors are the caller's to handle; by
// contract they must resolve to denial.
func (a *ApprovalInterpreter) Interpret(ctx context.Context, prompt, reply string) (bool, error) {
	if strings.TrimSpace(reply) == "" {
		return false, nil
	}
	user := fmt.Sprintf("Confirmation prompt: %s\nCustomer reply: %s", prompt, reply)
	msg, err := a.client.chat(ctx, []openaigo.ChatCompletionMessageParamUnion{
		openaigo.SystemMessage(approvalSystem),
		openaigo.UserMessage(user),
	}, nil)
	if err != nil {
		return false, err
	}
	var parsed approvalVerdict
	if err := json.Unmarshal([]byte(extractJSONFromText(msg.Content)), &parsed); err != nil {
		return false, fmt.Errorf("approval interpreter returned invalid json: %w", err)
	}
	return parsed.Approved, nil
}
