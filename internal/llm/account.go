package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	openaigo "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/shared"

	"github.com/careline/concierge/internal/directory"
	"github.com/careline/concierge/internal/domain"
	"github.com/careline/concierge/internal/orchestrator"
)

const (
	maxAccountToolCalls = 5
	pendingBatchMaxAge  = 15 * time.Minute

	escalatePrefix = "ESCALATE:"
)

const accountSystemTemplate = `You are an account assistant for a verified customer.
Customer: %s (id %s). Use the tools to read and change account data; never
invent numbers. Tools that move money or change records require the
customer's confirmation, which the platform collects for you.
If the request cannot be fulfilled with the available tools, reply starting
with "ESCALATE:" followed by a short reason. Otherwise reply in plain,
friendly text.`

// sensitiveTools require explicit user approval before execution.
var sensitiveTools = map[string]bool{
	"submit_payment":      true,
	"update_contact_info": true,
}

var accountTools = []openaigo.ChatCompletionToolUnionParam{
	openaigo.ChatCompletionFunctionTool(shared.FunctionDefinitionParam{
		Name:        "get_balance",
		Description: param.NewOpt("Get the customer's current account balance."),
		Strict:      param.NewOpt(true),
		Parameters: shared.FunctionParameters{
			"type":                 "object",
			"properties":           map[string]any{},
			"additionalProperties": false,
		},
	}),
	openaigo.ChatCompletionFunctionTool(shared.FunctionDefinitionParam{
		Name:        "list_transactions",
		Description: param.NewOpt("List the most recent transactions on the account."),
		Strict:      param.NewOpt(true),
		Parameters: shared.FunctionParameters{
			"type": "object",
			"properties": map[string]any{
				"limit": map[string]any{"type": "integer", "description": "Maximum entries to return.", "minimum": 1, "maximum": 50},
			},
			"required":             []string{"limit"},
			"additionalProperties": false,
		},
	}),
	openaigo.ChatCompletionFunctionTool(shared.FunctionDefinitionParam{
		Name:        "submit_payment",
		Description: param.NewOpt("Submit a payment from the customer's account. Requires customer confirmation."),
		Strict:      param.NewOpt(true),
		Parameters: shared.FunctionParameters{
			"type": "object",
			"properties": map[string]any{
				"amount": map[string]any{"type": "number", "description": "Payment amount in dollars."},
				"memo":   map[string]any{"type": "string", "description": "What the payment is for."},
			},
			"required":             []string{"amount", "memo"},
			"additionalProperties": false,
		},
	}),
	openaigo.ChatCompletionFunctionTool(shared.FunctionDefinitionParam{
		Name:        "update_contact_info",
		Description: param.NewOpt("Change the phone or email on file. Requires customer confirmation."),
		Strict:      param.NewOpt(true),
		Parameters: shared.FunctionParameters{
			"type": "object",
			"properties": map[string]any{
				"field": map[string]any{"type": "string", "enum": []string{"phone", "email"}},
				"value": map[string]any{"type": "string", "description": "The new contact value."},
			},
			"required":             []string{"field", "value"},
			"additionalProperties": false,
		},
	}),
}

type toolCallInfo struct {
	callID   string
	toolName string
	args     map[string]any
}

// approvalBatch is the suspended model conversation behind one assistant
// turn that requested sensitive actions. It resumes once every call in the
// batch has a decision.
type approvalBatch struct {
	customerID string
	messages   []openaigo.ChatCompletionMessageParamUnion
	order      []int64
	calls      map[int64]toolCallInfo
	createdAt  time.Time
}

func (b *approvalBatch) requests() []domain.ApprovalRequest {
	out := make([]domain.ApprovalRequest, 0, len(b.calls))
	for _, id := range b.order {
		if info, ok := b.calls[id]; ok {
			out = append(out, domain.ApprovalRequest{
				RequestID: id,
				ToolName:  info.toolName,
				Arguments: info.args,
			})
		}
	}
	return out
}

// AccountResponder implements orchestrator.AccountResponder: a tool-calling
// model over the customer directory, with sensitive calls intercepted into
// the approval protocol instead of executed.
type AccountResponder struct {
	client *Client
	book   *directory.Book

	nextRequestID atomic.Int64
	mu            sync.Mutex
	pending       map[int64]*approvalBatch
}

// NewAccountResponder creates the responder over the given directory.
func NewAccountResponder(client *Client, book *directory.Book) *AccountResponder {
	return &AccountResponder{
		client:  client,
		book:    book,
		pending: make(map[int64]*approvalBatch),
	}
}

// Answer implements orchestrator.AccountResponder.
func (r *AccountResponder) Answer(ctx context.Context, sub *domain.AccountSubSession, text string) (orchestrator.AccountAnswer, error) {
	if sub == nil {
		return orchestrator.AccountAnswer{}, errors.New("account responder requires an authenticated sub-session")
	}
	r.pruneStale(time.Now())

	messages := []openaigo.ChatCompletionMessageParamUnion{
		openaigo.SystemMessage(fmt.Sprintf(accountSystemTemplate, sub.CustomerName, sub.CustomerID)),
		openaigo.UserMessage(text),
	}
	return r.runLoop(ctx, sub.CustomerID, messages)
}

// SubmitApproval implements orchestrator.AccountResponder. The decision is
// fed back as the tool result for the suspended call; once the batch is
// fully decided the model conversation resumes.
func (r *AccountResponder) SubmitApproval(ctx context.Context, sub *domain.AccountSubSession, requestID int64, approved bool) (orchestrator.AccountAnswer, error) {
	r.mu.Lock()
	batch, ok := r.pending[requestID]
	if ok {
		delete(r.pending, requestID)
	}
	r.mu.Unlock()
	if !ok {
		return orchestrator.AccountAnswer{}, fmt.Errorf("unknown approval request id %d", requestID)
	}
	info := batch.calls[requestID]
	delete(batch.calls, requestID)

	var payload any
	if approved {
		result, err := r.execute(batch.customerID, info.toolName, info.args)
		if err != nil {
			if errors.Is(err, directory.ErrInactive) {
				return orchestrator.AccountAnswer{}, fmt.Errorf("executing %s: %w", info.toolName, orchestrator.ErrAccessInvalidated)
			}
			payload = map[string]any{"error": err.Error()}
		} else {
			payload = result
		}
	} else {
		payload = map[string]any{"status": "denied", "note": "the customer declined this action"}
	}
	b, _ := json.Marshal(payload)
	batch.messages = append(batch.messages, openaigo.ToolMessage(string(b), info.callID))

	if len(batch.calls) > 0 {
		// More calls in the same batch still await decisions.
		return orchestrator.AccountAnswer{PendingApprovals: batch.requests()}, nil
	}
	return r.runLoop(ctx, batch.customerID, batch.messages)
}

func (r *AccountResponder) runLoop(ctx context.Context, customerID string, messages []openaigo.ChatCompletionMessageParamUnion) (orchestrator.AccountAnswer, error) {
	for i := 0; i < maxAccountToolCalls; i++ {
		msg, err := r.client.chat(ctx, messages, accountTools)
		if err != nil {
			return orchestrator.AccountAnswer{}, err
		}

		if len(msg.ToolCalls) == 0 {
			return finalAnswer(msg.Content), nil
		}
		messages = append(messages, msg.ToParam())

		var batch *approvalBatch
		for _, tc := range msg.ToolCalls {
			if strings.TrimSpace(tc.Type) != "function" {
				b, _ := json.Marshal(map[string]any{"error": "unsupported tool call type"})
				messages = append(messages, openaigo.ToolMessage(string(b), tc.ID))
				continue
			}
			call := tc.AsFunction()
			toolName := strings.TrimSpace(call.Function.Name)
			var args map[string]any
			_ = json.Unmarshal([]byte(call.Function.Arguments), &args)
			if args == nil {
				args = map[string]any{}
			}

			if sensitiveTools[toolName] {
				if batch == nil {
					batch = &approvalBatch{
						customerID: customerID,
						calls:      make(map[int64]toolCallInfo),
						createdAt:  time.Now(),
					}
				}
				id := r.nextRequestID.Add(1)
				batch.order = append(batch.order, id)
				batch.calls[id] = toolCallInfo{callID: tc.ID, toolName: toolName, args: args}
				continue
			}

			payload, err := r.execute(customerID, toolName, args)
			if errors.Is(err, directory.ErrInactive) {
				return orchestrator.AccountAnswer{}, fmt.Errorf("executing %s: %w", toolName, orchestrator.ErrAccessInvalidated)
			}
			if err != nil {
				payload = map[string]any{"error": err.Error()}
			}
			b, _ := json.Marshal(payload)
			messages = append(messages, openaigo.ToolMessage(string(b), tc.ID))
		}

		if batch != nil {
			batch.messages = messages
			r.mu.Lock()
			for _, id := range batch.order {
				r.pending[id] = batch
			}
			r.mu.Unlock()
			return orchestrator.AccountAnswer{PendingApprovals: batch.requests()}, nil
		}
	}
	return orchestrator.AccountAnswer{}, errors.New("account tool loop exceeded")
}

func (r *AccountResponder) execute(customerID, toolName string, args map[string]any) (any, error) {
	switch toolName {
	case "get_balance":
		balance, err := r.book.Balance(customerID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"balance": balance}, nil

	case "list_transactions":
		limit := 10
		if v, ok := args["limit"].(float64); ok && v > 0 {
			limit = int(v)
		}
		txs, err := r.book.Transactions(customerID, limit)
		if err != nil {
			return nil, err
		}
		return map[string]any{"transactions": txs}, nil

	case "submit_payment":
		amount, _ := args["amount"].(float64)
		memo, _ := args["memo"].(string)
		tx, err := r.book.SubmitPayment(customerID, amount, memo)
		if err != nil {
			return nil, err
		}
		balance, err := r.book.Balance(customerID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"status": "ok", "transaction": tx, "new_balance": balance}, nil

	case "update_contact_info":
		field, _ := args["field"].(string)
		value, _ := args["value"].(string)
		if err := r.book.UpdateContact(customerID, field, value); err != nil {
			return nil, err
		}
		return map[string]any{"status": "ok", "field": field, "value": value}, nil

	default:
		return nil, fmt.Errorf("unknown tool %q", toolName)
	}
}

// pruneStale drops approval batches nobody ever decided on.
func (r *AccountResponder) pruneStale(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, batch := range r.pending {
		if now.Sub(batch.createdAt) > pendingBatchMaxAge {
			delete(r.pending, id)
		}
	}
}

func finalAnswer(content string) orchestrator.AccountAnswer {
	text := strings.TrimSpace(content)
	if rest, ok := strings.CutPrefix(text, escalatePrefix); ok {
		return orchestrator.AccountAnswer{Text: strings.TrimSpace(rest), Resolved: false}
	}
	return orchestrator.AccountAnswer{Text: text, Resolved: text != ""}
}
