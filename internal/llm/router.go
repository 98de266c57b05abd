package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openaigo "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/shared"

	"github.com/careline/concierge/internal/domain"
	"github.com/careline/concierge/internal/verify"
)

const routerSystem = `You are the routing layer of an identity-verification flow.
Map the user's message to exactly one tool call, or answer with the word "none"
if the message contains neither an identifier nor a challenge answer.
Before a candidate account exists only lookup_identity makes sense; afterwards
only verify_factor does.`

var routerTools = []openaigo.ChatCompletionToolUnionParam{
	openaigo.ChatCompletionFunctionTool(shared.FunctionDefinitionParam{
		Name:        "lookup_identity",
		Description: param.NewOpt("Resolve a candidate account from a phone number, email address, or account number found in the message."),
		Strict:      param.NewOpt(true),
		Parameters: shared.FunctionParameters{
			"type": "object",
			"properties": map[string]any{
				"identifier": map[string]any{"type": "string", "description": "The phone number, email, or account number, verbatim."},
			},
			"required":             []string{"identifier"},
			"additionalProperties": false,
		},
	}),
	openaigo.ChatCompletionFunctionTool(shared.FunctionDefinitionParam{
		Name:        "verify_factor",
		Description: param.NewOpt("Check the user's answer to the current identity challenge."),
		Strict:      param.NewOpt(true),
		Parameters: shared.FunctionParameters{
			"type": "object",
			"properties": map[string]any{
				"factor_type": map[string]any{"type": "string", "enum": []string{verify.FactorSSN, verify.FactorDOB}},
				"answer":      map[string]any{"type": "string", "description": "The user's answer, verbatim."},
			},
			"required":             []string{"factor_type", "answer"},
			"additionalProperties": false,
		},
	}),
}

// Router implements verify.Router by letting the model pick the tool call.
type Router struct {
	client *Client
}

// NewRouter creates a model-backed verification router.
func NewRouter(client *Client) *Router {
	return &Router{client: client}
}

// Route implements verify.Router. A message the model maps to no tool comes
// back as ToolUnknown, which the engine treats as no progress.
func (r *Router) Route(ctx context.Context, stage domain.VerificationStage, text string) (verify.ToolCall, error) {
	msg, err := r.client.chat(ctx, []openaigo.ChatCompletionMessageParamUnion{
		openaigo.SystemMessage(routerSystem),
		openaigo.SystemMessage(fmt.Sprintf("Current stage: %s", stage)),
		openaigo.UserMessage(text),
	}, routerTools)
	if err != nil {
		return verify.ToolCall{}, err
	}
	if len(msg.ToolCalls) == 0 {
		return verify.ToolCall{Kind: verify.ToolUnknown}, nil
	}

	tc := msg.ToolCalls[0]
	if strings.TrimSpace(tc.Type) != "function" {
		return verify.ToolCall{Kind: verify.ToolUnknown}, nil
	}
	call := tc.AsFunction()
	var args map[string]any
	_ = json.Unmarshal([]byte(call.Function.Arguments), &args)

	switch strings.TrimSpace(call.Function.Name) {
	case "lookup_identity":
		identifier, _ := args["identifier"].(string)
		return verify.ToolCall{Kind: verify.ToolLookup, Identifier: strings.TrimSpace(identifier)}, nil
	case "verify_factor":
		factorType, _ := args["factor_type"].(string)
		answer, _ := args["answer"].(string)
		return verify.ToolCall{
			Kind:       verify.ToolVerifyFactor,
			FactorType: strings.TrimSpace(factorType),
			Answer:     strings.TrimSpace(answer),
		}, nil
	default:
		return verify.ToolCall{Kind: verify.ToolUnknown}, nil
	}
}
