package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/careline/concierge/internal/domain"
)

// approvalPrompts renders tool-specific confirmation questions. Tools not
// listed here fall back to a generic "Proceed with <tool>?" prompt so a new
// sensitive tool is never auto-approved by omission.
var approvalPrompts = map[string]func(args map[string]any) string{
	"submit_payment": func(args map[string]any) string {
		return fmt.Sprintf("You're about to submit a payment of $%v from account %v. Should I go ahead?",
			args["amount"], args["account_id"])
	},
	"update_contact_info": func(args map[string]any) string {
		return fmt.Sprintf("You're about to change the %v on file to %v. Should I go ahead?",
			args["field"], args["value"])
	},
	"close_account": func(args map[string]any) string {
		return fmt.Sprintf("You're about to close account %v. This cannot be undone. Should I go ahead?",
			args["account_id"])
	},
}

func approvalPrompt(req domain.ApprovalRequest) string {
	if render, ok := approvalPrompts[req.ToolName]; ok {
		return render(req.Arguments)
	}
	return fmt.Sprintf("Proceed with %s?", req.ToolName)
}

// runApprovalLoop drives the sensitive-action micro-protocol: for every
// pending approval the user is asked, the decision is fed back by request id,
// and the responder continues. Denial is the default on any failure or
// ambiguity. The loop is capped; exceeding the cap returns
// ErrApprovalLoopExceeded.
func (o *Orchestrator) runApprovalLoop(ctx context.Context, sub *domain.AccountSubSession, ans AccountAnswer) (AccountAnswer, error) {
	for iter := 0; len(ans.PendingApprovals) > 0; iter++ {
		if iter >= o.opts.MaxApprovalIterations {
			return AccountAnswer{}, ErrApprovalLoopExceeded
		}
		req := ans.PendingApprovals[0]

		approved, err := o.collab.Approvals.RequestApproval(ctx, approvalPrompt(req))
		if err != nil {
			// Deny, never retry: an unreadable answer must not authorize a
			// sensitive action.
			slog.Warn("approval decision unreadable, denying",
				"tool", req.ToolName, "request_id", req.RequestID, "error", err)
			approved = false
		}

		slog.Info("approval decision",
			"tool", req.ToolName, "request_id", req.RequestID, "approved", approved)

		next, err := o.collab.Account.SubmitApproval(ctx, sub, req.RequestID, approved)
		if err != nil {
			return AccountAnswer{}, fmt.Errorf("submitting approval decision for %s: %w", req.ToolName, err)
		}
		ans = next
	}
	return ans, nil
}
