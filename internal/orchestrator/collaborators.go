package orchestrator

import (
	"context"
	"errors"

	"github.com/careline/concierge/internal/domain"
)

// ErrAccessInvalidated is returned by an account responder when the
// authenticated sub-session went stale mid-conversation. The orchestrator
// recovers by forcing re-authentication.
var ErrAccessInvalidated = errors.New("account access invalidated")

// Classification is the intent classifier's verdict for one message.
type Classification struct {
	Category          domain.Category
	Confidence        float64
	RequiresAuth      bool
	MatchedQuestionID string
	Reasoning         string
}

// IntentClassifier maps free text to a category. A parse failure is an
// error; the orchestrator recovers it as a "please rephrase" turn.
type IntentClassifier interface {
	Classify(ctx context.Context, text string) (Classification, error)
}

// Answer is a responder's reply plus whether it considers the question
// resolved.
type Answer struct {
	Text     string
	Resolved bool
}

// FAQResponder answers general-knowledge questions from the knowledge base.
type FAQResponder interface {
	Answer(ctx context.Context, text string, history []domain.Message) (Answer, error)
}

// AccountAnswer is an account responder's reply. PendingApprovals lists
// sensitive tool invocations awaiting user confirmation; the answer is not
// final until the list is empty.
type AccountAnswer struct {
	Text             string
	Resolved         bool
	PendingApprovals []domain.ApprovalRequest
}

// AccountResponder answers account-specific questions inside an
// authenticated sub-session. Answer may fail with ErrAccessInvalidated.
// SubmitApproval feeds an approve/deny decision back, keyed by the request's
// correlation id, and yields the next response.
type AccountResponder interface {
	Answer(ctx context.Context, sub *domain.AccountSubSession, text string) (AccountAnswer, error)
	SubmitApproval(ctx context.Context, sub *domain.AccountSubSession, requestID int64, approved bool) (AccountAnswer, error)
}

// Summary is the summarizer's escalation digest.
type Summary struct {
	Summary             string
	EscalationReason    string
	OriginalQuestion    string
	SuggestedDepartment string
	KeyFacts            []string
}

// Summarizer condenses a transcript for the human-agent handoff package.
type Summarizer interface {
	Summarize(ctx context.Context, transcript, reason, currentRequest string) (Summary, error)
}

// ApprovalHandler obtains a confirm/deny decision from the user for one
// sensitive action. Interpretation of natural language is the handler's
// concern; ambiguous or empty input must resolve to denial.
type ApprovalHandler interface {
	RequestApproval(ctx context.Context, prompt string) (bool, error)
}

// ApprovalHandlerFunc adapts a function to the ApprovalHandler interface.
type ApprovalHandlerFunc func(ctx context.Context, prompt string) (bool, error)

// RequestApproval implements ApprovalHandler.
func (f ApprovalHandlerFunc) RequestApproval(ctx context.Context, prompt string) (bool, error) {
	return f(ctx, prompt)
}

// HandoffSink receives handoff packages on escalation. Emission is
// fire-and-forget: implementations must not block the conversational turn,
// and failures are theirs to log.
type HandoffSink interface {
	Emit(pkg *domain.HandoffPackage)
}
