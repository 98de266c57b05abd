// Package verify implements the identity-verification state machine:
// candidate lookup, challenge/response with a bounded attempt budget, and
// permanent lockout once the budget is exhausted.
package verify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/careline/concierge/internal/domain"
)

// Challenge factor types exposed by the directory.
const (
	FactorSSN = "SSN"
	FactorDOB = "DOB"
)

// factorOrder is the order challenges are posed in.
var factorOrder = []string{FactorSSN, FactorDOB}

// NextAction tells the orchestrator what to surface to the user without it
// needing to know verification internals.
type NextAction string

const (
	ActionAskNextFactor NextAction = "ask_next_factor"
	ActionComplete      NextAction = "complete"
	ActionRetry         NextAction = "retry"
	ActionLockedOut     NextAction = "locked_out"
	ActionNotFound      NextAction = "not_found"
	ActionError         NextAction = "error"
)

// StepResult is the structured outcome of one verification transition.
type StepResult struct {
	Verified          bool
	RemainingAttempts int
	NextAction        NextAction
	Message           string
}

// ToolKind identifies which verification tool the routing layer selected for
// a user message.
type ToolKind string

const (
	// ToolLookup resolves a candidate record from an identifier.
	ToolLookup ToolKind = "lookup_identity"
	// ToolVerifyFactor checks a challenge answer against the candidate.
	ToolVerifyFactor ToolKind = "verify_factor"
	// ToolUnknown means the router could not resolve a tool. Treated as no
	// progress: the attempt budget is reserved for wrong answers.
	ToolUnknown ToolKind = "unknown"
)

// ToolCall is the routing layer's decision for one user message.
type ToolCall struct {
	Kind       ToolKind
	Identifier string
	FactorType string
	Answer     string
}

// LookupResult is the outcome of resolving an identifier to a customer
// record.
type LookupResult struct {
	Found        bool
	CustomerID   string
	CustomerName string
}

// Directory resolves identities and checks challenge answers against the
// customer system of record.
type Directory interface {
	Lookup(ctx context.Context, identifier string) (LookupResult, error)
	VerifyFactor(ctx context.Context, identifier, factorType, answer string) (bool, error)
}

// Router maps free user text to a verification tool call. Production
// implementations delegate tool selection to a model.
type Router interface {
	Route(ctx context.Context, stage domain.VerificationStage, text string) (ToolCall, error)
}

// RouterFunc adapts a function to the Router interface.
type RouterFunc func(ctx context.Context, stage domain.VerificationStage, text string) (ToolCall, error)

// Route implements Router.
func (f RouterFunc) Route(ctx context.Context, stage domain.VerificationStage, text string) (ToolCall, error) {
	return f(ctx, stage, text)
}

// CompletionPolicy decides whether the verified factors suffice to
// authenticate. The default accepts a single factor, matching the behavior
// this engine replaces; deployments wanting stronger guarantees supply their
// own.
type CompletionPolicy func(verifiedFactors []string) bool

// SingleFactor authenticates as soon as any one challenge is satisfied.
func SingleFactor(verifiedFactors []string) bool {
	return len(verifiedFactors) >= 1
}

// Engine drives verification transitions on a VerificationState.
type Engine struct {
	directory Directory
	router    Router
	complete  CompletionPolicy
}

// NewEngine creates a verification engine. A nil policy defaults to
// SingleFactor.
func NewEngine(directory Directory, router Router, policy CompletionPolicy) *Engine {
	if policy == nil {
		policy = SingleFactor
	}
	return &Engine{directory: directory, router: router, complete: policy}
}

// Begin returns the opening prompt for a fresh verification sub-flow.
func (e *Engine) Begin() StepResult {
	return StepResult{
		RemainingAttempts: domain.MaxVerificationAttempts,
		NextAction:        ActionAskNextFactor,
		Message:           "To access account details I first need to verify your identity. What phone number, email, or account number is on file?",
	}
}

// Step applies one user message to the state machine and returns what to
// surface. All transitions keep the invariant
// failedAttempts >= MaxAttempts ⇒ stage == LockedOut.
func (e *Engine) Step(ctx context.Context, st *domain.VerificationState, text string) StepResult {
	// Lockout is permanent and idempotent: no input changes the state or
	// decrements the counter.
	if st.Stage == domain.StageLockedOut || st.FailedAttempts >= domain.MaxVerificationAttempts {
		st.Stage = domain.StageLockedOut
		return e.lockedOut()
	}
	if st.Stage == domain.StageAuthenticated {
		return StepResult{
			Verified:          true,
			RemainingAttempts: st.RemainingAttempts(),
			NextAction:        ActionComplete,
			Message:           fmt.Sprintf("You're already verified, %s.", st.ResolvedCustomerName),
		}
	}

	call, err := e.router.Route(ctx, st.Stage, text)
	if err != nil {
		slog.Warn("verification tool routing failed", "stage", st.Stage, "error", err)
		call = ToolCall{Kind: ToolUnknown}
	}

	switch call.Kind {
	case ToolLookup:
		return e.stepLookup(ctx, st, call.Identifier)
	case ToolVerifyFactor:
		return e.stepVerifyFactor(ctx, st, call.FactorType, call.Answer)
	default:
		// No progress: stay in the current state, do not touch the budget.
		return e.noProgress(st)
	}
}

func (e *Engine) stepLookup(ctx context.Context, st *domain.VerificationState, identifier string) StepResult {
	if st.Stage == domain.StageVerifying {
		// candidateIdentifier is immutable once set; a second lookup is
		// misuse, not progress.
		return StepResult{
			RemainingAttempts: st.RemainingAttempts(),
			NextAction:        ActionError,
			Message:           "I already found your account. " + e.factorPrompt(st),
		}
	}

	res, err := e.directory.Lookup(ctx, identifier)
	if err != nil {
		slog.Error("identity lookup failed", "error", err)
		return e.noProgress(st)
	}
	if !res.Found {
		// Failed lookups do not count toward the attempt budget.
		return StepResult{
			RemainingAttempts: st.RemainingAttempts(),
			NextAction:        ActionNotFound,
			Message:           fmt.Sprintf("I couldn't find an account matching %q. Please double-check the phone number, email, or account number.", identifier),
		}
	}

	st.Stage = domain.StageVerifying
	st.CandidateIdentifier = identifier
	st.ResolvedCustomerID = res.CustomerID
	st.ResolvedCustomerName = res.CustomerName
	return StepResult{
		RemainingAttempts: st.RemainingAttempts(),
		NextAction:        ActionAskNextFactor,
		Message:           "Found your account. " + e.factorPrompt(st),
	}
}

func (e *Engine) stepVerifyFactor(ctx context.Context, st *domain.VerificationState, factorType, answer string) StepResult {
	if st.Stage != domain.StageVerifying {
		// Answering before a lookup is misuse, surfaced as a structured
		// error; the orchestrator shows a generic retry prompt.
		return StepResult{
			RemainingAttempts: st.RemainingAttempts(),
			NextAction:        ActionError,
			Message:           "I need to find your account first. What phone number, email, or account number is on file?",
		}
	}
	if factorType == "" {
		factorType = e.nextFactor(st)
	}

	correct, err := e.directory.VerifyFactor(ctx, st.CandidateIdentifier, factorType, answer)
	if err != nil {
		slog.Error("factor verification failed", "factor", factorType, "error", err)
		return e.noProgress(st)
	}

	if !correct {
		st.FailedAttempts++
		// Lockout happens atomically in the same transition; there is no
		// intermediate state with the count at max and the stage still
		// verifying.
		if st.FailedAttempts >= domain.MaxVerificationAttempts {
			st.Stage = domain.StageLockedOut
			return e.lockedOut()
		}
		return StepResult{
			RemainingAttempts: st.RemainingAttempts(),
			NextAction:        ActionRetry,
			Message:           fmt.Sprintf("That doesn't match our records. You have %d attempt(s) left.", st.RemainingAttempts()),
		}
	}

	st.AddFactor(factorType)
	if e.complete(st.VerifiedFactors) {
		st.Stage = domain.StageAuthenticated
		st.AuthenticatedAt = time.Now()
		return StepResult{
			Verified:          true,
			RemainingAttempts: st.RemainingAttempts(),
			NextAction:        ActionComplete,
			Message:           fmt.Sprintf("Thanks %s, your identity is verified.", st.ResolvedCustomerName),
		}
	}
	return StepResult{
		RemainingAttempts: st.RemainingAttempts(),
		NextAction:        ActionAskNextFactor,
		Message:           "Correct. " + e.factorPrompt(st),
	}
}

func (e *Engine) noProgress(st *domain.VerificationState) StepResult {
	msg := "I didn't catch that. What phone number, email, or account number is on file?"
	if st.Stage == domain.StageVerifying {
		msg = "I didn't catch that. " + e.factorPrompt(st)
	}
	return StepResult{
		RemainingAttempts: st.RemainingAttempts(),
		NextAction:        ActionError,
		Message:           msg,
	}
}

func (e *Engine) lockedOut() StepResult {
	return StepResult{
		RemainingAttempts: 0,
		NextAction:        ActionLockedOut,
		Message:           "Too many failed verification attempts. For security, this conversation can no longer access account details.",
	}
}

// nextFactor returns the first challenge type not yet satisfied.
func (e *Engine) nextFactor(st *domain.VerificationState) string {
	for _, f := range factorOrder {
		if !st.HasFactor(f) {
			return f
		}
	}
	return factorOrder[0]
}

func (e *Engine) factorPrompt(st *domain.VerificationState) string {
	switch e.nextFactor(st) {
	case FactorDOB:
		return "What is your date of birth (YYYY-MM-DD)?"
	default:
		return "What are the last four digits of your Social Security number?"
	}
}
